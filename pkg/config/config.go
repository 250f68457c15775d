package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/cache"
	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/policy"
	"github.com/openfroyo/healthgraph/pkg/server"
	"github.com/openfroyo/healthgraph/pkg/stores"
	"github.com/openfroyo/healthgraph/pkg/tasks"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides, e.g. HEALTHGRAPH_ENGINE_DEADLINE.
const EnvPrefix = "HEALTHGRAPH"

// DefaultFileName is the config file searched for when none is given.
const DefaultFileName = "healthgraph"

// Config is the application configuration.
type Config struct {
	Engine       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	Telemetry    telemetry.Config   `mapstructure:"telemetry" yaml:"telemetry"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Cache        cache.Config       `mapstructure:"cache" yaml:"cache"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities" yaml:"capabilities"`
	Policy       policy.Config      `mapstructure:"policy" yaml:"policy"`
	Server       server.Config      `mapstructure:"server" yaml:"server"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Retry        tasks.RetryPolicy  `mapstructure:"retry" yaml:"retry"`
}

// EngineConfig bounds runs and tunes the pipeline.
type EngineConfig struct {
	// Deadline bounds a whole run.
	Deadline time.Duration `mapstructure:"deadline" yaml:"deadline" validate:"gte=0"`

	// NodeTimeout bounds a node that sets no timeout of its own.
	NodeTimeout time.Duration `mapstructure:"node_timeout" yaml:"node_timeout" validate:"gte=0"`

	// TerminalGrace bounds the report compiler after the deadline.
	TerminalGrace time.Duration `mapstructure:"terminal_grace" yaml:"terminal_grace" validate:"gte=0"`

	advisor.Options `mapstructure:",squash" yaml:",inline"`
}

// StoreConfig configures run history.
type StoreConfig struct {
	// Enabled records every run.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	stores.Config `mapstructure:",squash" yaml:",inline"`
}

// CapabilitiesConfig locates the capability manifest.
type CapabilitiesConfig struct {
	// Manifest is the manifest path. Empty uses the built-in offline manifest.
	Manifest string `mapstructure:"manifest" yaml:"manifest"`
}

// RateLimitConfig bounds outbound task executions per second across a run.
// A zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Deadline:      60 * time.Second,
			NodeTimeout:   30 * time.Second,
			TerminalGrace: 5 * time.Second,
			Options: advisor.Options{
				MaxFindings:     2,
				MaxAlternatives: advisor.MaxAlternatives,
			},
		},
		Telemetry: *telemetry.DefaultConfig(),
		Store: StoreConfig{
			Enabled: true,
			Config: stores.Config{
				Path:        "healthgraph.db",
				ReportField: advisor.ReportKey.Name(),
				Retention:   30 * 24 * time.Hour,
			},
		},
		Cache: cache.DefaultConfig(),
		Policy: policy.Config{
			MinConfidence: policy.DefaultMinConfidence,
		},
		Server:    server.DefaultConfig(),
		RateLimit: RateLimitConfig{},
		Retry:     tasks.DefaultRetryPolicy(),
	}
}

// Load reads the configuration. Defaults are overlaid by the file at path
// (or healthgraph.yaml in the working directory or $HOME/.healthgraph when
// path is empty and such a file exists), then by HEALTHGRAPH_* environment
// variables. The result is validated.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper(path string) (*viper.Viper, error) {
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultFileName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.healthgraph")
	}

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

var validate = validator.New()

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// SchedulerConfig returns the engine configuration for a scheduler.
func (c *Config) SchedulerConfig(tel *telemetry.Telemetry, recorder engine.RunRecorder) engine.SchedulerConfig {
	return engine.SchedulerConfig{
		Deadline:      c.Engine.Deadline,
		NodeTimeout:   c.Engine.NodeTimeout,
		TerminalGrace: c.Engine.TerminalGrace,
		Telemetry:     tel,
		Recorder:      recorder,
	}
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
