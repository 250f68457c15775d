package capabilities

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/healthgraph/pkg/advisor"
)

var validate = validator.New()

// Role is what a capability does in the pipeline.
type Role string

const (
	RoleExtractor   Role = "extractor"
	RoleAnalyzer    Role = "analyzer"
	RoleRecommender Role = "recommender"
)

// Driver is how a capability is implemented.
type Driver string

const (
	// DriverSeed uses the ingredients supplied with the request.
	DriverSeed Driver = "seed"

	// DriverRules uses the built-in keyword rules.
	DriverRules Driver = "rules"

	// DriverScript runs a Starlark rules script.
	DriverScript Driver = "script"

	// DriverHTTP calls a remote JSON service.
	DriverHTTP Driver = "http"
)

// Capability describes one collaborator of the pipeline.
type Capability struct {
	// Name identifies the capability.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Role is extractor, analyzer or recommender.
	Role Role `yaml:"role" json:"role" validate:"required,oneof=extractor analyzer recommender"`

	// Driver is seed, rules, script or http.
	Driver Driver `yaml:"driver" json:"driver" validate:"required,oneof=seed rules script http"`

	// Kinds restricts an analyzer to some analysis kinds. Empty serves all.
	Kinds []advisor.AnalysisKind `yaml:"kinds,omitempty" json:"kinds,omitempty" validate:"dive,oneof=benefits disadvantages disease_associations"`

	// Endpoint is the base URL of an http capability.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`

	// Timeout bounds requests of an http capability or calls of a script.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`

	// Headers are sent with every request of an http capability.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Script is the path of a script capability.
	Script string `yaml:"script,omitempty" json:"script,omitempty"`

	// Cache caches an analyzer's results when a cache is configured.
	Cache bool `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// Manifest lists the capabilities available to the pipeline.
type Manifest struct {
	// Version is the manifest format version.
	Version string `yaml:"version" json:"version" validate:"required"`

	// Capabilities are the available collaborators.
	Capabilities []Capability `yaml:"capabilities" json:"capabilities" validate:"required,min=1,dive"`
}

// DefaultManifest serves every role offline: seed extraction plus the
// built-in rules.
func DefaultManifest() *Manifest {
	return &Manifest{
		Version: "1",
		Capabilities: []Capability{
			{Name: "seed-extractor", Role: RoleExtractor, Driver: DriverSeed},
			{Name: "rules-analyzer", Role: RoleAnalyzer, Driver: DriverRules},
			{Name: "rules-recommender", Role: RoleRecommender, Driver: DriverRules},
		},
	}
}

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Validate checks field constraints and that the capabilities fit together:
// unique names, at most one extractor and recommender, and at most one
// analyzer per kind.
func (m *Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		return err
	}

	names := map[string]bool{}
	roles := map[Role]string{}
	kinds := map[advisor.AnalysisKind]string{}
	for _, c := range m.Capabilities {
		if names[c.Name] {
			return fmt.Errorf("duplicate capability %s", c.Name)
		}
		names[c.Name] = true

		if c.Driver == DriverHTTP && c.Endpoint == "" {
			return fmt.Errorf("capability %s: driver http requires an endpoint", c.Name)
		}
		if c.Driver == DriverScript && c.Script == "" {
			return fmt.Errorf("capability %s: driver script requires a script path", c.Name)
		}

		switch c.Role {
		case RoleExtractor, RoleRecommender:
			if c.Driver == DriverSeed && c.Role != RoleExtractor {
				return fmt.Errorf("capability %s: driver seed only serves extractors", c.Name)
			}
			if other, ok := roles[c.Role]; ok {
				return fmt.Errorf("capabilities %s and %s both provide the %s", other, c.Name, c.Role)
			}
			roles[c.Role] = c.Name
		case RoleAnalyzer:
			if c.Driver == DriverSeed {
				return fmt.Errorf("capability %s: driver seed only serves extractors", c.Name)
			}
			for _, kind := range servedKinds(c) {
				if other, ok := kinds[kind]; ok {
					return fmt.Errorf("capabilities %s and %s both analyze %s", other, c.Name, kind)
				}
				kinds[kind] = c.Name
			}
		}
	}

	for _, kind := range advisor.AnalysisKinds {
		if _, ok := kinds[kind]; !ok {
			return fmt.Errorf("no analyzer capability for %s", kind)
		}
	}
	if _, ok := roles[RoleRecommender]; !ok {
		return fmt.Errorf("no recommender capability")
	}
	return nil
}

func servedKinds(c Capability) []advisor.AnalysisKind {
	if len(c.Kinds) == 0 {
		return advisor.AnalysisKinds
	}
	return c.Kinds
}
