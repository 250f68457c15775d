package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/cache"
	"github.com/openfroyo/healthgraph/pkg/capabilities"
	"github.com/openfroyo/healthgraph/pkg/config"
	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/policy"
	"github.com/openfroyo/healthgraph/pkg/stores"
	"github.com/openfroyo/healthgraph/pkg/tasks"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// app holds the wired components of one CLI invocation.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	store    *stores.SQLiteStore
	cache    *cache.RedisCache
	policies *policy.Engine
	registry *capabilities.Registry
	resolved *capabilities.Resolved
	advisor  *advisor.Advisor
}

// appOptions selects the components a command needs.
type appOptions struct {
	store   bool
	advisor bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a = &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("cli").Zerolog(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if opts.store && cfg.Store.Enabled {
		if err := a.openStore(ctx); err != nil {
			return nil, err
		}
	}

	if opts.advisor {
		if err := a.buildAdvisor(ctx); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(a.cfg.Store.Config, a.tel.Logger.Zerolog())
	if err != nil {
		return err
	}
	if err := store.Open(ctx); err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	a.store = store

	a.tel.Events.Subscribe(store.EventSink(), nil)

	if _, err := store.PruneExpired(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to prune run history")
	}
	return nil
}

func (a *app) buildAdvisor(ctx context.Context) error {
	cfg := a.cfg
	logger := a.tel.Logger.Zerolog()

	policies, err := policy.NewEngine(ctx, cfg.Policy, logger, a.tel.Events)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	a.policies = policies

	registry, err := capabilities.Load(cfg.Capabilities.Manifest)
	if err != nil {
		return err
	}
	a.registry = registry

	resolveOpts := capabilities.ResolveOptions{
		Metrics: a.tel.Metrics,
		Logger:  logger,
	}
	if cfg.Cache.Enabled {
		c, err := cache.NewRedisCache(ctx, cfg.Cache, logger)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Analysis cache unavailable, continuing without it")
		} else {
			a.cache = c
			resolveOpts.Cache = c
		}
	}

	resolved, err := registry.Resolve(resolveOpts)
	if err != nil {
		return fmt.Errorf("failed to resolve capabilities: %w", err)
	}
	a.resolved = resolved

	deps := advisor.Dependencies{
		Gate:     policies,
		Decorate: a.decorator(),
		Options:  cfg.Engine.Options,
	}
	resolved.Apply(&deps)

	var recorder engine.RunRecorder
	if a.store != nil {
		recorder = a.store
	}

	adv, err := advisor.New(deps, cfg.SchedulerConfig(a.tel, recorder))
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	a.advisor = adv
	return nil
}

// decorator rate limits and retries every collaborator-backed node. One
// limiter is shared by all nodes of all runs.
func (a *app) decorator() func(string, engine.Task) engine.Task {
	limiter := tasks.NewLimiter(a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst)
	retry := a.cfg.Retry
	return func(nodeID string, task engine.Task) engine.Task {
		return tasks.Chain(task, tasks.WithRateLimit(limiter), tasks.WithRetry(retry))
	}
}

// Close releases everything the app opened.
func (a *app) Close() error {
	var errs []error
	if a.policies != nil {
		errs = append(errs, a.policies.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	errs = append(errs, a.tel.Shutdown(ctx))

	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
