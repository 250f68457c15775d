package policy

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// Engine evaluates Rego admission policies against extractions. It
// implements advisor.Gate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	config   Config
	logger   zerolog.Logger
	events   *telemetry.EventPublisher
	loader   *Loader
}

var _ advisor.Gate = (*Engine)(nil)

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with the built-in policies loaded, then
// loads any policies found under cfg.Paths.
func NewEngine(ctx context.Context, cfg Config, logger zerolog.Logger, events *telemetry.EventPublisher) (*Engine, error) {
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}

	logger = logger.With().Str("component", "policy-engine").Logger()
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store: inmem.NewFromObject(map[string]interface{}{
			"healthgraph": map[string]interface{}{
				"config": map[string]interface{}{
					"min_confidence": cfg.MinConfidence,
				},
			},
		}),
		config: cfg,
		logger: logger,
		events: events,
		loader: NewLoader(logger),
	}

	if err := e.loadBuiltinPolicies(ctx); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	if len(cfg.Paths) > 0 {
		if err := e.LoadPolicies(ctx, cfg.Paths); err != nil {
			return nil, err
		}
	}

	if len(cfg.Bundles) > 0 {
		if err := e.LoadBundles(ctx, cfg.Bundles); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Admit implements advisor.Gate. A failed evaluation of an otherwise
// admitting decision is returned as an error so callers can fall back.
func (e *Engine) Admit(ctx context.Context, product *advisor.ExtractedIngredients) (advisor.Admission, error) {
	decision, err := e.Evaluate(ctx, &Input{
		Product: product,
		Context: &InputContext{
			RunID:     engine.RunIDFromContext(ctx),
			Timestamp: time.Now(),
			Operation: "admit",
		},
	})
	if err != nil {
		return advisor.Admission{}, err
	}

	if decision.Allowed && len(decision.Failures) > 0 {
		return advisor.Admission{}, engine.NewTransientError(
			fmt.Sprintf("policy evaluation incomplete: %v", decision.Failures), nil)
	}

	admission := advisor.Admission{Allowed: decision.Allowed, Reason: decision.Reason()}
	for _, v := range decision.Violations {
		admission.Violations = append(admission.Violations, v.Message)
		_ = e.events.PublishPolicyDenied(v.Policy, v.Message)
	}
	return admission, nil
}

// Evaluate evaluates every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	if input == nil || input.Product == nil {
		return nil, fmt.Errorf("policy input has no product")
	}

	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := &Decision{Allowed: true, EvaluatedPolicies: []string{}}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Msg("Policy evaluation failed")
			decision.Failures = append(decision.Failures, name)
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				decision.Allowed = false
				decision.Violations = append(decision.Violations, v)
			} else {
				decision.Warnings = append(decision.Warnings, v)
			}
		}
	}

	decision.EvaluatedAt = time.Now()
	decision.Duration = time.Since(start)

	e.logger.Debug().
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Int("warnings", len(decision.Warnings)).
		Dur("duration", decision.Duration).
		Msg("Admission policies evaluated")

	return decision, nil
}

// evaluatePolicy runs one policy's deny query.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// newViolation converts one deny entry. Entries are either plain strings or
// objects with "message" and optional "severity".
func newViolation(policy *Policy, entry interface{}) Violation {
	v := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch d := entry.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		for key, value := range d {
			switch key {
			case "message":
				v.Message, _ = value.(string)
			case "severity":
				if sev, ok := value.(string); ok {
					v.Severity = Severity(sev)
				}
			default:
				if v.Details == nil {
					v.Details = make(map[string]interface{})
				}
				v.Details[key] = value
			}
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}

	if v.Severity == "" {
		v.Severity = SeverityError
	}
	return v
}

// LoadPolicies loads and compiles policies from files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStore(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")
	return nil
}

// LoadBundles loads and compiles every policy of the given bundle files.
func (e *Engine) LoadBundles(ctx context.Context, paths []string) error {
	policies, err := e.bundlePolicies(paths)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStore(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

func (e *Engine) bundlePolicies(paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		bundle, err := e.loader.LoadBundle(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load bundle %s: %w", path, err)
		}
		policies = append(policies, bundle.Policies...)
	}
	return policies, nil
}

// ReplacePolicies swaps every non-builtin policy for policies. Nothing is
// replaced unless all of them compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := e.compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled[cp.policy.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().
		Int("count", len(compiled)).
		Msg("Custom policies replaced")
	return nil
}

// Watch reloads the configured policy paths whenever they change, until ctx
// is done. Bundles are re-read on every reload.
func (e *Engine) Watch(ctx context.Context) error {
	if len(e.config.Paths) == 0 {
		return nil
	}
	return e.loader.Watch(ctx, e.config.Paths, func(policies []Policy) error {
		bundled, err := e.bundlePolicies(e.config.Bundles)
		if err != nil {
			return err
		}
		return e.ReplacePolicies(ctx, append(policies, bundled...))
	})
}

// Close stops watching policy files.
func (e *Engine) Close() error {
	return e.loader.StopWatching()
}

// compile parses a policy and prepares its deny query.
func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModuleWithOpts(policy.Name, policy.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	p := *policy
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	p.LoadedAt = time.Now()
	if slices.Contains(e.config.Disabled, p.Name) {
		p.Enabled = false
	}

	return &compiledPolicy{policy: &p, query: query}, nil
}

// compileAndStore compiles a policy and stores it. Callers hold e.mu.
func (e *Engine) compileAndStore(ctx context.Context, policy *Policy) error {
	cp, err := e.compile(ctx, policy)
	if err != nil {
		return err
	}
	e.policies[cp.policy.Name] = cp

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")
	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStore(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled

	e.logger.Info().
		Str("policy", name).
		Bool("enabled", enabled).
		Msg("Policy toggled")
	return nil
}
