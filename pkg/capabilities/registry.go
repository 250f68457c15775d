package capabilities

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/cache"
	"github.com/openfroyo/healthgraph/pkg/remote"
	"github.com/openfroyo/healthgraph/pkg/script"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// Registry is an immutable set of capabilities. It is resolved once into
// pipeline collaborators before the graph is built.
type Registry struct {
	manifest *Manifest
	byName   map[string]Capability
	baseDir  string
}

// NewRegistry validates m and indexes it. Relative script paths resolve
// against baseDir.
func NewRegistry(m *Manifest, baseDir string) (*Registry, error) {
	if m == nil {
		m = DefaultManifest()
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	byName := make(map[string]Capability, len(m.Capabilities))
	for _, c := range m.Capabilities {
		byName[c.Name] = c
	}
	return &Registry{manifest: m, byName: byName, baseDir: baseDir}, nil
}

// Load builds a registry from the manifest at path. An empty path selects
// DefaultManifest.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultManifest(), "")
	}
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(m, filepath.Dir(path))
}

// Manifest returns the registry's manifest.
func (r *Registry) Manifest() *Manifest {
	return r.manifest
}

// Get returns the named capability.
func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// List returns every capability sorted by name.
func (r *Registry) List() []Capability {
	out := make([]Capability, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByRole returns the capabilities with role, in manifest order.
func (r *Registry) ByRole(role Role) []Capability {
	var out []Capability
	for _, c := range r.manifest.Capabilities {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

// ResolveOptions are the shared resources capabilities may use.
type ResolveOptions struct {
	// Cache wraps analyzers whose capability sets cache. Optional.
	Cache cache.Cache

	// Metrics records cache lookups. Optional.
	Metrics *telemetry.Metrics

	// Rules backs rules capabilities. Nil uses advisor.DefaultRules.
	Rules []advisor.Rule

	// Logger is the parent logger of remote clients and caches.
	Logger zerolog.Logger
}

// Resolved holds the collaborators built from a registry.
type Resolved struct {
	Extractor   advisor.Extractor
	Analyzers   map[advisor.AnalysisKind]advisor.Analyzer
	Recommender advisor.Recommender

	// Sources maps each role, or analyzer kind, to the capability serving it.
	Sources map[string]string
}

// Apply copies the collaborators into deps.
func (r *Resolved) Apply(deps *advisor.Dependencies) {
	if r.Extractor != nil {
		deps.Extractor = r.Extractor
	}
	if deps.Analyzers == nil {
		deps.Analyzers = map[advisor.AnalysisKind]advisor.Analyzer{}
	}
	for kind, a := range r.Analyzers {
		deps.Analyzers[kind] = a
	}
	deps.Recommender = r.Recommender
}

// Resolve instantiates every capability.
func (r *Registry) Resolve(opts ResolveOptions) (*Resolved, error) {
	res := &Resolved{
		Extractor: advisor.SeedExtractor{},
		Analyzers: map[advisor.AnalysisKind]advisor.Analyzer{},
		Sources:   map[string]string{string(RoleExtractor): "default"},
	}
	scripts := map[string]*script.Script{}

	for _, c := range r.manifest.Capabilities {
		switch c.Role {
		case RoleExtractor:
			e, err := r.extractor(c, opts)
			if err != nil {
				return nil, fmt.Errorf("capability %s: %w", c.Name, err)
			}
			res.Extractor = e
			res.Sources[string(RoleExtractor)] = c.Name

		case RoleAnalyzer:
			a, err := r.analyzer(c, opts, scripts)
			if err != nil {
				return nil, fmt.Errorf("capability %s: %w", c.Name, err)
			}
			if c.Cache && opts.Cache != nil {
				a = cache.NewAnalyzer(a, opts.Cache, opts.Metrics, opts.Logger)
			}
			for _, kind := range servedKinds(c) {
				res.Analyzers[kind] = a
				res.Sources[string(kind)] = c.Name
			}

		case RoleRecommender:
			rec, err := r.recommender(c, opts, scripts)
			if err != nil {
				return nil, fmt.Errorf("capability %s: %w", c.Name, err)
			}
			res.Recommender = rec
			res.Sources[string(RoleRecommender)] = c.Name
		}
	}

	return res, nil
}

func (r *Registry) extractor(c Capability, opts ResolveOptions) (advisor.Extractor, error) {
	switch c.Driver {
	case DriverSeed:
		return advisor.SeedExtractor{}, nil
	case DriverHTTP:
		client, err := r.client(c, opts)
		if err != nil {
			return nil, err
		}
		return remote.NewExtractor(client), nil
	default:
		return nil, fmt.Errorf("driver %s cannot extract ingredients", c.Driver)
	}
}

func (r *Registry) analyzer(c Capability, opts ResolveOptions, scripts map[string]*script.Script) (advisor.Analyzer, error) {
	switch c.Driver {
	case DriverRules:
		return advisor.NewRuleAnalyzer(opts.Rules), nil
	case DriverScript:
		s, err := r.script(c, scripts)
		if err != nil {
			return nil, err
		}
		return script.NewAnalyzer(s)
	case DriverHTTP:
		client, err := r.client(c, opts)
		if err != nil {
			return nil, err
		}
		return remote.NewAnalyzer(client), nil
	default:
		return nil, fmt.Errorf("driver %s cannot analyze", c.Driver)
	}
}

func (r *Registry) recommender(c Capability, opts ResolveOptions, scripts map[string]*script.Script) (advisor.Recommender, error) {
	switch c.Driver {
	case DriverRules:
		return advisor.NewRuleRecommender(opts.Rules), nil
	case DriverScript:
		s, err := r.script(c, scripts)
		if err != nil {
			return nil, err
		}
		return script.NewRecommender(s)
	case DriverHTTP:
		client, err := r.client(c, opts)
		if err != nil {
			return nil, err
		}
		return remote.NewRecommender(client), nil
	default:
		return nil, fmt.Errorf("driver %s cannot recommend", c.Driver)
	}
}

func (r *Registry) client(c Capability, opts ResolveOptions) (*remote.Client, error) {
	return remote.NewClient(remote.Config{
		Endpoint: c.Endpoint,
		Timeout:  c.Timeout,
		Headers:  c.Headers,
	}, opts.Logger.With().Str("capability", c.Name).Logger())
}

// script compiles each script path once.
func (r *Registry) script(c Capability, scripts map[string]*script.Script) (*script.Script, error) {
	path := c.Script
	if !filepath.IsAbs(path) && r.baseDir != "" {
		path = filepath.Join(r.baseDir, path)
	}
	if s, ok := scripts[path]; ok {
		return s, nil
	}
	s, err := script.Load(script.Config{Path: path, Timeout: c.Timeout})
	if err != nil {
		return nil, err
	}
	scripts[path] = s
	return s, nil
}
