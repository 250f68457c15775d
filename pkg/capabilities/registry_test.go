package capabilities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/cache"
	"github.com/openfroyo/healthgraph/pkg/engine"
)

func TestDefaultManifest(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)

	res, err := reg.Resolve(ResolveOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)

	assert.IsType(t, advisor.SeedExtractor{}, res.Extractor)
	assert.IsType(t, &advisor.RuleRecommender{}, res.Recommender)
	for _, kind := range advisor.AnalysisKinds {
		assert.IsType(t, &advisor.RuleAnalyzer{}, res.Analyzers[kind])
		assert.Equal(t, "rules-analyzer", res.Sources[string(kind)])
	}
	assert.Equal(t, "seed-extractor", res.Sources["extractor"])

	names := []string{}
	for _, c := range reg.List() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"rules-analyzer", "rules-recommender", "seed-extractor"}, names)
	assert.Len(t, reg.ByRole(RoleAnalyzer), 1)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "not yaml",
			yaml:    "capabilities: [",
			wantErr: "failed to parse",
		},
		{
			name: "missing version",
			yaml: `
capabilities:
  - {name: a, role: analyzer, driver: rules}
  - {name: r, role: recommender, driver: rules}
`,
			wantErr: "Version",
		},
		{
			name: "unknown driver",
			yaml: `
version: "1"
capabilities:
  - {name: a, role: analyzer, driver: wasm}
  - {name: r, role: recommender, driver: rules}
`,
			wantErr: "Driver",
		},
		{
			name: "http without endpoint",
			yaml: `
version: "1"
capabilities:
  - {name: a, role: analyzer, driver: http}
  - {name: r, role: recommender, driver: rules}
`,
			wantErr: "requires an endpoint",
		},
		{
			name: "script without path",
			yaml: `
version: "1"
capabilities:
  - {name: a, role: analyzer, driver: script}
  - {name: r, role: recommender, driver: rules}
`,
			wantErr: "requires a script path",
		},
		{
			name: "duplicate name",
			yaml: `
version: "1"
capabilities:
  - {name: a, role: analyzer, driver: rules}
  - {name: a, role: recommender, driver: rules}
`,
			wantErr: "duplicate capability a",
		},
		{
			name: "kind served twice",
			yaml: `
version: "1"
capabilities:
  - {name: a, role: analyzer, driver: rules}
  - {name: b, role: analyzer, driver: rules, kinds: [benefits]}
  - {name: r, role: recommender, driver: rules}
`,
			wantErr: "both analyze benefits",
		},
		{
			name: "kind not served",
			yaml: `
version: "1"
capabilities:
  - {name: a, role: analyzer, driver: rules, kinds: [benefits, disadvantages]}
  - {name: r, role: recommender, driver: rules}
`,
			wantErr: "no analyzer capability for disease_associations",
		},
		{
			name: "no recommender",
			yaml: `
version: "1"
capabilities:
  - {name: a, role: analyzer, driver: rules}
`,
			wantErr: "no recommender capability",
		},
		{
			name: "seed recommender",
			yaml: `
version: "1"
capabilities:
  - {name: a, role: analyzer, driver: rules}
  - {name: r, role: recommender, driver: seed}
`,
			wantErr: "only serves extractors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const scriptSource = `
def analyze(kind, product):
    return {"findings": ["scripted " + kind], "confidence_level": "High"}

def recommend(product, analyses, limit):
    return {"alternatives": [], "summary": "scripted"}
`

func TestLoad_MixedDrivers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(advisor.HealthAnalysis{
			AnalysisType:    advisor.KindDiseaseAssociation,
			Findings:        []string{"remote finding"},
			ConfidenceLevel: advisor.ConfidenceHigh,
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.star"), []byte(scriptSource), 0o644))
	manifest := `
version: "1"
capabilities:
  - name: scripted
    role: analyzer
    driver: script
    script: rules.star
    kinds: [benefits, disadvantages]
    cache: true
  - name: remote-diseases
    role: analyzer
    driver: http
    endpoint: ` + srv.URL + `
    timeout: 2s
    kinds: [disease_associations]
  - name: scripted-swaps
    role: recommender
    driver: script
    script: rules.star
`
	path := filepath.Join(dir, "capabilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)

	c, ok := reg.Get("remote-diseases")
	require.True(t, ok)
	assert.Equal(t, "2s", c.Timeout.String())

	mr := miniredis.RunT(t)
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = mr.Addr()
	rc, err := cache.NewRedisCache(context.Background(), cacheCfg, zerolog.Nop())
	require.NoError(t, err)
	defer rc.Close()

	res, err := reg.Resolve(ResolveOptions{Cache: rc, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.IsType(t, &cache.Analyzer{}, res.Analyzers[advisor.KindBenefits])
	assert.Equal(t, "remote-diseases", res.Sources[string(advisor.KindDiseaseAssociation)])

	deps := advisor.Dependencies{}
	res.Apply(&deps)

	adv, err := advisor.New(deps, engine.SchedulerConfig{})
	require.NoError(t, err)

	valid := true
	result, err := adv.Analyze(context.Background(), advisor.Request{ImageValid: &valid, Ingredients: []string{"sugar"}})
	require.NoError(t, err)

	report := result.Report
	assert.Equal(t, engine.RunStatusComplete, report.Status)
	benefits, _ := report.Section(advisor.SectionBenefits)
	assert.Equal(t, []string{"scripted benefits"}, benefits.Findings)
	diseases, _ := report.Section(advisor.SectionDiseaseAssociation)
	assert.Equal(t, []string{"remote finding"}, diseases.Findings)
	assert.NotEmpty(t, mr.Keys(), "script analyses are cached")
}

func TestResolve_MissingScript(t *testing.T) {
	m := &Manifest{
		Version: "1",
		Capabilities: []Capability{
			{Name: "a", Role: RoleAnalyzer, Driver: DriverScript, Script: "absent.star"},
			{Name: "r", Role: RoleRecommender, Driver: DriverRules},
		},
	}
	reg, err := NewRegistry(m, t.TempDir())
	require.NoError(t, err)

	_, err = reg.Resolve(ResolveOptions{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability a")
}
