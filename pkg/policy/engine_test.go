package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background(), cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	return eng
}

func product(status advisor.ValidationStatus, confidence float64, ingredients ...string) *advisor.ExtractedIngredients {
	p := &advisor.ExtractedIngredients{
		Status:          status,
		Ingredients:     ingredients,
		ConfidenceScore: confidence,
	}
	p.Normalize()
	return p
}

func TestNewEngine_LoadsBuiltins(t *testing.T) {
	eng := newTestEngine(t, Config{})

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		assert.True(t, p.Builtin)
		assert.True(t, p.Enabled)
	}
	assert.Equal(t, []string{"allergen-notice", "ingredients-present", "minimum-confidence", "validation-status"}, names)
}

func TestEngine_Admit(t *testing.T) {
	eng := newTestEngine(t, Config{})

	tests := []struct {
		name        string
		product     *advisor.ExtractedIngredients
		wantAllowed bool
		wantReason  string
	}{
		{
			name:        "valid product",
			product:     product(advisor.StatusValidFoodImage, 0.9, "sugar", "salt"),
			wantAllowed: true,
		},
		{
			name: "not food with message",
			product: func() *advisor.ExtractedIngredients {
				p := product(advisor.StatusInvalidNotFood, 0)
				p.ErrorMessage = "This is a picture of a cat."
				return p
			}(),
			wantReason: "This is a picture of a cat.",
		},
		{
			name:       "not food without message",
			product:    product(advisor.StatusInvalidPoorQuality, 0),
			wantReason: "Image validation failed.",
		},
		{
			name:       "valid without ingredients",
			product:    product(advisor.StatusValidFoodImage, 0.9),
			wantReason: "No ingredients were found on the product label.",
		},
		{
			name:       "low confidence",
			product:    product(advisor.StatusValidFoodImage, 0.1, "sugar"),
			wantReason: "Extraction confidence 0.1 is below the required 0.3.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admission, err := eng.Admit(context.Background(), tt.product)
			require.NoError(t, err)

			assert.Equal(t, tt.wantAllowed, admission.Allowed)
			assert.Equal(t, tt.wantReason, admission.Reason)
			if !tt.wantAllowed {
				assert.NotEmpty(t, admission.Violations)
			}
		})
	}
}

func TestEngine_Evaluate_WarningsDoNotBlock(t *testing.T) {
	eng := newTestEngine(t, Config{})

	p := product(advisor.StatusValidFoodImage, 0.9, "milk", "wheat flour")
	p.Allergens = []string{"milk", "gluten"}

	decision, err := eng.Evaluate(context.Background(), &Input{Product: p})
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Violations)
	require.Len(t, decision.Warnings, 1)
	assert.Equal(t, "allergen-notice", decision.Warnings[0].Policy)
	assert.Equal(t, SeverityWarning, decision.Warnings[0].Severity)
	assert.Equal(t, "Product declares allergens: milk, gluten", decision.Warnings[0].Message)
	assert.Len(t, decision.EvaluatedPolicies, 4)
}

func TestEngine_Evaluate_RequiresProduct(t *testing.T) {
	eng := newTestEngine(t, Config{})
	_, err := eng.Evaluate(context.Background(), &Input{})
	assert.Error(t, err)
}

func TestEngine_MinConfidenceFromConfig(t *testing.T) {
	eng := newTestEngine(t, Config{MinConfidence: 0.95})

	admission, err := eng.Admit(context.Background(), product(advisor.StatusValidFoodImage, 0.9, "sugar"))
	require.NoError(t, err)
	assert.False(t, admission.Allowed)
	assert.Equal(t, "Extraction confidence 0.9 is below the required 0.95.", admission.Reason)
}

func TestEngine_DisablePolicy(t *testing.T) {
	eng := newTestEngine(t, Config{Disabled: []string{"minimum-confidence"}})

	p, err := eng.GetPolicy("minimum-confidence")
	require.NoError(t, err)
	assert.False(t, p.Enabled)

	admission, err := eng.Admit(context.Background(), product(advisor.StatusValidFoodImage, 0.1, "sugar"))
	require.NoError(t, err)
	assert.True(t, admission.Allowed)

	require.NoError(t, eng.EnablePolicy("minimum-confidence"))
	admission, err = eng.Admit(context.Background(), product(advisor.StatusValidFoodImage, 0.1, "sugar"))
	require.NoError(t, err)
	assert.False(t, admission.Allowed)

	assert.Error(t, eng.DisablePolicy("no-such-policy"))
	_, err = eng.GetPolicy("no-such-policy")
	assert.Error(t, err)
}

func TestEngine_LoadCustomPolicy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-aspartame.rego"), []byte(`# Rejects aspartame.
package custom.admission.sweeteners

import rego.v1

deny contains "Products with aspartame are not analyzed" if {
	some ingredient in input.product.ingredients
	contains(lower(ingredient), "aspartame")
}
`), 0o644))

	eng := newTestEngine(t, Config{Paths: []string{dir}})

	p, err := eng.GetPolicy("no-aspartame")
	require.NoError(t, err)
	assert.Equal(t, "Rejects aspartame.", p.Description)
	assert.False(t, p.Builtin)

	admission, err := eng.Admit(context.Background(), product(advisor.StatusValidFoodImage, 0.9, "water", "Aspartame"))
	require.NoError(t, err)
	assert.False(t, admission.Allowed)
	assert.Equal(t, "Products with aspartame are not analyzed", admission.Reason)
}

func TestEngine_LoadBundles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strict.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: strict
version: 1.0.0
policies:
  - name: no-palm-oil
    severity: error
    rego: |
      package custom.strict.palm

      import rego.v1

      deny contains "Palm oil products are not analyzed" if {
      	some ingredient in input.product.ingredients
      	contains(lower(ingredient), "palm oil")
      }
`), 0o644))

	eng := newTestEngine(t, Config{Bundles: []string{path}})

	p, err := eng.GetPolicy("no-palm-oil")
	require.NoError(t, err)
	assert.Equal(t, path, p.Source)
	assert.Len(t, eng.ListPolicies(), 5)

	admission, err := eng.Admit(context.Background(), product(advisor.StatusValidFoodImage, 0.9, "flour", "Palm Oil"))
	require.NoError(t, err)
	assert.False(t, admission.Allowed)
	assert.Equal(t, "Palm oil products are not analyzed", admission.Reason)

	_, err = NewEngine(context.Background(), Config{Bundles: []string{filepath.Join(t.TempDir(), "absent.yaml")}}, zerolog.Nop(), nil)
	assert.Error(t, err)
}

func TestEngine_ReplacePolicies(t *testing.T) {
	eng := newTestEngine(t, Config{})

	custom := Policy{
		Name:    "deny-all",
		Rego:    "package custom.deny_all\n\nimport rego.v1\n\ndeny contains \"closed\" if { true }\n",
		Enabled: true,
	}
	require.NoError(t, eng.ReplacePolicies(context.Background(), []Policy{custom}))
	assert.Len(t, eng.ListPolicies(), 5)

	// Severity defaults to warning for policies that do not set one.
	admission, err := eng.Admit(context.Background(), product(advisor.StatusValidFoodImage, 0.9, "sugar"))
	require.NoError(t, err)
	assert.True(t, admission.Allowed)

	broken := Policy{Name: "broken", Rego: "package broken\n\ndeny contains if {", Enabled: true}
	assert.Error(t, eng.ReplacePolicies(context.Background(), []Policy{broken}))

	_, err = eng.GetPolicy("deny-all")
	assert.NoError(t, err, "failed replace must keep the previous policies")

	require.NoError(t, eng.ReplacePolicies(context.Background(), nil))
	assert.Len(t, eng.ListPolicies(), 4)
}

func TestEngine_Admit_PublishesDenials(t *testing.T) {
	cfg := telemetry.TestConfig()
	cfg.Events.Enabled = true
	tel, err := telemetry.NewTelemetry(cfg)
	require.NoError(t, err)

	var denied []telemetry.Event
	tel.Events.Subscribe(func(e telemetry.Event) {
		denied = append(denied, e)
	}, func(e telemetry.Event) bool { return e.Type == telemetry.EventTypePolicyDenied })

	eng, err := NewEngine(context.Background(), Config{}, zerolog.Nop(), tel.Events)
	require.NoError(t, err)

	_, err = eng.Admit(context.Background(), product(advisor.StatusValidFoodImage, 0.9))
	require.NoError(t, err)

	require.Len(t, denied, 1)
	assert.Equal(t, "ingredients-present", denied[0].Data["policy"])
}

func TestEngine_ImplementsGateInPipeline(t *testing.T) {
	eng := newTestEngine(t, Config{})

	a, err := advisor.New(advisor.Dependencies{
		Gate:        eng,
		Analyzer:    advisor.NewRuleAnalyzer(nil),
		Recommender: advisor.NewRuleRecommender(nil),
	}, engine.SchedulerConfig{})
	require.NoError(t, err)

	valid := true
	res, err := a.Analyze(context.Background(), advisor.Request{ImageValid: &valid, Ingredients: []string{"sugar"}})
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusComplete, res.Report.Status)

	res, err = a.Analyze(context.Background(), advisor.Request{ImageValid: &valid})
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusShortCircuited, res.Report.Status)
	assert.Equal(t, "No ingredients list was supplied.", res.Report.Reason)
}
