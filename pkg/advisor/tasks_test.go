package advisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/healthgraph/pkg/engine"
)

type gateFunc func(ctx context.Context, product *ExtractedIngredients) (Admission, error)

func (f gateFunc) Admit(ctx context.Context, product *ExtractedIngredients) (Admission, error) {
	return f(ctx, product)
}

func lookup[T any](t *testing.T, out *engine.Output, k engine.Key[T]) T {
	t.Helper()
	raw, ok := out.Lookup(k.Name())
	require.True(t, ok, "field %s not set", k.Name())
	v, ok := raw.(T)
	require.True(t, ok, "field %s has type %T", k.Name(), raw)
	return v
}

func TestExtractionTask(t *testing.T) {
	tests := []struct {
		name       string
		values     map[string]any
		extractor  Extractor
		gate       Gate
		wantStatus ValidationStatus
		wantHalt   bool
		wantReason string
	}{
		{
			name:       "valid seed",
			values:     map[string]any{ImageValid.Name(): true, Ingredients.Name(): []string{" Sugar ", "salt", ""}},
			wantStatus: StatusValidFoodImage,
		},
		{
			name:       "invalid image",
			values:     map[string]any{ImageValid.Name(): false},
			wantStatus: StatusInvalidNotFood,
			wantHalt:   true,
			wantReason: "Image validation failed.",
		},
		{
			name:       "no ingredients",
			values:     map[string]any{ImageValid.Name(): true},
			wantStatus: StatusInvalidNoIngredients,
			wantHalt:   true,
			wantReason: "No ingredients list was supplied.",
		},
		{
			name:   "extractor error",
			values: map[string]any{ImagePath.Name(): "/img/x.jpg"},
			extractor: SeedExtractor{Next: extractorFunc(func(ctx context.Context, req ExtractionRequest) (*ExtractedIngredients, error) {
				return nil, errors.New("vision model unreachable")
			})},
			wantStatus: StatusError,
			wantHalt:   true,
			wantReason: "vision model unreachable",
		},
		{
			name:   "extractor returns nothing",
			values: map[string]any{ImagePath.Name(): "/img/x.jpg"},
			extractor: extractorFunc(func(ctx context.Context, req ExtractionRequest) (*ExtractedIngredients, error) {
				return nil, nil
			}),
			wantStatus: StatusError,
			wantHalt:   true,
			wantReason: "extractor returned no data",
		},
		{
			name:   "gate denies",
			values: map[string]any{ImageValid.Name(): true, Ingredients.Name(): []string{"sugar"}},
			gate: gateFunc(func(ctx context.Context, product *ExtractedIngredients) (Admission, error) {
				return Admission{Allowed: false, Reason: "confidence too low"}, nil
			}),
			wantStatus: StatusValidFoodImage,
			wantHalt:   true,
			wantReason: "confidence too low",
		},
		{
			name:   "gate error falls back to status",
			values: map[string]any{ImageValid.Name(): true, Ingredients.Name(): []string{"sugar"}},
			gate: gateFunc(func(ctx context.Context, product *ExtractedIngredients) (Admission, error) {
				return Admission{}, errors.New("policy engine down")
			}),
			wantStatus: StatusValidFoodImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := tt.extractor
			if extractor == nil {
				extractor = SeedExtractor{}
			}
			task := NewExtractionTask(extractor, tt.gate)

			out, err := task.Execute(context.Background(), engine.NewView(NodeExtract, tt.values))
			require.NoError(t, err)

			product := lookup(t, out, Extraction)
			assert.Equal(t, tt.wantStatus, product.Status)
			assert.Equal(t, tt.wantHalt, lookup(t, out, engine.ShortCircuit))
			if tt.wantHalt {
				assert.Equal(t, tt.wantReason, lookup(t, out, engine.HaltReason))
			}
		})
	}
}

func TestExtractionTask_NormalizesIngredients(t *testing.T) {
	task := NewExtractionTask(SeedExtractor{}, nil)
	out, err := task.Execute(context.Background(), engine.NewView(NodeExtract, map[string]any{
		ImageValid.Name():  true,
		Ingredients.Name(): []string{" sugar ", "", "salt"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"sugar", "salt"}, lookup(t, out, Extraction).Ingredients)
}

func TestExtractionTask_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := NewExtractionTask(extractorFunc(func(ctx context.Context, req ExtractionRequest) (*ExtractedIngredients, error) {
		return nil, ctx.Err()
	}), nil)

	_, err := task.Execute(ctx, engine.NewView(NodeExtract, map[string]any{ImagePath.Name(): "/img/x.jpg"}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalysisTask(t *testing.T) {
	t.Run("missing ingredients", func(t *testing.T) {
		task := NewAnalysisTask(KindBenefits, NewRuleAnalyzer(nil))
		out, err := task.Execute(context.Background(), engine.NewView(NodeBenefits, map[string]any{
			Extraction.Name(): &ExtractedIngredients{Status: StatusValidFoodImage},
		}))
		require.NoError(t, err)

		a := lookup(t, out, Benefits)
		assert.Equal(t, []string{"Missing ingredients"}, a.Findings)
		assert.Equal(t, ConfidenceLow, a.ConfidenceLevel)
	})

	t.Run("analyzer error is returned", func(t *testing.T) {
		task := NewAnalysisTask(KindBenefits, analyzerFunc(func(ctx context.Context, kind AnalysisKind, p *ExtractedIngredients) (*HealthAnalysis, error) {
			return nil, errors.New("rate limited")
		}))
		_, err := task.Execute(context.Background(), engine.NewView(NodeBenefits, map[string]any{
			Extraction.Name(): validProduct("sugar"),
		}))
		assert.EqualError(t, err, "rate limited")
	})

	t.Run("wrong kind is a contract violation", func(t *testing.T) {
		task := NewAnalysisTask(KindBenefits, analyzerFunc(func(ctx context.Context, kind AnalysisKind, p *ExtractedIngredients) (*HealthAnalysis, error) {
			return analysis(KindDisadvantages, "x"), nil
		}))
		_, err := task.Execute(context.Background(), engine.NewView(NodeBenefits, map[string]any{
			Extraction.Name(): validProduct("sugar"),
		}))
		require.Error(t, err)
		engErr := engine.AsEngineError(err)
		assert.Equal(t, engine.ErrCodeContractViolation, engErr.Code)
		assert.True(t, engine.IsPermanent(err))
	})

	t.Run("out of range impact is a contract violation", func(t *testing.T) {
		task := NewAnalysisTask(KindBenefits, analyzerFunc(func(ctx context.Context, kind AnalysisKind, p *ExtractedIngredients) (*HealthAnalysis, error) {
			a := analysis(kind, "x")
			impact := 42.0
			a.HealthScoreImpact = &impact
			return a, nil
		}))
		_, err := task.Execute(context.Background(), engine.NewView(NodeBenefits, map[string]any{
			Extraction.Name(): validProduct("sugar"),
		}))
		require.Error(t, err)
		assert.Equal(t, engine.ErrCodeContractViolation, engine.AsEngineError(err).Code)
	})

	t.Run("placeholder", func(t *testing.T) {
		task := NewAnalysisTask(KindDiseaseAssociation, NewRuleAnalyzer(nil))
		a := lookup(t, task.Placeholder("blurry"), DiseaseAssociation)
		assert.Empty(t, a.Findings)
		assert.Equal(t, ConfidenceNotApplicable, a.ConfidenceLevel)
		assert.Contains(t, a.DetailedAnalysis, "blurry")
	})
}

func TestAlternativesTask(t *testing.T) {
	t.Run("filters and truncates", func(t *testing.T) {
		var got RecommendationRequest
		task := NewAlternativesTask(recommenderFunc(func(ctx context.Context, req RecommendationRequest) (*AlternativesReport, error) {
			got = req
			return &AlternativesReport{Alternatives: []Alternative{
				{ProductName: "A", Reason: "r"},
				{ProductName: " ", Reason: "blank name"},
				{ProductName: "B", Reason: ""},
				{ProductName: "C", Reason: "r"},
				{ProductName: "D", Reason: "r"},
			}}, nil
		}), 2)

		out, err := task.Execute(context.Background(), engine.NewView(NodeAlternatives, map[string]any{
			Extraction.Name(): validProduct("sugar"),
			Benefits.Name():   analysis(KindBenefits, "energy"),
		}))
		require.NoError(t, err)

		report := lookup(t, out, Alternatives)
		require.Len(t, report.Alternatives, 2)
		assert.Equal(t, "A", report.Alternatives[0].ProductName)
		assert.Equal(t, "C", report.Alternatives[1].ProductName)

		assert.Equal(t, 2, got.Limit)
		assert.Len(t, got.Analyses, 1)
	})

	t.Run("limit is clamped", func(t *testing.T) {
		task := NewAlternativesTask(NewRuleRecommender(nil), 10)
		assert.Equal(t, MaxAlternatives, task.limit)
	})

	t.Run("no extraction", func(t *testing.T) {
		task := NewAlternativesTask(NewRuleRecommender(nil), 0)
		out, err := task.Execute(context.Background(), engine.NewView(NodeAlternatives, nil))
		require.NoError(t, err)
		assert.Equal(t, "Cannot recommend without data.", lookup(t, out, Alternatives).Summary)
	})

	t.Run("nil report", func(t *testing.T) {
		task := NewAlternativesTask(recommenderFunc(func(ctx context.Context, req RecommendationRequest) (*AlternativesReport, error) {
			return nil, nil
		}), 0)
		_, err := task.Execute(context.Background(), engine.NewView(NodeAlternatives, map[string]any{
			Extraction.Name(): validProduct("sugar"),
		}))
		require.Error(t, err)
		assert.Equal(t, engine.ErrCodeContractViolation, engine.AsEngineError(err).Code)
	})
}

func TestRuleAnalyzer(t *testing.T) {
	a := NewRuleAnalyzer(nil)
	product := validProduct("Whole Grain Oats", "cane sugar")

	res, err := a.Analyze(context.Background(), KindBenefits, product)
	require.NoError(t, err)
	assert.Equal(t, []string{"Quick source of energy", "Good source of soluble fibre", "Whole grains provide fibre and B vitamins"}, res.Findings)
	assert.Equal(t, ConfidenceMedium, res.ConfidenceLevel)
	require.NotNil(t, res.HealthScoreImpact)
	assert.InDelta(t, 5.0, *res.HealthScoreImpact, 1e-9)
	require.NoError(t, res.Validate())

	res, err = a.Analyze(context.Background(), KindDisadvantages, validProduct("water"))
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Equal(t, ConfidenceLow, res.ConfidenceLevel)
	assert.Equal(t, "No notable concerns found for Crunchy Oats.", res.DetailedAnalysis)
}

func TestRuleAnalyzer_ClampsImpact(t *testing.T) {
	rules := []Rule{
		{Keyword: "a", Impact: map[AnalysisKind]float64{KindDisadvantages: -8}},
		{Keyword: "b", Impact: map[AnalysisKind]float64{KindDisadvantages: -8}},
	}
	res, err := NewRuleAnalyzer(rules).Analyze(context.Background(), KindDisadvantages, validProduct("a", "b"))
	require.NoError(t, err)
	assert.InDelta(t, -10.0, *res.HealthScoreImpact, 1e-9)
}

func TestRuleRecommender(t *testing.T) {
	r := NewRuleRecommender(nil)

	report, err := r.Recommend(context.Background(), RecommendationRequest{
		Product: validProduct("sugar", "salt", "palm oil"),
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, report.Alternatives, 2)
	assert.Equal(t, "Unsweetened variant", report.Alternatives[0].ProductName)
	assert.Equal(t, "Low-sodium variant", report.Alternatives[1].ProductName)

	report, err = r.Recommend(context.Background(), RecommendationRequest{Product: validProduct("oats")})
	require.NoError(t, err)
	assert.Empty(t, report.Alternatives)
	assert.Equal(t, "No healthier alternatives needed for Crunchy Oats.", report.Summary)
}

func TestRequest_Seed(t *testing.T) {
	valid := true
	seed := Request{ImagePath: "/img/a.jpg", ImageValid: &valid, Ingredients: []string{"sugar"}}.Seed()

	assert.Equal(t, engine.Seed{
		ImagePath.Name():   "/img/a.jpg",
		ImageValid.Name():  true,
		Ingredients.Name(): []string{"sugar"},
	}, seed)
	assert.Empty(t, Request{}.Seed())
}
