package advisor

import (
	"context"
	"strings"

	"github.com/openfroyo/healthgraph/pkg/engine"
)

// AlternativesTask is the join node: it waits for all three analyses and
// asks a Recommender for healthier alternatives.
type AlternativesTask struct {
	recommender Recommender
	limit       int
}

// NewAlternativesTask creates the alternatives task. The limit is clamped to
// MaxAlternatives.
func NewAlternativesTask(recommender Recommender, limit int) *AlternativesTask {
	if limit <= 0 || limit > MaxAlternatives {
		limit = MaxAlternatives
	}
	return &AlternativesTask{recommender: recommender, limit: limit}
}

// Execute implements engine.Task.
func (t *AlternativesTask) Execute(ctx context.Context, in engine.View) (*engine.Output, error) {
	out := engine.NewOutput()

	product, ok := Extraction.Get(in)
	if !ok || product == nil {
		Alternatives.Set(out, &AlternativesReport{
			Alternatives: []Alternative{},
			Summary:      "Cannot recommend without data.",
		})
		return out, nil
	}

	req := RecommendationRequest{
		Product:  product,
		Analyses: make(map[AnalysisKind]*HealthAnalysis, len(AnalysisKinds)),
		Limit:    t.limit,
	}
	for _, kind := range AnalysisKinds {
		if a, ok := AnalysisKey(kind).Get(in); ok && a != nil {
			req.Analyses[kind] = a
		}
	}

	report, err := t.recommender.Recommend(ctx, req)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, engine.NewPermanentError("recommender returned no report", nil).
			WithCode(engine.ErrCodeContractViolation)
	}

	result := AlternativesReport{Summary: report.Summary, Alternatives: []Alternative{}}
	for _, alt := range report.Alternatives {
		alt.ProductName = strings.TrimSpace(alt.ProductName)
		alt.Reason = strings.TrimSpace(alt.Reason)
		if alt.ProductName == "" || alt.Reason == "" {
			continue
		}
		if len(result.Alternatives) == t.limit {
			break
		}
		result.Alternatives = append(result.Alternatives, alt)
	}
	if err := result.Validate(); err != nil {
		return nil, engine.NewPermanentError("recommender returned an invalid report", err).
			WithCode(engine.ErrCodeContractViolation)
	}

	Alternatives.Set(out, &result)
	return out, nil
}

// Placeholder implements engine.Placeholder.
func (t *AlternativesTask) Placeholder(reason string) *engine.Output {
	out := engine.NewOutput()
	Alternatives.Set(out, &AlternativesReport{
		Alternatives: []Alternative{},
		Summary:      "Recommendation skipped.",
	})
	return out
}
