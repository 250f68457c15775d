package advisor

import (
	"context"
	"fmt"

	"github.com/openfroyo/healthgraph/pkg/engine"
)

// AnalysisTask runs one kind of health analysis. The three analysis nodes
// share this task, each with its own kind.
type AnalysisTask struct {
	kind     AnalysisKind
	analyzer Analyzer
}

// NewAnalysisTask creates an analysis task for kind.
func NewAnalysisTask(kind AnalysisKind, analyzer Analyzer) *AnalysisTask {
	return &AnalysisTask{kind: kind, analyzer: analyzer}
}

// Kind returns the analysis kind.
func (t *AnalysisTask) Kind() AnalysisKind {
	return t.kind
}

// Execute implements engine.Task.
func (t *AnalysisTask) Execute(ctx context.Context, in engine.View) (*engine.Output, error) {
	out := engine.NewOutput()
	key := AnalysisKey(t.kind)

	product, ok := Extraction.Get(in)
	if !ok || product == nil || len(product.Ingredients) == 0 {
		key.Set(out, missingIngredients(t.kind))
		return out, nil
	}

	analysis, err := t.analyzer.Analyze(ctx, t.kind, product)
	if err != nil {
		return nil, err
	}
	if analysis == nil {
		return nil, engine.NewPermanentError("analyzer returned no analysis", nil).
			WithCode(engine.ErrCodeContractViolation)
	}

	result := *analysis
	if result.AnalysisType == "" {
		result.AnalysisType = t.kind
	}
	if result.AnalysisType != t.kind {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("analyzer returned %s analysis for %s", result.AnalysisType, t.kind), nil,
		).WithCode(engine.ErrCodeContractViolation)
	}
	if result.Findings == nil {
		result.Findings = []string{}
	}
	if err := result.Validate(); err != nil {
		return nil, engine.NewPermanentError("analyzer returned an invalid analysis", err).
			WithCode(engine.ErrCodeContractViolation)
	}

	key.Set(out, &result)
	return out, nil
}

// Placeholder implements engine.Placeholder.
func (t *AnalysisTask) Placeholder(reason string) *engine.Output {
	out := engine.NewOutput()
	zero := 0.0
	AnalysisKey(t.kind).Set(out, &HealthAnalysis{
		AnalysisType:      t.kind,
		Findings:          []string{},
		DetailedAnalysis:  fmt.Sprintf("Not analyzed because processing was halted upstream: %s", reason),
		ConfidenceLevel:   ConfidenceNotApplicable,
		HealthScoreImpact: &zero,
	})
	return out
}

func missingIngredients(kind AnalysisKind) *HealthAnalysis {
	zero := 0.0
	return &HealthAnalysis{
		AnalysisType:      kind,
		Findings:          []string{"Missing ingredients"},
		DetailedAnalysis:  fmt.Sprintf("No ingredients data available for %s analysis.", kind),
		ConfidenceLevel:   ConfidenceLow,
		HealthScoreImpact: &zero,
	}
}
