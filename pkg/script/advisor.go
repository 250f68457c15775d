package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/engine"
)

// Entry points a rules script may define.
const (
	// AnalyzeFunc is called as analyze(kind, product) and returns a dict with
	// findings, detailed_analysis, confidence_level, sources_consulted and
	// health_score_impact.
	AnalyzeFunc = "analyze"

	// RecommendFunc is called as recommend(product, analyses, limit) and
	// returns a dict with alternatives and summary.
	RecommendFunc = "recommend"
)

// Analyzer is an advisor.Analyzer backed by a script's analyze() function.
type Analyzer struct {
	script *Script
}

// NewAnalyzer returns an analyzer for s. s must define analyze().
func NewAnalyzer(s *Script) (*Analyzer, error) {
	if !s.Has(AnalyzeFunc) {
		return nil, fmt.Errorf("script %s does not define %s()", s.Name(), AnalyzeFunc)
	}
	return &Analyzer{script: s}, nil
}

// Analyze implements advisor.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, kind advisor.AnalysisKind, product *advisor.ExtractedIngredients) (*advisor.HealthAnalysis, error) {
	input, err := toInput(product)
	if err != nil {
		return nil, err
	}

	raw, err := a.script.Call(ctx, AnalyzeFunc, string(kind), input)
	if err != nil {
		return nil, classify(err)
	}

	analysis := &advisor.HealthAnalysis{}
	if err := decode(raw, analysis); err != nil {
		return nil, engine.NewPermanentError("analyze() returned an unexpected value", err).
			WithCode(engine.ErrCodeContractViolation)
	}
	if analysis.AnalysisType == "" {
		analysis.AnalysisType = kind
	}
	if analysis.ConfidenceLevel == "" {
		analysis.ConfidenceLevel = advisor.ConfidenceMedium
	}
	if len(analysis.SourcesConsulted) == 0 {
		analysis.SourcesConsulted = []string{"script:" + a.script.Name()}
	}
	return analysis, nil
}

// Recommender is an advisor.Recommender backed by a script's recommend()
// function.
type Recommender struct {
	script *Script
}

// NewRecommender returns a recommender for s. s must define recommend().
func NewRecommender(s *Script) (*Recommender, error) {
	if !s.Has(RecommendFunc) {
		return nil, fmt.Errorf("script %s does not define %s()", s.Name(), RecommendFunc)
	}
	return &Recommender{script: s}, nil
}

// Recommend implements advisor.Recommender.
func (r *Recommender) Recommend(ctx context.Context, req advisor.RecommendationRequest) (*advisor.AlternativesReport, error) {
	product, err := toInput(req.Product)
	if err != nil {
		return nil, err
	}

	analyses := map[string]interface{}{}
	for kind, analysis := range req.Analyses {
		v, err := toInput(analysis)
		if err != nil {
			return nil, err
		}
		analyses[string(kind)] = v
	}

	raw, err := r.script.Call(ctx, RecommendFunc, product, analyses, req.Limit)
	if err != nil {
		return nil, classify(err)
	}

	report := &advisor.AlternativesReport{}
	if err := decode(raw, report); err != nil {
		return nil, engine.NewPermanentError("recommend() returned an unexpected value", err).
			WithCode(engine.ErrCodeContractViolation)
	}
	if report.Alternatives == nil {
		report.Alternatives = []advisor.Alternative{}
	}
	return report, nil
}

// toInput converts a value to the JSON-shaped map a script receives.
func toInput(v any) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script input: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode script input: %w", err)
	}
	return out, nil
}

func decode(raw interface{}, dst any) error {
	if _, ok := raw.(map[string]interface{}); !ok {
		return fmt.Errorf("expected a dict, got %T", raw)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return engine.NewTimeoutError("script timed out", err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return engine.NewPermanentError("script failed", err).WithCode(engine.ErrCodeTaskFailed)
	}
}
