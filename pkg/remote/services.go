package remote

import (
	"context"

	"github.com/openfroyo/healthgraph/pkg/advisor"
)

// Service paths.
const (
	PathExtract   = "/v1/extract"
	PathAnalyze   = "/v1/analyze/"
	PathRecommend = "/v1/recommend"
)

// Extractor is an advisor.Extractor calling a remote extraction service.
type Extractor struct {
	client *Client
}

// NewExtractor creates a remote extractor.
func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

// Extract implements advisor.Extractor.
func (e *Extractor) Extract(ctx context.Context, req advisor.ExtractionRequest) (*advisor.ExtractedIngredients, error) {
	var out advisor.ExtractedIngredients
	if err := e.client.Post(ctx, PathExtract, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeRequest is the body sent to the analysis service.
type AnalyzeRequest struct {
	Kind    advisor.AnalysisKind          `json:"kind"`
	Product *advisor.ExtractedIngredients `json:"product"`
}

// Analyzer is an advisor.Analyzer calling a remote analysis service. Each
// kind is posted to its own path under PathAnalyze.
type Analyzer struct {
	client *Client
}

// NewAnalyzer creates a remote analyzer.
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

// Analyze implements advisor.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, kind advisor.AnalysisKind, product *advisor.ExtractedIngredients) (*advisor.HealthAnalysis, error) {
	var out advisor.HealthAnalysis
	if err := a.client.Post(ctx, PathAnalyze+string(kind), AnalyzeRequest{Kind: kind, Product: product}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recommender is an advisor.Recommender calling a remote recommendation service.
type Recommender struct {
	client *Client
}

// NewRecommender creates a remote recommender.
func NewRecommender(client *Client) *Recommender {
	return &Recommender{client: client}
}

// Recommend implements advisor.Recommender.
func (r *Recommender) Recommend(ctx context.Context, req advisor.RecommendationRequest) (*advisor.AlternativesReport, error) {
	var out advisor.AlternativesReport
	if err := r.client.Post(ctx, PathRecommend, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
