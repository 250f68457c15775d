package advisor

import "context"

// ExtractionRequest is what the entry node hands to an Extractor.
type ExtractionRequest struct {
	// ImagePath locates the product image.
	ImagePath string `json:"image_path,omitempty"`

	// ImageValid carries a validation verdict made before the run, if any.
	ImageValid *bool `json:"image_valid,omitempty"`

	// Ingredients carries an ingredients list supplied with the request, if any.
	Ingredients []string `json:"ingredients,omitempty"`
}

// Extractor validates a product image and extracts its ingredients.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (*ExtractedIngredients, error)
}

// Analyzer produces one kind of health analysis for a product.
type Analyzer interface {
	Analyze(ctx context.Context, kind AnalysisKind, product *ExtractedIngredients) (*HealthAnalysis, error)
}

// RecommendationRequest is what the alternatives node hands to a Recommender.
type RecommendationRequest struct {
	// Product is the extracted product.
	Product *ExtractedIngredients `json:"product"`

	// Analyses holds the analyses that completed, keyed by kind.
	Analyses map[AnalysisKind]*HealthAnalysis `json:"analyses"`

	// Limit is the most alternatives wanted.
	Limit int `json:"limit"`
}

// Recommender suggests healthier alternatives.
type Recommender interface {
	Recommend(ctx context.Context, req RecommendationRequest) (*AlternativesReport, error)
}

// Admission is a Gate's verdict on an extraction.
type Admission struct {
	// Allowed reports whether downstream analysis should run.
	Allowed bool `json:"allowed"`

	// Reason explains a denial.
	Reason string `json:"reason,omitempty"`

	// Violations lists every rule that denied admission.
	Violations []string `json:"violations,omitempty"`
}

// Gate decides whether an extraction is good enough to analyze.
type Gate interface {
	Admit(ctx context.Context, product *ExtractedIngredients) (Admission, error)
}

// StatusGate admits exactly the extractions with a valid status.
type StatusGate struct{}

// Admit implements Gate.
func (StatusGate) Admit(ctx context.Context, product *ExtractedIngredients) (Admission, error) {
	if product.Valid() {
		return Admission{Allowed: true}, nil
	}
	reason := "Image validation failed."
	if product != nil && product.ErrorMessage != "" {
		reason = product.ErrorMessage
	}
	return Admission{Allowed: false, Reason: reason, Violations: []string{reason}}, nil
}
