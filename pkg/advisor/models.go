package advisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/healthgraph/pkg/engine"
)

var validate = validator.New()

// ValidationStatus is the outcome of checking that an image shows a food
// product with a readable ingredients list.
type ValidationStatus string

const (
	// StatusValidFoodImage means extraction can be trusted.
	StatusValidFoodImage ValidationStatus = "valid_food_image"

	// StatusInvalidNotFood means the image does not show a food product.
	StatusInvalidNotFood ValidationStatus = "invalid_not_food"

	// StatusInvalidNoIngredients means no ingredients list was readable.
	StatusInvalidNoIngredients ValidationStatus = "invalid_no_ingredients"

	// StatusInvalidPoorQuality means the image is too poor to analyze.
	StatusInvalidPoorQuality ValidationStatus = "invalid_poor_quality"

	// StatusError means extraction itself failed.
	StatusError ValidationStatus = "error"
)

// Validate checks if the validation status is valid.
func (s ValidationStatus) Validate() error {
	switch s {
	case StatusValidFoodImage, StatusInvalidNotFood, StatusInvalidNoIngredients,
		StatusInvalidPoorQuality, StatusError:
		return nil
	default:
		return fmt.Errorf("invalid validation status: %s", s)
	}
}

// DefaultExtractionError is used when an error status carries no message.
const DefaultExtractionError = "An unspecified error occurred during image processing."

// NutritionalInfo holds per-100g nutrition facts. Unknown values are nil.
type NutritionalInfo struct {
	CaloriesPer100g *float64 `json:"calories_per_100g,omitempty" yaml:"calories_per_100g" validate:"omitempty,gte=0"`
	ProteinGrams    *float64 `json:"protein_grams,omitempty" yaml:"protein_grams" validate:"omitempty,gte=0"`
	FatGrams        *float64 `json:"fat_grams,omitempty" yaml:"fat_grams" validate:"omitempty,gte=0"`
	CarbsGrams      *float64 `json:"carbohydrates_grams,omitempty" yaml:"carbohydrates_grams" validate:"omitempty,gte=0"`
	FiberGrams      *float64 `json:"fiber_grams,omitempty" yaml:"fiber_grams" validate:"omitempty,gte=0"`
	SugarGrams      *float64 `json:"sugar_grams,omitempty" yaml:"sugar_grams" validate:"omitempty,gte=0"`
	SodiumMg        *float64 `json:"sodium_mg,omitempty" yaml:"sodium_mg" validate:"omitempty,gte=0"`
}

// ExtractedIngredients is what the entry node learned about the product.
type ExtractedIngredients struct {
	// Status is the image validation outcome.
	Status ValidationStatus `json:"validation_status" validate:"required,oneof=valid_food_image invalid_not_food invalid_no_ingredients invalid_poor_quality error"`

	// IsFoodProduct reports whether the image shows a food product, if known.
	IsFoodProduct *bool `json:"is_food_product,omitempty"`

	// HasIngredientsList reports whether an ingredients list was detected, if known.
	HasIngredientsList *bool `json:"has_ingredients_list,omitempty"`

	// ImageQuality is a coarse quality assessment such as good, fair or poor.
	ImageQuality string `json:"image_quality_assessment,omitempty"`

	// Ingredients are the listed ingredients, in label order.
	Ingredients []string `json:"ingredients"`

	// Allergens are allergens mentioned on the label.
	Allergens []string `json:"allergens"`

	// Warnings are dietary warnings or notices.
	Warnings []string `json:"warnings"`

	// NutritionalInfo holds nutrition facts when available.
	NutritionalInfo *NutritionalInfo `json:"nutritional_info,omitempty" validate:"omitempty"`

	// ProductName is the product name, if visible.
	ProductName string `json:"product_name,omitempty"`

	// Brand is the brand name, if visible.
	Brand string `json:"brand,omitempty"`

	// ConfidenceScore is the extractor's confidence between 0 and 1.
	ConfidenceScore float64 `json:"confidence_score" validate:"gte=0,lte=1"`

	// ErrorMessage explains an invalid or error status.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Normalize trims list entries, drops empty ones and fills in the error
// message for an error status.
func (e *ExtractedIngredients) Normalize() {
	e.Ingredients = cleanList(e.Ingredients)
	e.Allergens = cleanList(e.Allergens)
	e.Warnings = cleanList(e.Warnings)
	if e.Status == StatusError && e.ErrorMessage == "" {
		e.ErrorMessage = DefaultExtractionError
	}
}

// Validate checks the struct constraints.
func (e *ExtractedIngredients) Validate() error {
	return validate.Struct(e)
}

// Valid reports whether the image passed validation.
func (e *ExtractedIngredients) Valid() bool {
	return e != nil && e.Status == StatusValidFoodImage
}

// DisplayName returns the product name or a generic fallback.
func (e *ExtractedIngredients) DisplayName() string {
	if e == nil || e.ProductName == "" {
		return "the food product"
	}
	return e.ProductName
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ConfidenceLevel grades an analysis.
type ConfidenceLevel string

const (
	ConfidenceHigh          ConfidenceLevel = "High"
	ConfidenceMedium        ConfidenceLevel = "Medium"
	ConfidenceLow           ConfidenceLevel = "Low"
	ConfidenceNotApplicable ConfidenceLevel = "N/A"
	ConfidenceError         ConfidenceLevel = "Error"
)

// AnalysisKind names one of the three parallel analyses.
type AnalysisKind string

const (
	KindBenefits           AnalysisKind = "benefits"
	KindDisadvantages      AnalysisKind = "disadvantages"
	KindDiseaseAssociation AnalysisKind = "disease_associations"
)

// AnalysisKinds lists the analyses in report order.
var AnalysisKinds = []AnalysisKind{KindBenefits, KindDisadvantages, KindDiseaseAssociation}

// Title returns the human-facing section title.
func (k AnalysisKind) Title() string {
	switch k {
	case KindBenefits:
		return "Benefits"
	case KindDisadvantages:
		return "Disadvantages"
	case KindDiseaseAssociation:
		return "Disease associations"
	default:
		return string(k)
	}
}

// SummaryLabel returns the prefix used for this kind's findings in a report summary.
func (k AnalysisKind) SummaryLabel() string {
	if k == KindDisadvantages {
		return "Concerns"
	}
	return k.Title()
}

// HealthAnalysis is the result of one analysis node.
type HealthAnalysis struct {
	// AnalysisType is the kind of analysis.
	AnalysisType AnalysisKind `json:"analysis_type" validate:"required,oneof=benefits disadvantages disease_associations"`

	// Findings are the key findings, most important first.
	Findings []string `json:"findings"`

	// DetailedAnalysis is the long-form analysis text.
	DetailedAnalysis string `json:"detailed_analysis"`

	// ConfidenceLevel grades the analysis.
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`

	// SourcesConsulted lists sources or knowledge areas used.
	SourcesConsulted []string `json:"sources_consulted,omitempty"`

	// HealthScoreImpact is the impact on an overall health score, -10 to +10.
	HealthScoreImpact *float64 `json:"health_score_impact,omitempty" validate:"omitempty,gte=-10,lte=10"`
}

// Validate checks the struct constraints.
func (a *HealthAnalysis) Validate() error {
	return validate.Struct(a)
}

// Alternative is a healthier product suggestion.
type Alternative struct {
	ProductName           string `json:"product_name" validate:"required"`
	Reason                string `json:"reason" validate:"required"`
	Availability          string `json:"availability,omitempty"`
	NutritionalComparison string `json:"nutritional_comparison,omitempty"`
}

// MaxAlternatives is the most alternatives a report may carry.
const MaxAlternatives = 3

// AlternativesReport is the result of the alternatives node.
type AlternativesReport struct {
	// Alternatives are the suggestions, best first. At most three.
	Alternatives []Alternative `json:"alternatives" validate:"max=3,dive"`

	// Summary explains why alternatives are suggested, or that the product is fine.
	Summary string `json:"summary"`
}

// Validate checks the struct constraints.
func (r *AlternativesReport) Validate() error {
	return validate.Struct(r)
}

// Section names used in reports.
const (
	SectionBenefits           = string(KindBenefits)
	SectionDisadvantages      = string(KindDisadvantages)
	SectionDiseaseAssociation = string(KindDiseaseAssociation)
	SectionAlternatives       = "alternatives"
)

// Section is one downstream part of a report.
type Section struct {
	// Name identifies the section.
	Name string `json:"name"`

	// Status is the status of the node that produced the section.
	Status engine.PatchStatus `json:"status"`

	// Findings are the section's findings; alternatives list product names.
	Findings []string `json:"findings"`

	// Detail is the long-form text.
	Detail string `json:"detail,omitempty"`

	// Confidence grades the section.
	Confidence ConfidenceLevel `json:"confidence,omitempty"`

	// Error explains a degraded or skipped section.
	Error string `json:"error,omitempty"`
}

// Report is the final, immutable synthesis of one run.
type Report struct {
	// RunID is the run that produced the report.
	RunID string `json:"run_id"`

	// Status is complete, degraded or short_circuited.
	Status engine.RunStatus `json:"status"`

	// Summary is the human-facing summary.
	Summary string `json:"summary"`

	// Reason explains a status other than complete.
	Reason string `json:"reason,omitempty"`

	// ImagePath is the analyzed image, if any.
	ImagePath string `json:"image_path,omitempty"`

	// ProductName and Brand identify the product.
	ProductName string `json:"product_name,omitempty"`
	Brand       string `json:"brand,omitempty"`

	// Ingredients and Allergens are copied from the extraction.
	Ingredients []string `json:"ingredients"`
	Allergens   []string `json:"allergens,omitempty"`

	// Extraction is the entry node's output, if it produced one.
	Extraction *ExtractedIngredients `json:"extraction,omitempty"`

	// Sections holds benefits, disadvantages, disease associations and
	// alternatives, in that order.
	Sections []Section `json:"sections"`

	// Alternatives are the suggested products.
	Alternatives []Alternative `json:"alternatives"`

	// CompiledAt is when the report was compiled.
	CompiledAt time.Time `json:"compiled_at"`
}

// Section returns the named section.
func (r *Report) Section(name string) (Section, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}
