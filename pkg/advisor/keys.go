package advisor

import "github.com/openfroyo/healthgraph/pkg/engine"

// Seed fields.
var (
	ImagePath   = engine.NewKey[string]("image_path")
	ImageValid  = engine.NewKey[bool]("image_valid")
	Ingredients = engine.NewKey[[]string]("ingredients")
)

// Fields produced by the pipeline nodes.
var (
	Extraction         = engine.NewKey[*ExtractedIngredients]("extraction")
	Benefits           = engine.NewKey[*HealthAnalysis]("benefits")
	Disadvantages      = engine.NewKey[*HealthAnalysis]("disadvantages")
	DiseaseAssociation = engine.NewKey[*HealthAnalysis]("disease_associations")
	Alternatives       = engine.NewKey[*AlternativesReport]("alternatives")
	ReportKey          = engine.NewKey[*Report]("report")
)

// AnalysisKey returns the field an analysis kind writes.
func AnalysisKey(kind AnalysisKind) engine.Key[*HealthAnalysis] {
	switch kind {
	case KindBenefits:
		return Benefits
	case KindDisadvantages:
		return Disadvantages
	default:
		return DiseaseAssociation
	}
}
