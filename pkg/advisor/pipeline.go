package advisor

import (
	"fmt"
	"time"

	"github.com/openfroyo/healthgraph/pkg/engine"
)

// Node IDs of the health advisor pipeline.
const (
	NodeExtract       = "extract_ingredients"
	NodeBenefits      = "analyze_benefits"
	NodeDisadvantages = "analyze_disadvantages"
	NodeDiseases      = "analyze_disease_associations"
	NodeAlternatives  = "recommend_alternatives"
	NodeCompileReport = "compile_final_report"
)

// AnalysisNode returns the node ID running an analysis kind.
func AnalysisNode(kind AnalysisKind) string {
	switch kind {
	case KindBenefits:
		return NodeBenefits
	case KindDisadvantages:
		return NodeDisadvantages
	default:
		return NodeDiseases
	}
}

// Options tunes the pipeline.
type Options struct {
	// MaxFindings is how many findings per category the summary quotes.
	MaxFindings int `mapstructure:"max_findings" yaml:"max_findings" validate:"gte=0"`

	// MaxAlternatives is how many alternatives are kept, at most three.
	MaxAlternatives int `mapstructure:"max_alternatives" yaml:"max_alternatives" validate:"gte=0,lte=3"`

	// ExtractTimeout bounds the entry node. Zero uses the scheduler default.
	ExtractTimeout time.Duration `mapstructure:"extract_timeout" yaml:"extract_timeout"`

	// AnalysisTimeout bounds each analysis node.
	AnalysisTimeout time.Duration `mapstructure:"analysis_timeout" yaml:"analysis_timeout"`

	// RecommendTimeout bounds the alternatives node.
	RecommendTimeout time.Duration `mapstructure:"recommend_timeout" yaml:"recommend_timeout"`
}

// Dependencies are the collaborators injected into the pipeline's tasks.
type Dependencies struct {
	// Extractor feeds the entry node. Defaults to a SeedExtractor.
	Extractor Extractor

	// Gate decides whether to short-circuit. Defaults to StatusGate.
	Gate Gate

	// Analyzer serves every analysis kind without an entry in Analyzers.
	Analyzer Analyzer

	// Analyzers overrides the analyzer per kind.
	Analyzers map[AnalysisKind]Analyzer

	// Recommender feeds the alternatives node.
	Recommender Recommender

	// Decorate wraps the task of every node except the report compiler,
	// e.g. with retry or rate limiting. Optional.
	Decorate func(nodeID string, task engine.Task) engine.Task

	// Options tunes the pipeline.
	Options Options
}

func (d Dependencies) decorate(nodeID string, task engine.Task) engine.Task {
	if d.Decorate == nil {
		return task
	}
	return d.Decorate(nodeID, task)
}

func (d Dependencies) analyzer(kind AnalysisKind) Analyzer {
	if a, ok := d.Analyzers[kind]; ok && a != nil {
		return a
	}
	return d.Analyzer
}

// NewGraph builds the health advisor graph:
//
//	extract_ingredients -> {analyze_benefits, analyze_disadvantages,
//	analyze_disease_associations} -> recommend_alternatives -> compile_final_report
//
// Edges follow from the declared fields; the compiler also reads the entry
// node's outputs directly.
func NewGraph(deps Dependencies) (*engine.Graph, error) {
	if deps.Extractor == nil {
		deps.Extractor = SeedExtractor{}
	}
	for _, kind := range AnalysisKinds {
		if deps.analyzer(kind) == nil {
			return nil, engine.NewConstructionError(engine.ErrCodeValidation,
				fmt.Sprintf("no analyzer for %s", kind)).WithNode(AnalysisNode(kind))
		}
	}
	if deps.Recommender == nil {
		return nil, engine.NewConstructionError(engine.ErrCodeValidation, "no recommender").
			WithNode(NodeAlternatives)
	}

	b := engine.NewGraphBuilder().Seed(engine.Fields(ImagePath, ImageValid, Ingredients)...)

	b.Node(engine.NodeSpec{
		ID:      NodeExtract,
		Inputs:  engine.Fields(ImagePath, ImageValid, Ingredients),
		Outputs: engine.Fields(Extraction, engine.ShortCircuit, engine.HaltReason),
		Task:    deps.decorate(NodeExtract, NewExtractionTask(deps.Extractor, deps.Gate)),
		Timeout: deps.Options.ExtractTimeout,
	})

	for _, kind := range AnalysisKinds {
		b.Node(engine.NodeSpec{
			ID:      AnalysisNode(kind),
			Inputs:  engine.Fields(Extraction),
			Outputs: engine.Fields(AnalysisKey(kind)),
			Task:    deps.decorate(AnalysisNode(kind), NewAnalysisTask(kind, deps.analyzer(kind))),
			Timeout: deps.Options.AnalysisTimeout,
		})
	}

	b.Node(engine.NodeSpec{
		ID:      NodeAlternatives,
		Inputs:  engine.Fields(Extraction, Benefits, Disadvantages, DiseaseAssociation),
		Outputs: engine.Fields(Alternatives),
		Task:    deps.decorate(NodeAlternatives, NewAlternativesTask(deps.Recommender, deps.Options.MaxAlternatives)),
		Timeout: deps.Options.RecommendTimeout,
	})

	b.Node(engine.NodeSpec{
		ID: NodeCompileReport,
		Inputs: engine.Fields(
			ImagePath, Extraction, engine.ShortCircuit, engine.HaltReason,
			Benefits, Disadvantages, DiseaseAssociation, Alternatives,
		),
		Outputs: engine.Fields(ReportKey),
		Task:    NewReportCompiler(deps.Options.MaxFindings),
	})

	return b.Build()
}
