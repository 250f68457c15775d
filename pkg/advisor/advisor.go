package advisor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// Request is one analysis request.
type Request struct {
	// ImagePath locates the product image.
	ImagePath string `json:"image_path,omitempty" validate:"required_without=ImageValid"`

	// ImageValid carries a validation verdict made before the run.
	ImageValid *bool `json:"image_valid,omitempty"`

	// Ingredients carries a known ingredients list.
	Ingredients []string `json:"ingredients,omitempty" validate:"omitempty,dive,required"`
}

// Validate checks the request constraints.
func (r Request) Validate() error {
	return validate.Struct(r)
}

// Seed converts the request into the run's initial state.
func (r Request) Seed() engine.Seed {
	seed := engine.Seed{}
	if r.ImagePath != "" {
		ImagePath.Seed(seed, r.ImagePath)
	}
	if r.ImageValid != nil {
		ImageValid.Seed(seed, *r.ImageValid)
	}
	if r.Ingredients != nil {
		Ingredients.Seed(seed, append([]string(nil), r.Ingredients...))
	}
	return seed
}

// Result is a finished analysis.
type Result struct {
	// Report is the compiled report. Never nil.
	Report *Report `json:"report"`

	// Run is the engine's record of the run.
	Run *engine.RunResult `json:"run"`

	// Fallback reports that the terminal node failed and the report was
	// compiled from the final state instead.
	Fallback bool `json:"fallback,omitempty"`
}

// Advisor runs the health advisor pipeline.
type Advisor struct {
	graph     *engine.Graph
	scheduler *engine.Scheduler
	compiler  *ReportCompiler
	logger    zerolog.Logger
}

// New builds the pipeline graph and a scheduler for it.
func New(deps Dependencies, cfg engine.SchedulerConfig) (*Advisor, error) {
	graph, err := NewGraph(deps)
	if err != nil {
		return nil, err
	}

	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}

	return &Advisor{
		graph:     graph,
		scheduler: engine.NewScheduler(graph, cfg),
		compiler:  NewReportCompiler(deps.Options.MaxFindings),
		logger:    tel.Logger.NewComponentLogger("advisor").Zerolog(),
	}, nil
}

// Graph returns the pipeline graph.
func (a *Advisor) Graph() *engine.Graph {
	return a.graph
}

// Analyze runs the pipeline for one request. Errors are returned only for
// invalid requests and broken engine invariants; everything else is
// reflected in the report.
func (a *Advisor) Analyze(ctx context.Context, req Request) (*Result, error) {
	return a.AnalyzeWithID(ctx, uuid.New().String(), req)
}

// AnalyzeWithID is Analyze with a caller-chosen run ID.
func (a *Advisor) AnalyzeWithID(ctx context.Context, runID string, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	run, err := a.scheduler.RunWithID(ctx, runID, req.Seed())
	if err != nil {
		return nil, err
	}

	result := &Result{Run: run}
	if report, ok := ReportKey.From(run.State); ok && report != nil {
		result.Report = report
		return result, nil
	}

	a.logger.Warn().
		Str("run_id", run.RunID).
		Msg("Report compiler did not finish, compiling from final state")
	result.Report = a.compiler.Compile(run.RunID, run.State)
	result.Fallback = true
	return result, nil
}
