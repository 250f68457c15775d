package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/healthgraph/pkg/engine"
)

// DefaultMaxFindings is how many findings per category a summary quotes.
const DefaultMaxFindings = 2

// ReportCompiler is the terminal node. It folds the final state into a
// Report by fixed rules and never fails.
type ReportCompiler struct {
	maxFindings int
	now         func() time.Time
}

// NewReportCompiler creates a compiler quoting up to maxFindings findings per
// category in the summary.
func NewReportCompiler(maxFindings int) *ReportCompiler {
	if maxFindings <= 0 {
		maxFindings = DefaultMaxFindings
	}
	return &ReportCompiler{maxFindings: maxFindings, now: time.Now}
}

// Execute implements engine.Task.
func (c *ReportCompiler) Execute(ctx context.Context, in engine.View) (*engine.Output, error) {
	out := engine.NewOutput()
	ReportKey.Set(out, c.compile(engine.RunIDFromContext(ctx), stateFromView(in)))
	return out, nil
}

// Compile builds a report directly from a final state snapshot. It serves
// runs whose terminal node could not finish.
func (c *ReportCompiler) Compile(runID string, snap engine.Snapshot) *Report {
	return c.compile(runID, stateFromSnapshot(snap))
}

// field is one resolved input of the compiler.
type field[T any] struct {
	value    T
	present  bool
	resolved bool
	status   engine.PatchStatus
	reason   string
}

func fromView[T any](k engine.Key[T], in engine.View) field[T] {
	v, ok := k.Get(in)
	return field[T]{
		value:    v,
		present:  ok,
		resolved: in.Has(k.Name()),
		status:   in.Status(k.Name()),
		reason:   in.Reason(k.Name()),
	}
}

func fromSnapshot[T any](k engine.Key[T], s engine.Snapshot) field[T] {
	v, ok := k.From(s)
	_, resolved := s.Writers[k.Name()]
	return field[T]{
		value:    v,
		present:  ok,
		resolved: resolved,
		status:   s.Statuses[k.Name()],
		reason:   s.Reasons[k.Name()],
	}
}

// compilerState is everything the compiler reads.
type compilerState struct {
	imagePath    field[string]
	extraction   field[*ExtractedIngredients]
	halted       field[bool]
	haltReason   field[string]
	analyses     map[AnalysisKind]field[*HealthAnalysis]
	alternatives field[*AlternativesReport]
}

func stateFromView(in engine.View) compilerState {
	s := compilerState{
		imagePath:    fromView(ImagePath, in),
		extraction:   fromView(Extraction, in),
		halted:       fromView(engine.ShortCircuit, in),
		haltReason:   fromView(engine.HaltReason, in),
		analyses:     make(map[AnalysisKind]field[*HealthAnalysis], len(AnalysisKinds)),
		alternatives: fromView(Alternatives, in),
	}
	for _, kind := range AnalysisKinds {
		s.analyses[kind] = fromView(AnalysisKey(kind), in)
	}
	return s
}

func stateFromSnapshot(snap engine.Snapshot) compilerState {
	s := compilerState{
		imagePath:    fromSnapshot(ImagePath, snap),
		extraction:   fromSnapshot(Extraction, snap),
		halted:       fromSnapshot(engine.ShortCircuit, snap),
		haltReason:   fromSnapshot(engine.HaltReason, snap),
		analyses:     make(map[AnalysisKind]field[*HealthAnalysis], len(AnalysisKinds)),
		alternatives: fromSnapshot(Alternatives, snap),
	}
	for _, kind := range AnalysisKinds {
		s.analyses[kind] = fromSnapshot(AnalysisKey(kind), snap)
	}
	return s
}

// sectionStatus maps a field to the status its section reports. A field
// that never resolved, or resolved ok without a value, counts as degraded.
func sectionStatus[T any](f field[T], nonNil bool) (engine.PatchStatus, string) {
	switch {
	case !f.resolved:
		return engine.PatchStatusDegraded, "not produced"
	case f.status == engine.PatchStatusSkipped:
		return engine.PatchStatusSkipped, f.reason
	case f.status == engine.PatchStatusDegraded:
		reason := f.reason
		if reason == "" {
			reason = "unknown error"
		}
		return engine.PatchStatusDegraded, reason
	case !f.present || !nonNil:
		return engine.PatchStatusDegraded, "no result"
	default:
		return engine.PatchStatusOK, ""
	}
}

func (c *ReportCompiler) compile(runID string, s compilerState) *Report {
	r := &Report{
		RunID:        runID,
		ImagePath:    s.imagePath.value,
		Ingredients:  []string{},
		Sections:     make([]Section, 0, len(AnalysisKinds)+1),
		Alternatives: []Alternative{},
		CompiledAt:   c.now(),
	}

	product := s.extraction.value
	if product != nil {
		cp := *product
		r.Extraction = &cp
		r.ProductName = product.ProductName
		r.Brand = product.Brand
		r.Ingredients = append(r.Ingredients, product.Ingredients...)
		r.Allergens = append([]string(nil), product.Allergens...)
	}

	for _, kind := range AnalysisKinds {
		r.Sections = append(r.Sections, analysisSection(kind, s.analyses[kind]))
	}
	r.Sections = append(r.Sections, alternativesSection(s.alternatives))
	if alt := s.alternatives.value; alt != nil && s.alternatives.status == engine.PatchStatusOK {
		r.Alternatives = append(r.Alternatives, alt.Alternatives...)
	}

	if s.halted.value {
		r.Status = engine.RunStatusShortCircuited
		r.Reason = s.haltReason.value
		if r.Reason == "" {
			r.Reason = "Unknown error during processing."
		}
		r.Summary = fmt.Sprintf("Analysis could not be completed for %s. Reason: %s",
			c.subject(s), ensurePeriod(r.Reason))
		return r
	}

	var unavailable []string
	if status, reason := sectionStatus(s.extraction, product != nil); status != engine.PatchStatusOK {
		unavailable = append(unavailable, fmt.Sprintf("Ingredient extraction unavailable: %s", ensurePeriod(reason)))
	}
	for _, sec := range r.Sections {
		if sec.Status != engine.PatchStatusOK {
			unavailable = append(unavailable, fmt.Sprintf("%s unavailable: %s", sectionTitle(sec.Name), ensurePeriod(sec.Error)))
		}
	}

	r.Status = engine.RunStatusComplete
	if len(unavailable) > 0 {
		r.Status = engine.RunStatusDegraded
		r.Reason = strings.Join(unavailable, " ")
	}

	r.Summary = c.summary(r, s, unavailable)
	return r
}

func (c *ReportCompiler) summary(r *Report, s compilerState, unavailable []string) string {
	var parts []string

	for _, kind := range AnalysisKinds {
		sec, _ := r.Section(string(kind))
		if sec.Status != engine.PatchStatusOK || len(sec.Findings) == 0 {
			continue
		}
		n := min(c.maxFindings, len(sec.Findings))
		parts = append(parts, fmt.Sprintf("%s: %s.", kind.SummaryLabel(), strings.Join(sec.Findings[:n], ", ")))
	}

	if len(r.Alternatives) > 0 {
		parts = append(parts, fmt.Sprintf("Consider alternatives like: %s.", r.Alternatives[0].ProductName))
	} else if alt := s.alternatives.value; alt != nil && s.alternatives.status == engine.PatchStatusOK && alt.Summary != "" {
		parts = append(parts, alt.Summary)
	}

	parts = append(parts, unavailable...)

	if len(parts) == 0 {
		return "Basic analysis complete."
	}
	return strings.Join(parts, " ")
}

// subject names the product in a short-circuit summary.
func (c *ReportCompiler) subject(s compilerState) string {
	if p := s.extraction.value; p != nil && p.ProductName != "" {
		return p.ProductName
	}
	if s.imagePath.value != "" {
		return s.imagePath.value
	}
	return "the food product"
}

func analysisSection(kind AnalysisKind, f field[*HealthAnalysis]) Section {
	sec := Section{Name: string(kind), Findings: []string{}}
	sec.Status, sec.Error = sectionStatus(f, f.value != nil)
	if f.value == nil {
		return sec
	}
	sec.Detail = f.value.DetailedAnalysis
	sec.Confidence = f.value.ConfidenceLevel
	if sec.Status == engine.PatchStatusOK {
		sec.Findings = append(sec.Findings, f.value.Findings...)
	}
	return sec
}

func alternativesSection(f field[*AlternativesReport]) Section {
	sec := Section{Name: SectionAlternatives, Findings: []string{}}
	sec.Status, sec.Error = sectionStatus(f, f.value != nil)
	if f.value == nil {
		return sec
	}
	sec.Detail = f.value.Summary
	if sec.Status == engine.PatchStatusOK {
		for _, alt := range f.value.Alternatives {
			sec.Findings = append(sec.Findings, alt.ProductName)
		}
	}
	return sec
}

func sectionTitle(name string) string {
	if name == SectionAlternatives {
		return "Alternatives"
	}
	return AnalysisKind(name).Title()
}

func ensurePeriod(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasSuffix(s, ".") {
		return s
	}
	return s + "."
}
