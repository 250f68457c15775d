package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// Default scheduler limits.
const (
	DefaultRunDeadline   = 60 * time.Second
	DefaultNodeTimeout   = 30 * time.Second
	DefaultTerminalGrace = 2 * time.Second
)

// SchedulerConfig configures a Scheduler. Zero values select defaults.
type SchedulerConfig struct {
	// Deadline bounds a whole run. When it elapses every node that is not
	// done is force-patched degraded and the terminal node still runs.
	Deadline time.Duration

	// NodeTimeout bounds a single node execution unless the node sets its own.
	NodeTimeout time.Duration

	// TerminalGrace bounds the terminal node when it has to run after the
	// run deadline has already elapsed.
	TerminalGrace time.Duration

	// Telemetry receives logs, spans, metrics and events. Nil disables them.
	Telemetry *telemetry.Telemetry

	// Recorder persists finished runs. Optional.
	Recorder RunRecorder
}

// Scheduler executes a Graph in dependency order. Every node whose inputs are
// all present runs concurrently with the others; a node with several
// producers waits for all of them. A Scheduler holds no per-run state and can
// serve concurrent runs.
type Scheduler struct {
	graph  *Graph
	config SchedulerConfig
	tel    *telemetry.Telemetry
	logger zerolog.Logger
}

// NewScheduler creates a scheduler for a validated graph.
func NewScheduler(graph *Graph, cfg SchedulerConfig) *Scheduler {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultRunDeadline
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = DefaultNodeTimeout
	}
	if cfg.TerminalGrace <= 0 {
		cfg.TerminalGrace = DefaultTerminalGrace
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}

	return &Scheduler{
		graph:  graph,
		config: cfg,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("scheduler").Zerolog(),
	}
}

// Graph returns the graph the scheduler executes.
func (s *Scheduler) Graph() *Graph {
	return s.graph
}

// Run executes one run with a generated run ID.
func (s *Scheduler) Run(ctx context.Context, seed Seed) (*RunResult, error) {
	return s.RunWithID(ctx, uuid.New().String(), seed)
}

// RunWithID executes one run. The only errors returned are construction
// errors for an invalid seed and internal errors for a broken merge
// invariant; node failures, short-circuits and deadlines are reflected in
// the result instead.
func (s *Scheduler) RunWithID(ctx context.Context, runID string, seed Seed) (*RunResult, error) {
	if err := s.graph.CheckSeed(seed); err != nil {
		return nil, err
	}

	exec := s.newExecution(runID)
	if err := exec.seed(seed); err != nil {
		return nil, err
	}

	result, err := exec.run(ctx)
	if err != nil {
		return nil, err
	}

	if s.config.Recorder != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := s.config.Recorder.RecordRun(recordCtx, result); err != nil {
			exec.logger.Warn().Err(err).Msg("Failed to record run")
		}
		cancel()
	}

	return result, nil
}

type runIDKey struct{}

// RunIDFromContext returns the ID of the run executing the current task, or
// an empty string outside a run.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// completion carries a node's patch back to the scheduling loop.
type completion struct {
	nodeID  string
	patch   Patch
	invoked bool
}

// execution is the context of one run. Only the scheduling loop goroutine
// touches states and results; node goroutines talk to it through completions.
type execution struct {
	s           *Scheduler
	graph       *Graph
	runID       string
	store       *StateStore
	states      map[string]NodeState
	results     map[string]*NodeResult
	completions chan completion
	remaining   int
	timedOut    bool
	detached    context.Context
	startedAt   time.Time
	logger      zerolog.Logger
}

func (s *Scheduler) newExecution(runID string) *execution {
	e := &execution{
		s:           s,
		graph:       s.graph,
		runID:       runID,
		store:       NewStateStore(),
		states:      make(map[string]NodeState, len(s.graph.order)),
		results:     make(map[string]*NodeResult, len(s.graph.order)),
		completions: make(chan completion, len(s.graph.order)),
		remaining:   len(s.graph.order),
		logger:      s.logger.With().Str("run_id", runID).Logger(),
	}
	for _, id := range s.graph.order {
		e.states[id] = NodeStatePending
		e.results[id] = &NodeResult{NodeID: id, State: NodeStatePending}
	}
	return e
}

// seed resolves every declared seed field, with a nil value when not supplied.
func (e *execution) seed(seed Seed) error {
	decls := e.graph.SeedFields()
	if len(decls) == 0 {
		return nil
	}
	values := make(map[string]any, len(decls))
	for _, f := range decls {
		values[f.Name] = seed[f.Name]
	}
	now := time.Now()
	return e.store.Apply(Patch{
		NodeID:      SeedWriter,
		Status:      PatchStatusOK,
		Values:      values,
		StartedAt:   now,
		CompletedAt: now,
	})
}

func (e *execution) run(parent context.Context) (*RunResult, error) {
	e.startedAt = time.Now()
	tel := e.s.tel

	ctx, span := tel.Tracer.StartRunSpan(parent, e.runID)
	defer span.End()

	tel.Metrics.RecordRunStarted()
	_ = tel.Events.PublishRunStarted(e.runID, len(e.graph.order))
	e.logger.Info().Int("nodes", len(e.graph.order)).Msg("Run started")

	runCtx, cancel := context.WithTimeout(ctx, e.s.config.Deadline)
	defer cancel()

	// The terminal node must survive the run deadline; it is cancelled when
	// the run returns.
	detached, cancelDetached := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDetached()
	e.detached = detached

	e.launchReady(runCtx, []string{e.graph.entry})

	for e.remaining > 0 {
		select {
		case c := <-e.completions:
			if err := e.merge(c); err != nil {
				telemetry.RecordError(span, err)
				tel.Metrics.RecordRunCompleted("failed", time.Since(e.startedAt))
				return nil, err
			}
			if runCtx.Err() == nil {
				e.launchReady(runCtx, e.graph.dependents[c.nodeID])
			}

		case <-runCtx.Done():
			if err := e.abandon(ctx, runCtx.Err()); err != nil {
				telemetry.RecordError(span, err)
				tel.Metrics.RecordRunCompleted("failed", time.Since(e.startedAt))
				return nil, err
			}
		}
	}

	result := e.result()

	span.SetAttributes(telemetry.AttrRunStatus.String(string(result.Status)))
	telemetry.RecordSuccess(span)
	tel.Metrics.RecordRunCompleted(string(result.Status), result.Duration)
	_ = tel.Events.PublishRunCompleted(e.runID, string(result.Status), result.Duration)
	e.logger.Info().
		Str("status", string(result.Status)).
		Dur("duration", result.Duration).
		Bool("timed_out", result.TimedOut).
		Msg("Run completed")

	return result, nil
}

// launchReady launches every candidate that is pending and whose inputs are
// all present in the store. No node launches twice.
func (e *execution) launchReady(ctx context.Context, candidates []string) {
	for _, id := range candidates {
		if e.states[id] != NodeStatePending {
			continue
		}
		spec := e.graph.nodes[id]
		if !e.store.HasAll(spec.Inputs) {
			continue
		}
		e.states[id] = NodeStateReady
		e.launch(ctx, spec)
	}
}

// launch starts a ready node. The short-circuit check happens here, once,
// for every node between the entry node and the terminal node. The terminal
// node always runs so the run always ends with its output.
func (e *execution) launch(ctx context.Context, spec NodeSpec) {
	if spec.ID == e.graph.terminal && !e.timedOut {
		ctx = e.detached
	}
	e.states[spec.ID] = NodeStateRunning
	started := time.Now()
	e.results[spec.ID].StartedAt = started

	view := e.store.View(spec.ID, spec.Inputs)
	halted, reason := e.store.ShortCircuited()
	skip := halted && spec.ID != e.graph.entry && spec.ID != e.graph.terminal

	e.logger.Debug().Str("node_id", spec.ID).Bool("skip", skip).Msg("Node launched")
	if !skip {
		_ = e.s.tel.Events.PublishNodeStarted(e.runID, spec.ID)
	}

	go func() {
		var c completion
		if skip {
			c = completion{nodeID: spec.ID, patch: e.placeholder(spec, reason)}
		} else {
			c = completion{nodeID: spec.ID, patch: e.invoke(ctx, spec, view), invoked: true}
		}
		c.patch.StartedAt = started
		e.completions <- c
	}()
}

type taskResult struct {
	out *Output
	err error
}

// invoke executes a node's task under its timeout and converts the outcome
// into a patch. Task errors, panics, contract violations and timeouts all
// become degraded patches.
func (e *execution) invoke(ctx context.Context, spec NodeSpec, view View) Patch {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.s.config.NodeTimeout
	}
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nodeCtx, span := e.s.tel.Tracer.StartNodeSpan(nodeCtx, e.runID, spec.ID)
	defer span.End()
	nodeCtx = e.s.tel.Logger.WithRunID(e.runID).WithNodeID(spec.ID).WithContext(nodeCtx)
	nodeCtx = context.WithValue(nodeCtx, runIDKey{}, e.runID)

	resCh := make(chan taskResult, 1)
	go func() {
		out, err := safeExecute(nodeCtx, spec.Task, view)
		resCh <- taskResult{out: out, err: err}
	}()

	var patch Patch
	select {
	case r := <-resCh:
		patch = e.toPatch(spec, r.out, r.err)
	case <-nodeCtx.Done():
		// The task ignored its deadline; its eventual result is dropped.
		patch = degradedPatch(spec, NewTimeoutError(
			fmt.Sprintf("node exceeded its %s timeout", timeout), nodeCtx.Err()).WithNode(spec.ID))
	}
	patch.CompletedAt = time.Now()

	recordSpanOutcome(span, patch)
	return patch
}

// safeExecute runs a task and turns a panic into an error.
func safeExecute(ctx context.Context, task Task, view View) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewPermanentError(fmt.Sprintf("task panicked: %v", r), nil).
				WithCode(ErrCodePanic).
				WithDetail("stack", string(debug.Stack()))
		}
	}()
	return task.Execute(ctx, view)
}

// toPatch converts a task's result into a patch, enforcing the output contract.
func (e *execution) toPatch(spec NodeSpec, out *Output, err error) Patch {
	if err != nil {
		// Copy so a shared sentinel error is never attributed to a node.
		cp := *AsEngineError(err)
		engErr := &cp
		if errors.Is(err, context.DeadlineExceeded) && !IsTimeout(err) {
			engErr = NewTimeoutError("task did not finish before its deadline", err)
		}
		return degradedPatch(spec, engErr.WithNode(spec.ID))
	}

	values, violation := checkOutput(spec, out, true)
	if violation != nil {
		return degradedPatch(spec, violation.WithNode(spec.ID))
	}

	return Patch{
		NodeID:      spec.ID,
		Status:      PatchStatusOK,
		Values:      values,
		CompletedAt: time.Now(),
	}
}

// placeholder builds the skipped patch for a node of a short-circuited run
// without invoking its executor.
func (e *execution) placeholder(spec NodeSpec, reason string) Patch {
	if reason == "" {
		reason = "processing halted upstream"
	}
	patch := Patch{
		NodeID:      spec.ID,
		Status:      PatchStatusSkipped,
		Reason:      reason,
		Values:      emptyValues(spec),
		CompletedAt: time.Now(),
	}

	p, ok := spec.Task.(Placeholder)
	if !ok {
		return patch
	}
	out, err := safePlaceholder(p, reason)
	if err != nil {
		e.logger.Warn().Err(err).Str("node_id", spec.ID).Msg("Placeholder failed, using empty values")
		return patch
	}
	values, violation := checkOutput(spec, out, false)
	if violation != nil {
		e.logger.Warn().Err(violation).Str("node_id", spec.ID).Msg("Invalid placeholder, using empty values")
		return patch
	}
	patch.Values = values
	return patch
}

func safePlaceholder(p Placeholder, reason string) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("placeholder panicked: %v", r)
		}
	}()
	return p.Placeholder(reason), nil
}

// checkOutput validates an output against the node's declared outputs and
// returns the values to merge. With strict set, every declared output must
// be written; otherwise missing outputs resolve without a value.
func checkOutput(spec NodeSpec, out *Output, strict bool) (map[string]any, *EngineError) {
	if out == nil {
		return nil, NewPermanentError("task returned no output", nil).WithCode(ErrCodeContractViolation)
	}

	declared := make(map[string]FieldDecl, len(spec.Outputs))
	for _, f := range spec.Outputs {
		declared[f.Name] = f
	}

	names := make([]string, 0, len(out.values))
	for name := range out.values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		decl, ok := declared[name]
		if !ok {
			return nil, NewPermanentError("task wrote an undeclared field", nil).
				WithCode(ErrCodeContractViolation).WithField(name)
		}
		value := out.values[name]
		if value != nil && decl.Type != nil && !reflect.TypeOf(value).AssignableTo(decl.Type) {
			return nil, NewPermanentError(
				fmt.Sprintf("task wrote %T, declared %s", value, decl.Type), nil,
			).WithCode(ErrCodeContractViolation).WithField(name)
		}
	}

	values := make(map[string]any, len(spec.Outputs))
	for _, f := range spec.Outputs {
		value, ok := out.values[f.Name]
		if !ok && strict {
			return nil, NewPermanentError("task left a declared output unset", nil).
				WithCode(ErrCodeContractViolation).WithField(f.Name)
		}
		values[f.Name] = value
	}
	return values, nil
}

func emptyValues(spec NodeSpec) map[string]any {
	values := make(map[string]any, len(spec.Outputs))
	for _, f := range spec.Outputs {
		values[f.Name] = nil
	}
	return values
}

func degradedPatch(spec NodeSpec, err *EngineError) Patch {
	return Patch{
		NodeID:      spec.ID,
		Status:      PatchStatusDegraded,
		Values:      emptyValues(spec),
		Reason:      describe(err),
		Err:         err,
		CompletedAt: time.Now(),
	}
}

// describe renders the short reason stored next to degraded fields.
func describe(err *EngineError) string {
	switch {
	case err == nil:
		return ""
	case err.Class == ErrorClassTimeout:
		return "timeout"
	case err.Err != nil:
		return err.Err.Error()
	default:
		return err.Message
	}
}

// merge applies a completed node's patch and marks the node done. Results
// from nodes that were already force-patched are discarded.
func (e *execution) merge(c completion) error {
	if e.states[c.nodeID] == NodeStateDone {
		e.logger.Debug().Str("node_id", c.nodeID).Msg("Discarding late result")
		return nil
	}

	if err := e.store.Apply(c.patch); err != nil {
		e.logger.Error().Err(err).Str("node_id", c.nodeID).Msg("Patch merge failed")
		return err
	}

	e.finish(c.nodeID, c.patch, c.invoked)

	if c.nodeID == e.graph.entry {
		if halted, reason := e.store.ShortCircuited(); halted {
			e.logger.Info().Str("reason", reason).Msg("Run short-circuited by entry node")
			e.s.tel.Metrics.RecordShortCircuit()
			_ = e.s.tel.Events.PublishRunShortCircuited(e.runID, reason)
		}
	}

	return nil
}

// finish records a node's outcome once its patch is merged.
func (e *execution) finish(id string, patch Patch, invoked bool) {
	e.states[id] = NodeStateDone
	e.remaining--

	res := e.results[id]
	res.State = NodeStateDone
	res.Status = patch.Status
	res.Reason = patch.Reason
	res.Error = patch.Err
	res.Invoked = invoked
	res.CompletedAt = patch.CompletedAt
	if !res.StartedAt.IsZero() {
		res.Duration = res.CompletedAt.Sub(res.StartedAt)
	}

	tel := e.s.tel
	tel.Metrics.RecordNodeExecution(id, string(patch.Status), res.Duration)
	if patch.Err != nil {
		tel.Metrics.RecordTaskError(string(patch.Err.Class), patch.Err.Code)
	}
	_ = tel.Events.PublishNodeCompleted(e.runID, id, string(patch.Status), patch.Reason, res.Duration)

	event := e.logger.Debug()
	if patch.Status == PatchStatusDegraded {
		event = e.logger.Warn().Err(patch.Err)
	}
	event.Str("node_id", id).
		Str("status", string(patch.Status)).
		Dur("duration", res.Duration).
		Msg("Node done")
}

// abandon handles an elapsed run deadline or a cancelled caller. Every node
// that is not done, except the terminal node, is force-patched degraded;
// the terminal node then gets a bounded grace period to produce its output.
func (e *execution) abandon(ctx context.Context, cause error) error {
	e.timedOut = true
	reason, message := "timeout", "run deadline exceeded"
	if errors.Is(cause, context.Canceled) {
		reason, message = "cancelled", "run cancelled"
	}

	var abandoned []string
	now := time.Now()
	for _, id := range e.graph.order {
		if id == e.graph.terminal || e.states[id] == NodeStateDone {
			continue
		}
		abandoned = append(abandoned, id)
		spec := e.graph.nodes[id]
		patch := degradedPatch(spec, NewTimeoutError(message, cause).WithNode(id))
		patch.Reason = reason
		patch.StartedAt = e.results[id].StartedAt
		patch.CompletedAt = now
		if err := e.store.Apply(patch); err != nil {
			return err
		}
		e.finish(id, patch, e.states[id] == NodeStateRunning)
	}

	e.logger.Warn().Strs("abandoned", abandoned).Str("reason", reason).Msg("Run deadline reached")
	e.s.tel.Metrics.RecordRunTimeout()
	_ = e.s.tel.Events.PublishRunTimedOut(e.runID, abandoned)

	if e.states[e.graph.terminal] == NodeStateDone {
		return nil
	}

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.s.config.TerminalGrace)
	defer cancel()

	e.launchReady(graceCtx, []string{e.graph.terminal})

	for e.states[e.graph.terminal] != NodeStateDone {
		select {
		case c := <-e.completions:
			if c.nodeID != e.graph.terminal {
				e.logger.Debug().Str("node_id", c.nodeID).Msg("Discarding late result")
				continue
			}
			if err := e.merge(c); err != nil {
				return err
			}
		case <-graceCtx.Done():
			spec := e.graph.nodes[e.graph.terminal]
			patch := degradedPatch(spec, NewTimeoutError("terminal node exceeded its grace period", graceCtx.Err()).
				WithNode(spec.ID))
			patch.StartedAt = e.results[spec.ID].StartedAt
			if err := e.store.Apply(patch); err != nil {
				return err
			}
			e.finish(spec.ID, patch, e.states[spec.ID] == NodeStateRunning)
		}
	}

	return nil
}

// result assembles the RunResult from the final store and node outcomes.
func (e *execution) result() *RunResult {
	completed := time.Now()
	halted, reason := e.store.ShortCircuited()

	status := RunStatusComplete
	for _, res := range e.results {
		if res.Status != PatchStatusOK {
			status = RunStatusDegraded
			break
		}
	}
	if halted {
		status = RunStatusShortCircuited
	}

	nodes := make(map[string]NodeResult, len(e.results))
	for id, res := range e.results {
		nodes[id] = *res
	}

	return &RunResult{
		RunID:          e.runID,
		Status:         status,
		ShortCircuited: halted,
		HaltReason:     reason,
		TimedOut:       e.timedOut,
		Nodes:          nodes,
		State:          e.store.Snapshot(),
		Patches:        e.store.Patches(),
		StartedAt:      e.startedAt,
		CompletedAt:    completed,
		Duration:       completed.Sub(e.startedAt),
	}
}

func recordSpanOutcome(span trace.Span, patch Patch) {
	span.SetAttributes(telemetry.AttrPatchStatus.String(string(patch.Status)))
	if patch.Err != nil {
		span.SetAttributes(
			telemetry.AttrErrorClass.String(string(patch.Err.Class)),
			telemetry.AttrErrorCode.String(patch.Err.Code),
		)
		telemetry.RecordError(span, patch.Err)
		return
	}
	telemetry.RecordSuccess(span)
}
