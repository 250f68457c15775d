package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// FieldDecl declares a named, typed state field.
type FieldDecl struct {
	// Name is the globally unique field name.
	Name string `json:"name"`

	// Type is the Go type stored under the field.
	Type reflect.Type `json:"-"`
}

// String returns the field name with its type.
func (f FieldDecl) String() string {
	if f.Type == nil {
		return f.Name
	}
	return fmt.Sprintf("%s(%s)", f.Name, f.Type)
}

// Declarer is implemented by anything that can describe a field, such as Key.
type Declarer interface {
	Decl() FieldDecl
}

// Fields collects field declarations, typically from Keys.
func Fields(keys ...Declarer) []FieldDecl {
	decls := make([]FieldDecl, 0, len(keys))
	for _, k := range keys {
		decls = append(decls, k.Decl())
	}
	return decls
}

// Key is a typed handle on a state field. Tasks read their inputs and write
// their outputs through keys so values never cross the store untyped.
type Key[T any] struct {
	name string
}

// NewKey creates a key for the named field.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the field name.
func (k Key[T]) Name() string {
	return k.name
}

// Decl returns the field declaration for graph construction.
func (k Key[T]) Decl() FieldDecl {
	return FieldDecl{Name: k.name, Type: reflect.TypeFor[T]()}
}

// Get reads the field from a task's input view. The boolean is false when the
// field is absent, undeclared, or was resolved without a value by a degraded
// or skipped producer.
func (k Key[T]) Get(v View) (T, bool) {
	return cast[T](v.values[k.name])
}

// From reads the field from a final state snapshot.
func (k Key[T]) From(s Snapshot) (T, bool) {
	return cast[T](s.Values[k.name])
}

// Set writes the field into a task's output.
func (k Key[T]) Set(o *Output, value T) {
	o.values[k.name] = value
}

// Seed writes the field into the initial state of a run.
func (k Key[T]) Seed(s Seed, value T) {
	s[k.name] = value
}

func cast[T any](raw any) (T, bool) {
	var zero T
	if raw == nil {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

// Seed is the initial state supplied at run start, keyed by field name.
type Seed map[string]any

// View is the read-only projection of the state a task receives. It holds
// exactly the fields the node declared as inputs.
type View struct {
	node     string
	values   map[string]any
	statuses map[string]PatchStatus
	reasons  map[string]string
}

// Node returns the ID of the node the view was built for.
func (v View) Node() string {
	return v.node
}

// Has reports whether the field was resolved, with or without a value.
func (v View) Has(field string) bool {
	_, ok := v.statuses[field]
	return ok
}

// Status returns the status of the patch that resolved the field. Seeded
// fields report PatchStatusOK.
func (v View) Status(field string) PatchStatus {
	return v.statuses[field]
}

// Reason returns the degradation or skip reason recorded for the field's producer.
func (v View) Reason(field string) string {
	return v.reasons[field]
}

// Fields returns the names of the fields in the view, sorted.
func (v View) Fields() []string {
	names := make([]string, 0, len(v.statuses))
	for name := range v.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewView builds a view directly from values, all reported as ok. It lets
// task implementations be exercised without a scheduler.
func NewView(node string, values map[string]any) View {
	v := View{
		node:     node,
		values:   make(map[string]any, len(values)),
		statuses: make(map[string]PatchStatus, len(values)),
		reasons:  make(map[string]string),
	}
	for name, value := range values {
		v.values[name] = value
		v.statuses[name] = PatchStatusOK
	}
	return v
}

// Output is the set of field values a task produces.
type Output struct {
	values map[string]any
}

// NewOutput creates an empty output.
func NewOutput() *Output {
	return &Output{values: make(map[string]any)}
}

// Len returns the number of fields written.
func (o *Output) Len() int {
	if o == nil {
		return 0
	}
	return len(o.values)
}

// Lookup returns the raw value written for a field.
func (o *Output) Lookup(field string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[field]
	return v, ok
}

// Task is the contract every node implementation satisfies. Given the node's
// input view it returns an output covering exactly the node's declared output
// fields, or an error. Tasks must honor ctx cancellation.
type Task interface {
	Execute(ctx context.Context, in View) (*Output, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context, in View) (*Output, error)

// Execute calls f.
func (f TaskFunc) Execute(ctx context.Context, in View) (*Output, error) {
	return f(ctx, in)
}

// Placeholder is implemented by tasks that can describe their outputs when a
// run is short-circuited. The scheduler calls it instead of Execute; tasks
// that do not implement it resolve their outputs without a value.
type Placeholder interface {
	Placeholder(reason string) *Output
}

// NodeSpec describes one node of a graph.
type NodeSpec struct {
	// ID is the unique node identifier.
	ID string `json:"id"`

	// Inputs are the fields the node reads. Each must be seeded or produced
	// by exactly one other node.
	Inputs []FieldDecl `json:"inputs"`

	// Outputs are the fields the node writes. Each field has one producer.
	Outputs []FieldDecl `json:"outputs"`

	// Task is the node implementation.
	Task Task `json:"-"`

	// Timeout bounds a single execution. Zero uses the scheduler default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Patch is the output of one node execution, merged atomically into the store.
type Patch struct {
	// NodeID is the producing node. Seed patches use SeedWriter.
	NodeID string `json:"node_id"`

	// Status is the execution status.
	Status PatchStatus `json:"status"`

	// Values maps each declared output field to its value. Degraded and
	// skipped patches may carry nil values.
	Values map[string]any `json:"values"`

	// Reason explains a degraded or skipped status.
	Reason string `json:"reason,omitempty"`

	// Err is the classified failure behind a degraded status.
	Err *EngineError `json:"error,omitempty"`

	// StartedAt is when the node was launched.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the patch was produced.
	CompletedAt time.Time `json:"completed_at"`
}

// SeedWriter is the writer recorded for fields supplied in the seed.
const SeedWriter = "seed"

// NodeResult is the outcome of one node within a run.
type NodeResult struct {
	// NodeID is the node identifier.
	NodeID string `json:"node_id"`

	// State is the final lifecycle state, always done for finished runs.
	State NodeState `json:"state"`

	// Status is the status of the merged patch.
	Status PatchStatus `json:"status"`

	// Reason explains a degraded or skipped status.
	Reason string `json:"reason,omitempty"`

	// Error is the classified failure, if any.
	Error *EngineError `json:"error,omitempty"`

	// Invoked reports whether the node's task was actually executed.
	Invoked bool `json:"invoked"`

	// StartedAt is when the node was launched. Zero if it never launched.
	StartedAt time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the node's patch was merged.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the time between launch and merge.
	Duration time.Duration `json:"duration"`
}

// RunResult is everything a finished run produced.
type RunResult struct {
	// RunID is the unique run identifier.
	RunID string `json:"run_id"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// ShortCircuited reports whether the entry node halted processing.
	ShortCircuited bool `json:"short_circuited"`

	// HaltReason is the reason written by the entry node when halting.
	HaltReason string `json:"halt_reason,omitempty"`

	// TimedOut reports whether the run deadline elapsed.
	TimedOut bool `json:"timed_out"`

	// Nodes holds per-node outcomes keyed by node ID.
	Nodes map[string]NodeResult `json:"nodes"`

	// State is the final committed state.
	State Snapshot `json:"state"`

	// Patches is the append-only patch log in merge order.
	Patches []Patch `json:"-"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// RunRecorder persists finished runs. Recording failures never affect the run.
type RunRecorder interface {
	RecordRun(ctx context.Context, result *RunResult) error
}
