// Package engine provides the workflow engine behind healthgraph: a directed
// acyclic graph of tasks over a shared state record.
//
// # Overview
//
// A run moves through three phases:
//
//  1. Build - Declare nodes and derive edges from their field contracts (GraphBuilder)
//  2. Run - Execute nodes in dependency order as their inputs arrive (Scheduler)
//  3. Result - Capture the final state, per-node outcomes and run status (RunResult)
//
// # Field Contracts
//
// Every node declares the fields it reads and the fields it writes. An edge
// A -> B exists whenever B reads a field A writes; nobody wires edges by hand.
// Fields are declared through typed keys:
//
//	var Benefits = engine.NewKey[*HealthAnalysis]("benefits")
//
//	b.Node(engine.NodeSpec{
//	    ID:      "benefits",
//	    Inputs:  engine.Fields(Ingredients, engine.ShortCircuit),
//	    Outputs: engine.Fields(Benefits),
//	    Task:    task,
//	})
//
// Build rejects cycles, inputs nobody produces, fields with two producers,
// inconsistent field types, and graphs without exactly one entry node and
// one terminal node.
//
// # Execution Model
//
// The scheduler launches a node the moment all of its inputs are present,
// so independent nodes run concurrently (fan-out) and a node with several
// producers waits for all of them (fan-in). Each node sees only a read-only
// view of its declared inputs and returns an Output; the scheduler merges it
// into the StateStore as one atomic Patch.
//
// # Failure Containment
//
// A node that returns an error, panics, times out or violates its output
// contract never aborts the run. Its outputs are resolved without a value
// and marked degraded, dependents still run, and the terminal node reports
// the degradation.
//
// # Short-Circuit
//
// The entry node alone may set ShortCircuit. Once set it stays set; every
// node between the entry and the terminal node is resolved from its
// Placeholder, or with empty values, without invoking its task. The terminal
// node still runs and the run finishes as short_circuited.
//
// # Deadlines
//
// A run has a deadline. When it elapses, every node that is not done is
// force-patched degraded with reason "timeout" and the terminal node still
// runs, bounded by a short grace period. Every run returns a result.
//
// # Error Classification
//
// Errors are classified so callers can decide what to retry:
//
//   - Construction: The graph is invalid and was never run
//   - Transient: Temporary failures that may succeed on retry
//   - Permanent: Non-recoverable task failures
//   - Timeout: A node or run deadline elapsed
//   - Internal: A merge invariant was broken
//
//	if engine.IsRetryable(err) {
//	    // Retry the operation
//	}
//
// # Thread Safety
//
// Graphs are immutable once built and a Scheduler keeps no per-run state,
// so both can be shared by concurrent runs.
package engine
