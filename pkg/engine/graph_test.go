package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testInput   = NewKey[string]("input")
	testValue   = NewKey[string]("value")
	testA       = NewKey[string]("a_out")
	testB       = NewKey[string]("b_out")
	testC       = NewKey[string]("c_out")
	testJoined  = NewKey[string]("joined")
	testReport  = NewKey[string]("report")
	testCounter = NewKey[int]("counter")
)

func noopTask() Task {
	return TaskFunc(func(ctx context.Context, in View) (*Output, error) {
		return NewOutput(), nil
	})
}

// diamondSpecs returns a gate -> {a, b, c} -> join(a, b) -> report(join, c) graph.
func diamondSpecs() []NodeSpec {
	return []NodeSpec{
		{ID: "gate", Inputs: Fields(testInput), Outputs: Fields(testValue, ShortCircuit, HaltReason), Task: noopTask()},
		{ID: "a", Inputs: Fields(testValue, ShortCircuit), Outputs: Fields(testA), Task: noopTask()},
		{ID: "b", Inputs: Fields(testValue), Outputs: Fields(testB), Task: noopTask()},
		{ID: "c", Inputs: Fields(testValue), Outputs: Fields(testC), Task: noopTask()},
		{ID: "join", Inputs: Fields(testA, testB), Outputs: Fields(testJoined), Task: noopTask()},
		{ID: "report", Inputs: Fields(testJoined, testC, ShortCircuit, HaltReason), Outputs: Fields(testReport), Task: noopTask()},
	}
}

func buildGraph(t *testing.T, seeds []FieldDecl, specs []NodeSpec) (*Graph, error) {
	t.Helper()
	b := NewGraphBuilder().Seed(seeds...)
	for _, spec := range specs {
		b.Node(spec)
	}
	return b.Build()
}

func requireConstructionError(t *testing.T, err error, code string) *EngineError {
	t.Helper()
	require.Error(t, err)
	require.True(t, IsConstruction(err), "expected construction error, got %v", err)
	engErr := AsEngineError(err)
	assert.Equal(t, code, engErr.Code)
	return engErr
}

func TestGraphBuilder_Build_Diamond(t *testing.T) {
	g, err := buildGraph(t, Fields(testInput), diamondSpecs())
	require.NoError(t, err)

	assert.Equal(t, "gate", g.Entry())
	assert.Equal(t, "report", g.Terminal())
	assert.Equal(t, []string{"gate", "a", "b", "c", "join", "report"}, g.Nodes())
	assert.Equal(t, [][]string{{"gate"}, {"a", "b", "c"}, {"join"}, {"report"}}, g.Levels())

	assert.ElementsMatch(t, []string{"a", "b"}, g.Dependencies("join"))
	assert.ElementsMatch(t, []string{"gate", "join", "c"}, g.Dependencies("report"))
	assert.ElementsMatch(t, []string{"a", "b", "c", "report"}, g.Dependents("gate"))

	producer, ok := g.Producer("joined")
	assert.True(t, ok)
	assert.Equal(t, "join", producer)

	producer, ok = g.Producer("input")
	assert.True(t, ok)
	assert.Equal(t, SeedWriter, producer)

	_, ok = g.Producer("missing")
	assert.False(t, ok)
}

func TestGraphBuilder_Build_Empty(t *testing.T) {
	_, err := NewGraphBuilder().Build()
	requireConstructionError(t, err, ErrCodeTopology)
}

func TestGraphBuilder_Build_SingleNode(t *testing.T) {
	g, err := buildGraph(t, Fields(testInput), []NodeSpec{
		{ID: "only", Inputs: Fields(testInput), Outputs: Fields(testReport), Task: noopTask()},
	})
	require.NoError(t, err)
	assert.Equal(t, "only", g.Entry())
	assert.Equal(t, "only", g.Terminal())
}

func TestGraphBuilder_Build_Cycle(t *testing.T) {
	loopA := NewKey[string]("loop_a")
	loopB := NewKey[string]("loop_b")

	_, err := buildGraph(t, Fields(testInput), []NodeSpec{
		{ID: "gate", Inputs: Fields(testInput), Outputs: Fields(testValue), Task: noopTask()},
		{ID: "x", Inputs: Fields(testValue, loopB), Outputs: Fields(loopA), Task: noopTask()},
		{ID: "y", Inputs: Fields(loopA), Outputs: Fields(loopB, testReport), Task: noopTask()},
	})
	engErr := requireConstructionError(t, err, ErrCodeCycle)
	assert.Contains(t, engErr.Message, "x -> y -> x")
}

func TestGraphBuilder_Build_SelfLoop(t *testing.T) {
	_, err := buildGraph(t, Fields(testInput), []NodeSpec{
		{ID: "gate", Inputs: Fields(testInput), Outputs: Fields(testValue), Task: noopTask()},
		{ID: "self", Inputs: Fields(testValue, testCounter), Outputs: Fields(testCounter, testReport), Task: noopTask()},
	})
	requireConstructionError(t, err, ErrCodeCycle)
}

func TestGraphBuilder_Build_UnresolvedInput(t *testing.T) {
	specs := diamondSpecs()
	specs[4].Inputs = Fields(testA, testB, NewKey[string]("nobody_writes_this"))

	_, err := buildGraph(t, Fields(testInput), specs)
	engErr := requireConstructionError(t, err, ErrCodeUnresolvedInput)
	assert.Equal(t, "join", engErr.Node)
	assert.Equal(t, "nobody_writes_this", engErr.Field)
}

func TestGraphBuilder_Build_DuplicateProducer(t *testing.T) {
	specs := diamondSpecs()
	specs[2].Outputs = Fields(testB, testA)

	_, err := buildGraph(t, Fields(testInput), specs)
	engErr := requireConstructionError(t, err, ErrCodeDuplicateProducer)
	assert.Equal(t, "a_out", engErr.Field)
}

func TestGraphBuilder_Build_SeededAndProduced(t *testing.T) {
	_, err := buildGraph(t, Fields(testInput, testValue), diamondSpecs())
	requireConstructionError(t, err, ErrCodeDuplicateProducer)
}

func TestGraphBuilder_Build_DuplicateNode(t *testing.T) {
	specs := diamondSpecs()
	specs = append(specs, NodeSpec{ID: "a", Task: noopTask()})

	_, err := buildGraph(t, Fields(testInput), specs)
	requireConstructionError(t, err, ErrCodeDuplicateNode)
}

func TestGraphBuilder_Build_TypeMismatch(t *testing.T) {
	specs := diamondSpecs()
	specs[4].Inputs = Fields(NewKey[int]("a_out"), testB)

	_, err := buildGraph(t, Fields(testInput), specs)
	engErr := requireConstructionError(t, err, ErrCodeTypeMismatch)
	assert.Equal(t, "a_out", engErr.Field)
}

func TestGraphBuilder_Build_Validation(t *testing.T) {
	tests := []struct {
		name string
		spec NodeSpec
	}{
		{name: "empty id", spec: NodeSpec{Task: noopTask()}},
		{name: "reserved id", spec: NodeSpec{ID: SeedWriter, Task: noopTask()}},
		{name: "no task", spec: NodeSpec{ID: "x"}},
		{name: "negative timeout", spec: NodeSpec{ID: "x", Task: noopTask(), Timeout: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildGraph(t, nil, []NodeSpec{tt.spec})
			requireConstructionError(t, err, ErrCodeValidation)
		})
	}
}

func TestGraphBuilder_Build_MultipleEntries(t *testing.T) {
	specs := diamondSpecs()
	specs[3].Inputs = Fields(testInput)

	_, err := buildGraph(t, Fields(testInput), specs)
	engErr := requireConstructionError(t, err, ErrCodeTopology)
	assert.Contains(t, engErr.Message, "exactly one entry node")
}

func TestGraphBuilder_Build_MultipleTerminals(t *testing.T) {
	specs := diamondSpecs()
	specs[5].Inputs = Fields(testJoined, ShortCircuit, HaltReason)

	_, err := buildGraph(t, Fields(testInput), specs)
	engErr := requireConstructionError(t, err, ErrCodeTopology)
	assert.Contains(t, engErr.Message, "exactly one terminal node")
}

func TestGraphBuilder_Build_ShortCircuitOwnership(t *testing.T) {
	t.Run("produced by non-entry node", func(t *testing.T) {
		_, err := buildGraph(t, Fields(testInput), []NodeSpec{
			{ID: "gate", Inputs: Fields(testInput), Outputs: Fields(testValue), Task: noopTask()},
			{ID: "late", Inputs: Fields(testValue), Outputs: Fields(ShortCircuit, testReport), Task: noopTask()},
		})
		engErr := requireConstructionError(t, err, ErrCodeTopology)
		assert.Equal(t, "late", engErr.Node)
	})

	t.Run("seeded", func(t *testing.T) {
		_, err := buildGraph(t, Fields(testInput, ShortCircuit), []NodeSpec{
			{ID: "only", Inputs: Fields(testInput, ShortCircuit), Outputs: Fields(testReport), Task: noopTask()},
		})
		requireConstructionError(t, err, ErrCodeTopology)
	})
}

func TestGraph_CheckSeed(t *testing.T) {
	g, err := buildGraph(t, Fields(testInput), diamondSpecs())
	require.NoError(t, err)

	assert.NoError(t, g.CheckSeed(Seed{"input": "hello"}))
	assert.NoError(t, g.CheckSeed(Seed{}))
	assert.NoError(t, g.CheckSeed(Seed{"input": nil}))

	err = g.CheckSeed(Seed{"unknown": 1})
	requireConstructionError(t, err, ErrCodeUnknownSeed)

	err = g.CheckSeed(Seed{"input": 42})
	requireConstructionError(t, err, ErrCodeTypeMismatch)
}

func TestGraph_ToDOT(t *testing.T) {
	g, err := buildGraph(t, Fields(testInput), diamondSpecs())
	require.NoError(t, err)

	dot := g.ToDOT()

	assert.True(t, strings.HasPrefix(dot, "digraph TaskGraph {"))
	assert.Contains(t, dot, `"seed" [shape=ellipse, label="seed\ninput", style=dashed];`)
	assert.Contains(t, dot, "subgraph cluster_level_1")
	assert.Contains(t, dot, `"gate" [fillcolor="lightblue"`)
	assert.Contains(t, dot, `"report" [fillcolor="lightgreen"`)
	assert.Contains(t, dot, `"join" [fillcolor="khaki"`)
	assert.Contains(t, dot, `"a" -> "join" [label="a_out", style=solid];`)
	assert.Contains(t, dot, `"seed" -> "gate" [label="input", style=dashed, color=gray];`)
	assert.Contains(t, dot, `"gate" -> "report" [label="short_circuit\nhalt_reason", style=solid];`)
}

func TestGraph_IsImmutable(t *testing.T) {
	specs := diamondSpecs()
	g, err := buildGraph(t, Fields(testInput), specs)
	require.NoError(t, err)

	g.Levels()[0][0] = "mutated"
	g.Dependencies("join")[0] = "mutated"
	specs[0].Outputs[0] = testReport.Decl()

	assert.Equal(t, "gate", g.Levels()[0][0])
	assert.NotContains(t, g.Dependencies("join"), "mutated")
	spec, ok := g.Node("gate")
	require.True(t, ok)
	assert.Equal(t, "value", spec.Outputs[0].Name)
}
