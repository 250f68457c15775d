package engine

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Graph is an immutable, validated task graph. Edges are derived from field
// declarations: a node depends on the producer of every field it reads.
// A Graph is safe to share across concurrent runs.
type Graph struct {
	order        []string
	nodes        map[string]NodeSpec
	seeds        map[string]FieldDecl
	seedOrder    []string
	producers    map[string]string
	dependencies map[string][]string
	dependents   map[string][]string
	levels       [][]string
	entry        string
	terminal     string
}

// GraphBuilder accumulates seed fields and node specs and validates them into a Graph.
type GraphBuilder struct {
	seeds []FieldDecl
	specs []NodeSpec

	// The fields below are populated by Build.
	nodes        map[string]NodeSpec
	seedIndex    map[string]FieldDecl
	producers    map[string]string
	outputTypes  map[string]reflect.Type
	dependencies map[string][]string
	dependents   map[string][]string
	levels       [][]string
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{}
}

// Seed declares fields supplied in the initial state of every run.
func (b *GraphBuilder) Seed(fields ...FieldDecl) *GraphBuilder {
	b.seeds = append(b.seeds, fields...)
	return b
}

// Node adds a node. Declaration order is kept for deterministic validation
// and output.
func (b *GraphBuilder) Node(spec NodeSpec) *GraphBuilder {
	b.specs = append(b.specs, spec)
	return b
}

// Build validates the graph. It fails with a construction error if a node
// is malformed, a field has more than one producer, an input has no producer
// and is not seeded, declared types disagree, the derived relation has a
// cycle, or the graph does not have exactly one entry and one terminal node.
func (b *GraphBuilder) Build() (*Graph, error) {
	if len(b.specs) == 0 {
		return nil, NewConstructionError(ErrCodeTopology, "graph has no nodes")
	}

	if err := b.initialize(); err != nil {
		return nil, err
	}

	if err := b.resolveFields(); err != nil {
		return nil, err
	}

	b.deriveEdges()

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.buildGraph()
}

// initialize indexes nodes and seed fields.
func (b *GraphBuilder) initialize() error {
	b.nodes = make(map[string]NodeSpec, len(b.specs))
	b.seedIndex = make(map[string]FieldDecl, len(b.seeds))
	b.producers = make(map[string]string)
	b.outputTypes = make(map[string]reflect.Type)
	b.dependencies = make(map[string][]string, len(b.specs))
	b.dependents = make(map[string][]string, len(b.specs))
	b.levels = nil

	for _, f := range b.seeds {
		if f.Name == "" {
			return NewConstructionError(ErrCodeValidation, "seed field has empty name")
		}
		if _, exists := b.seedIndex[f.Name]; exists {
			return NewConstructionError(ErrCodeDuplicateProducer,
				"seed field declared twice").WithField(f.Name)
		}
		b.seedIndex[f.Name] = f
	}

	for _, spec := range b.specs {
		if spec.ID == "" {
			return NewConstructionError(ErrCodeValidation, "node has empty ID")
		}
		if spec.ID == SeedWriter {
			return NewConstructionError(ErrCodeValidation,
				fmt.Sprintf("node ID %q is reserved", SeedWriter)).WithNode(spec.ID)
		}
		if _, exists := b.nodes[spec.ID]; exists {
			return NewConstructionError(ErrCodeDuplicateNode,
				fmt.Sprintf("duplicate node ID: %s", spec.ID)).WithNode(spec.ID)
		}
		if spec.Task == nil {
			return NewConstructionError(ErrCodeValidation, "node has no task").WithNode(spec.ID)
		}
		if spec.Timeout < 0 {
			return NewConstructionError(ErrCodeValidation, "node timeout is negative").WithNode(spec.ID)
		}
		b.nodes[spec.ID] = spec
		b.dependencies[spec.ID] = nil
		b.dependents[spec.ID] = nil
	}

	return nil
}

// resolveFields assigns each field its single producer and checks inputs.
func (b *GraphBuilder) resolveFields() error {
	for _, spec := range b.specs {
		for _, out := range spec.Outputs {
			if out.Name == "" {
				return NewConstructionError(ErrCodeValidation, "output field has empty name").WithNode(spec.ID)
			}
			if _, seeded := b.seedIndex[out.Name]; seeded {
				return NewConstructionError(ErrCodeDuplicateProducer,
					"field is both seeded and produced").WithNode(spec.ID).WithField(out.Name)
			}
			if owner, exists := b.producers[out.Name]; exists {
				return NewConstructionError(ErrCodeDuplicateProducer,
					fmt.Sprintf("field already produced by %s", owner)).WithNode(spec.ID).WithField(out.Name)
			}
			b.producers[out.Name] = spec.ID
			b.outputTypes[out.Name] = out.Type
		}
	}

	for _, spec := range b.specs {
		seen := make(map[string]bool, len(spec.Inputs))
		for _, in := range spec.Inputs {
			if seen[in.Name] {
				return NewConstructionError(ErrCodeValidation,
					"input declared twice").WithNode(spec.ID).WithField(in.Name)
			}
			seen[in.Name] = true

			var declared reflect.Type
			if seed, ok := b.seedIndex[in.Name]; ok {
				declared = seed.Type
			} else if _, ok := b.producers[in.Name]; ok {
				declared = b.outputTypes[in.Name]
			} else {
				return NewConstructionError(ErrCodeUnresolvedInput,
					"input field has no producer and is not seeded").WithNode(spec.ID).WithField(in.Name)
			}

			if in.Type != nil && declared != nil && in.Type != declared {
				return NewConstructionError(ErrCodeTypeMismatch,
					fmt.Sprintf("input type %s does not match declared type %s", in.Type, declared),
				).WithNode(spec.ID).WithField(in.Name)
			}
		}
	}

	return nil
}

// deriveEdges adds an edge from each input's producer to the consuming node.
func (b *GraphBuilder) deriveEdges() {
	for _, spec := range b.specs {
		added := make(map[string]bool)
		for _, in := range spec.Inputs {
			producer, ok := b.producers[in.Name]
			if !ok || added[producer] {
				continue
			}
			added[producer] = true
			b.dependencies[spec.ID] = append(b.dependencies[spec.ID], producer)
			b.dependents[producer] = append(b.dependents[producer], spec.ID)
		}
	}
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, spec := range b.specs {
		if visited[spec.ID] {
			continue
		}
		if cycle := b.detectCyclesUtil(spec.ID, visited, recStack, nil); cycle != nil {
			return NewConstructionError(ErrCodeCycle,
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)),
			).WithNode(cycle[0])
		}
	}

	return nil
}

// detectCyclesUtil performs DFS over dependents and returns the cycle path, if any.
func (b *GraphBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.dependents[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					cycle := append([]string{}, path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels assigns topological levels using Kahn's algorithm. Nodes in
// the same level have no dependencies between them.
func (b *GraphBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.specs))
	for _, spec := range b.specs {
		inDegree[spec.ID] = len(b.dependencies[spec.ID])
	}

	var current []string
	for _, spec := range b.specs {
		if inDegree[spec.ID] == 0 {
			current = append(current, spec.ID)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range b.dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.SliceStable(next, func(i, j int) bool {
			return b.position(next[i]) < b.position(next[j])
		})
		current = next
	}

	if processed != len(b.specs) {
		return NewConstructionError(ErrCodeCycle, "failed to order all nodes - possible cycle")
	}

	return nil
}

func (b *GraphBuilder) position(id string) int {
	for i, spec := range b.specs {
		if spec.ID == id {
			return i
		}
	}
	return len(b.specs)
}

// buildGraph checks the entry/terminal shape and freezes the result.
func (b *GraphBuilder) buildGraph() (*Graph, error) {
	var entries, terminals []string
	for _, spec := range b.specs {
		if len(b.dependencies[spec.ID]) == 0 {
			entries = append(entries, spec.ID)
		}
		if len(b.dependents[spec.ID]) == 0 {
			terminals = append(terminals, spec.ID)
		}
	}

	if len(entries) != 1 {
		return nil, NewConstructionError(ErrCodeTopology,
			fmt.Sprintf("graph must have exactly one entry node, found %d: %s",
				len(entries), strings.Join(entries, ", ")))
	}
	if len(terminals) != 1 {
		return nil, NewConstructionError(ErrCodeTopology,
			fmt.Sprintf("graph must have exactly one terminal node, found %d: %s",
				len(terminals), strings.Join(terminals, ", ")))
	}

	entry := entries[0]
	for _, flag := range []string{ShortCircuit.Name(), HaltReason.Name()} {
		if _, seeded := b.seedIndex[flag]; seeded {
			return nil, NewConstructionError(ErrCodeTopology,
				"short-circuit fields cannot be seeded").WithField(flag)
		}
		if producer, ok := b.producers[flag]; ok && producer != entry {
			return nil, NewConstructionError(ErrCodeTopology,
				"only the entry node may produce short-circuit fields").WithNode(producer).WithField(flag)
		}
	}

	g := &Graph{
		order:        make([]string, 0, len(b.specs)),
		nodes:        make(map[string]NodeSpec, len(b.specs)),
		seeds:        make(map[string]FieldDecl, len(b.seeds)),
		producers:    make(map[string]string, len(b.producers)),
		dependencies: make(map[string][]string, len(b.specs)),
		dependents:   make(map[string][]string, len(b.specs)),
		levels:       make([][]string, len(b.levels)),
		entry:        entry,
		terminal:     terminals[0],
	}

	for _, spec := range b.specs {
		spec.Inputs = append([]FieldDecl(nil), spec.Inputs...)
		spec.Outputs = append([]FieldDecl(nil), spec.Outputs...)
		g.order = append(g.order, spec.ID)
		g.nodes[spec.ID] = spec
		g.dependencies[spec.ID] = append([]string(nil), b.dependencies[spec.ID]...)
		g.dependents[spec.ID] = append([]string(nil), b.dependents[spec.ID]...)
	}
	for _, f := range b.seeds {
		g.seeds[f.Name] = f
		g.seedOrder = append(g.seedOrder, f.Name)
	}
	for field, producer := range b.producers {
		g.producers[field] = producer
	}
	for i, level := range b.levels {
		g.levels[i] = append([]string(nil), level...)
	}

	return g, nil
}

// Nodes returns node IDs in declaration order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Node returns the spec of a node.
func (g *Graph) Node(id string) (NodeSpec, bool) {
	spec, ok := g.nodes[id]
	return spec, ok
}

// Entry returns the single node with no dependencies.
func (g *Graph) Entry() string {
	return g.entry
}

// Terminal returns the single node with no dependents.
func (g *Graph) Terminal() string {
	return g.terminal
}

// Levels returns node IDs grouped by topological level.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, level := range g.levels {
		out[i] = append([]string(nil), level...)
	}
	return out
}

// Dependencies returns the nodes a node waits for.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.dependencies[id]...)
}

// Dependents returns the nodes that wait for a node.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Producer returns the node that writes a field, or SeedWriter for seeded fields.
func (g *Graph) Producer(field string) (string, bool) {
	if _, ok := g.seeds[field]; ok {
		return SeedWriter, true
	}
	p, ok := g.producers[field]
	return p, ok
}

// SeedFields returns the declared seed fields in declaration order.
func (g *Graph) SeedFields() []FieldDecl {
	out := make([]FieldDecl, 0, len(g.seedOrder))
	for _, name := range g.seedOrder {
		out = append(out, g.seeds[name])
	}
	return out
}

// CheckSeed validates a seed against the declared seed fields. Unknown
// fields and values of the wrong type are construction errors.
func (g *Graph) CheckSeed(seed Seed) error {
	names := make([]string, 0, len(seed))
	for name := range seed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		decl, ok := g.seeds[name]
		if !ok {
			return NewConstructionError(ErrCodeUnknownSeed, "seed value for undeclared field").WithField(name)
		}
		value := seed[name]
		if value == nil || decl.Type == nil {
			continue
		}
		if t := reflect.TypeOf(value); !t.AssignableTo(decl.Type) {
			return NewConstructionError(ErrCodeTypeMismatch,
				fmt.Sprintf("seed value of type %s does not match declared type %s", t, decl.Type),
			).WithField(name)
		}
	}
	return nil
}

// ToDOT generates a DOT representation of the graph for visualization.
// Edges are labelled with the fields that create them.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph TaskGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	if len(g.seedOrder) > 0 {
		sb.WriteString(fmt.Sprintf("  \"%s\" [shape=ellipse, label=\"seed\\n%s\", style=dashed];\n\n",
			SeedWriter, strings.Join(g.seedOrder, "\\n")))
	}

	for level, ids := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			sb.WriteString(fmt.Sprintf("    \"%s\" [fillcolor=\"%s\", style=\"filled,rounded\"];\n", id, g.nodeColor(id)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range g.order {
		spec := g.nodes[id]
		byProducer := make(map[string][]string)
		var producers []string
		for _, in := range spec.Inputs {
			p, _ := g.Producer(in.Name)
			if _, ok := byProducer[p]; !ok {
				producers = append(producers, p)
			}
			byProducer[p] = append(byProducer[p], in.Name)
		}
		for _, p := range producers {
			style := "style=solid"
			if p == SeedWriter {
				style = "style=dashed, color=gray"
			}
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [label=\"%s\", %s];\n",
				p, id, strings.Join(byProducer[p], "\\n"), style))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (g *Graph) nodeColor(id string) string {
	switch {
	case id == g.entry:
		return "lightblue"
	case id == g.terminal:
		return "lightgreen"
	case len(g.dependencies[id]) > 1:
		return "khaki"
	default:
		return "white"
	}
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
