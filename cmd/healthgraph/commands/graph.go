package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/capabilities"
	"github.com/openfroyo/healthgraph/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the pipeline graph",
		Long: `Build the pipeline graph from the configured capabilities and print it.

By default the nodes are listed by level with their inputs and outputs. With
--dot the graph is printed in Graphviz DOT format.`,
		Example: `  # List nodes by level
  healthgraph graph

  # Render with graphviz
  healthgraph graph --dot | dot -Tpng -o pipeline.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			registry, err := capabilities.Load(cfg.Capabilities.Manifest)
			if err != nil {
				return err
			}
			resolved, err := registry.Resolve(capabilities.ResolveOptions{Logger: log.Logger})
			if err != nil {
				return err
			}

			deps := advisor.Dependencies{Options: cfg.Engine.Options}
			resolved.Apply(&deps)
			graph, err := advisor.NewGraph(deps)
			if err != nil {
				return err
			}

			switch {
			case dot:
				fmt.Print(graph.ToDOT())
			case jsonOutput:
				return printGraphJSON(graph)
			default:
				printGraph(graph)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print Graphviz DOT")

	return cmd
}

type graphNode struct {
	ID           string   `json:"id"`
	Level        int      `json:"level"`
	Inputs       []string `json:"inputs"`
	Outputs      []string `json:"outputs"`
	Dependencies []string `json:"dependencies,omitempty"`
}

func graphNodes(g *engine.Graph) []graphNode {
	var nodes []graphNode
	for level, ids := range g.Levels() {
		for _, id := range ids {
			spec, _ := g.Node(id)
			nodes = append(nodes, graphNode{
				ID:           id,
				Level:        level,
				Inputs:       fieldNames(spec.Inputs),
				Outputs:      fieldNames(spec.Outputs),
				Dependencies: g.Dependencies(id),
			})
		}
	}
	return nodes
}

func fieldNames(fields []engine.FieldDecl) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return names
}

func printGraph(g *engine.Graph) {
	fmt.Printf("entry: %s  terminal: %s\n", g.Entry(), g.Terminal())
	for _, n := range graphNodes(g) {
		fmt.Printf("\n[%d] %s\n", n.Level, n.ID)
		fmt.Printf("    in:  %s\n", strings.Join(n.Inputs, ", "))
		fmt.Printf("    out: %s\n", strings.Join(n.Outputs, ", "))
	}
}

func printGraphJSON(g *engine.Graph) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"entry":    g.Entry(),
		"terminal": g.Terminal(),
		"nodes":    graphNodes(g),
	})
}
