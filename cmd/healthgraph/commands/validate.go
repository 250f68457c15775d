package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/capabilities"
	"github.com/openfroyo/healthgraph/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, capabilities and policies",
		Long: `Validate everything the pipeline is built from without running it.

This command checks:
  - Configuration file and environment overrides
  - Capability manifest (drivers, roles, analysis kind coverage, scripts)
  - Admission policies (Rego syntax and compilation)
  - Pipeline graph construction`,
		Example: `  # Validate the active configuration
  healthgraph validate

  # Validate another capability manifest
  healthgraph validate --manifest ./capabilities.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Println("✓ configuration")

			if manifestPath == "" {
				manifestPath = cfg.Capabilities.Manifest
			}
			registry, err := capabilities.Load(manifestPath)
			if err != nil {
				return err
			}
			resolved, err := registry.Resolve(capabilities.ResolveOptions{Logger: log.Logger})
			if err != nil {
				return err
			}
			fmt.Printf("✓ capabilities (%d)\n", len(registry.List()))
			if verbose {
				for role, name := range resolved.Sources {
					fmt.Printf("    %-22s %s\n", role, name)
				}
			}

			policies, err := policy.NewEngine(cmd.Context(), cfg.Policy, log.Logger, nil)
			if err != nil {
				return err
			}
			defer policies.Close()
			fmt.Printf("✓ policies (%d)\n", len(policies.ListPolicies()))

			deps := advisor.Dependencies{Gate: policies, Options: cfg.Engine.Options}
			resolved.Apply(&deps)
			graph, err := advisor.NewGraph(deps)
			if err != nil {
				return err
			}
			fmt.Printf("✓ pipeline graph (%d nodes)\n", len(graph.Nodes()))

			log.Debug().Str("config", configPath).Msg("Validation passed")
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "capability manifest to validate instead of the configured one")

	return cmd
}
