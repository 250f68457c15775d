package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test admission policies",
		Long: `Admission policies decide whether an extraction is analyzed or the run is
short-circuited. Built-in policies check the validation status, the
extraction confidence and the ingredients list; more can be loaded from
policy.paths.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyCheckCommand())

	return cmd
}

func loadPolicies(cmd *cobra.Command) (*policy.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return policy.NewEngine(cmd.Context(), cfg.Policy, log.Logger, nil)
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := loadPolicies(cmd)
			if err != nil {
				return err
			}
			defer policies.Close()

			list := policies.ListPolicies()
			if jsonOutput {
				return printJSON(list)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
			for _, p := range list {
				source := p.Source
				if p.Builtin {
					source = "builtin"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, source, p.Description)
			}
			return w.Flush()
		},
	}
}

func newPolicyCheckCommand() *cobra.Command {
	var (
		status      string
		confidence  float64
		ingredients []string
		productName string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate policies against a sample extraction",
		Example: `  # Would a low confidence extraction be admitted?
  healthgraph policy check --confidence 0.2 --ingredients oats,sugar

  # A non-food image
  healthgraph policy check --status invalid_not_food`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			product := &advisor.ExtractedIngredients{
				Ingredients:     ingredients,
				ProductName:     productName,
				ConfidenceScore: confidence,
				Status:          advisor.ValidationStatus(status),
			}
			if err := product.Status.Validate(); err != nil {
				return err
			}
			product.Normalize()

			policies, err := loadPolicies(cmd)
			if err != nil {
				return err
			}
			defer policies.Close()

			decision, err := policies.Evaluate(cmd.Context(), &policy.Input{
				Product: product,
				Context: &policy.InputContext{Timestamp: time.Now().UTC(), Operation: "admit"},
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(decision)
			}

			if decision.Allowed {
				fmt.Println("✓ admitted")
			} else {
				fmt.Println("✗ denied")
			}
			for _, v := range decision.Violations {
				fmt.Printf("  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
			}
			for _, v := range decision.Warnings {
				fmt.Printf("  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
			}
			if len(decision.Failures) > 0 {
				fmt.Printf("  failed to evaluate: %s\n", strings.Join(decision.Failures, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(advisor.StatusValidFoodImage), "validation status")
	cmd.Flags().Float64Var(&confidence, "confidence", 1, "extraction confidence between 0 and 1")
	cmd.Flags().StringSliceVarP(&ingredients, "ingredients", "i", nil, "ingredients, comma separated")
	cmd.Flags().StringVar(&productName, "product", "", "product name")

	return cmd
}
