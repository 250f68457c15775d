package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/present"
)

func newAnalyzeCommand() *cobra.Command {
	var (
		ingredients []string
		imageValid  bool
		output      string
		runID       string
		detail      bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [image]",
		Short: "Analyze a food product",
		Long: `Run the health advisor pipeline for one product and print its report.

The product is given as an image path, as a known ingredients list, or both.
A report is always printed; its status tells whether every analysis finished
(complete), some failed or timed out (degraded), or the input was rejected
(short_circuited).`,
		Example: `  # Analyze a label photo with the configured extractor
  healthgraph analyze ./label.jpg

  # Analyze a known ingredients list
  healthgraph analyze --image-valid --ingredients oats,sugar,salt

  # Print the chat message instead of the terminal view
  healthgraph analyze --image-valid --ingredients oats --output chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := advisor.Request{Ingredients: ingredients}
			if len(args) > 0 {
				req.ImagePath = args[0]
			}
			if cmd.Flags().Changed("image-valid") {
				req.ImageValid = &imageValid
			}

			if jsonOutput {
				output = string(present.FormatJSON)
			}
			format, err := present.ParseFormat(output)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), appOptions{store: true, advisor: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var result *advisor.Result
			if runID != "" {
				result, err = a.advisor.AnalyzeWithID(cmd.Context(), runID, req)
			} else {
				result, err = a.advisor.Analyze(cmd.Context(), req)
			}
			if err != nil {
				return err
			}

			a.logger.Info().
				Str("run_id", result.Report.RunID).
				Str("status", string(result.Report.Status)).
				Bool("fallback", result.Fallback).
				Msg("Analysis finished")

			if format == present.FormatText {
				term := present.NewTerminal(os.Stdout)
				term.Detail = detail
				return term.Render(os.Stdout, result.Report)
			}
			return present.Write(os.Stdout, format, result.Report)
		},
	}

	cmd.Flags().StringSliceVarP(&ingredients, "ingredients", "i", nil, "known ingredients, comma separated")
	cmd.Flags().BoolVar(&imageValid, "image-valid", false, "mark the input as already validated (use --image-valid=false to reject it)")
	cmd.Flags().StringVarP(&output, "output", "o", string(present.FormatText), "output format: text, chat or json")
	cmd.Flags().StringVar(&runID, "run-id", "", "use this run ID instead of a generated one")
	cmd.Flags().BoolVar(&detail, "detail", false, "include detailed analysis text")

	return cmd
}
