package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded in the run history, newest first.

Subcommands show a single run with its node outcomes, its event log, or
prune old runs.`,
		Example: `  # Recent runs
  healthgraph history

  # Only degraded runs
  healthgraph history --status degraded

  # One run
  healthgraph history show 6f1c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := stores.RunFilter{Status: engine.RunStatus(status), Limit: limit, Offset: offset}
			if filter.Status != "" {
				if err := filter.Status.Validate(); err != nil {
					return err
				}
			}

			runs, err := a.store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTATUS\tSTARTED\tDURATION\tREASON")
			for _, run := range runs {
				reason := ""
				if run.HaltReason != nil {
					reason = *run.HaltReason
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.Status, run.StartedAt.Local().Format(time.DateTime),
					run.Duration.Round(time.Millisecond), reason)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status: complete, degraded or short_circuited")
	cmd.Flags().IntVar(&limit, "limit", stores.DefaultListLimit, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryEventsCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its node outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			nodes, err := a.store.ListNodeRuns(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]any{"run": run, "nodes": nodes})
			}

			fmt.Printf("Run:      %s\n", run.ID)
			fmt.Printf("Status:   %s\n", run.Status)
			fmt.Printf("Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
			fmt.Printf("Duration: %s\n", run.Duration.Round(time.Millisecond))
			if run.HaltReason != nil {
				fmt.Printf("Halted:   %s\n", *run.HaltReason)
			}
			if run.TimedOut {
				fmt.Println("Deadline: exceeded")
			}

			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tSTATUS\tINVOKED\tDURATION\tREASON")
			for _, n := range nodes {
				reason := ""
				if n.Reason != nil {
					reason = *n.Reason
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
					n.NodeID, n.Status, n.Invoked, n.Duration.Round(time.Millisecond), reason)
			}
			return w.Flush()
		},
	}
}

func newHistoryEventsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the event log of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.store.GetEvents(cmd.Context(), stores.EventFilter{RunID: &args[0], Limit: limit})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(events)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tLEVEL\tTYPE\tNODE\tMESSAGE")
			for _, e := range events {
				node := ""
				if e.NodeID != nil {
					node = *e.NodeID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format("15:04:05.000"), e.Level, e.Type, node, e.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 200, "maximum events to show")

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs",
		Long:  `Delete runs older than --older-than, or than the configured retention when the flag is not set.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var deleted int64
			if olderThan > 0 {
				deleted, err = a.store.PruneRuns(cmd.Context(), time.Now().Add(-olderThan))
			} else {
				deleted, err = a.store.PruneExpired(cmd.Context())
			}
			if err != nil {
				return err
			}

			fmt.Printf("Deleted %d runs.\n", deleted)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete runs older than this")

	return cmd
}

func openHistory(cmd *cobra.Command) (*app, error) {
	a, err := newApp(cmd.Context(), appOptions{store: true})
	if err != nil {
		return nil, err
	}
	if a.store == nil {
		a.Close()
		return nil, fmt.Errorf("run history is disabled (store.enabled is false)")
	}
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
