package commands

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/healthgraph/pkg/server"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API",
		Long: `Start the HTTP API.

Endpoints:
  POST /v1/analyze      analyze a product
  GET  /v1/runs         list recorded runs
  GET  /v1/runs/{id}    show one run
  GET  /healthz         health
  GET  /metrics         prometheus metrics

Policy files are reloaded on change when policy.watch is set.`,
		Example: `  # Serve on the configured address
  healthgraph serve

  # Serve on another port
  healthgraph serve --listen :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, appOptions{store: true, advisor: true})
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.cfg.Server
			if listen != "" {
				cfg.Listen = listen
			}

			var history server.History
			if a.store != nil {
				history = a.store
			}

			srv, err := server.New(cfg, a.advisor, history, a.tel.Metrics, a.tel.Logger.Zerolog())
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(ctx) })
			if a.cfg.Policy.Watch {
				g.Go(func() error { return a.policies.Watch(ctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")

	return cmd
}
