package holystore

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/garder500/holystore/internal/metrics"
	"github.com/garder500/holystore/internal/server"
	"github.com/garder500/holystore/pkg/db"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the object API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			var m *metrics.Metrics
			var extra []db.Option
			if cfg.Metrics.Enabled {
				m = metrics.Init(nil)
				extra = append(extra, db.WithObserver(m))
			}
			database, err := openConfigured(cfg, extra...)
			if err != nil {
				return err
			}
			defer database.Close()

			if m != nil {
				s, err := database.Storage()
				if err != nil {
					return err
				}
				m.SetCounters(s.Counters())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg, database, m)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
