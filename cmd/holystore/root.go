package holystore

import (
	"io"
	"os"
	"strconv"

	"github.com/garder500/holystore/internal/config"
	"github.com/garder500/holystore/pkg/db"
	"github.com/garder500/holystore/pkg/delivery"
	"github.com/garder500/holystore/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is the release reported by the version command.
var Version = "0.1.0"

type globalOptions struct {
	configPath string
	root       string
	logLevel   string
}

// Execute is the main entry point for the holystore command
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "holystore",
		Short:         "HolyStore - a numbered, file-backed object store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/holystore/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.root, "root", "", "storage root directory (overrides data_dir)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newServeCmd(opts),
		newInsertCmd(opts),
		newUpdateCmd(opts),
		newRemoveCmd(opts),
		newStatCmd(opts),
		newCatCmd(opts),
		newCopyCmd(opts),
		newPushCmd(opts),
		newListCmd(opts),
		newChangelogCmd(opts),
		newReindexCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig resolves the configuration and applies the global flags.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.root != "" {
		cfg.DataDir = o.root
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	setupLogging(cmd.ErrOrStderr(), cfg.Log)
	return cfg, nil
}

// openDatabase loads the configuration and opens the store it points at.
func (o *globalOptions) openDatabase(cmd *cobra.Command, extra ...db.Option) (*db.Database, *config.Config, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	database, err := openConfigured(cfg, extra...)
	if err != nil {
		return nil, nil, err
	}
	return database, cfg, nil
}

// openConfigured opens the store described by an already loaded cfg.
func openConfigured(cfg *config.Config, extra ...db.Option) (*db.Database, error) {
	dbOpts := []db.Option{
		db.WithDelivery(delivery.Options{
			CacheControl: cfg.Delivery.CacheControl,
			Expires:      cfg.Delivery.Expires,
		}),
		db.WithPushTimeout(cfg.Push.Timeout),
		db.WithObserver(storage.NewLogObserver(log.With().Str("component", "events").Logger())),
	}
	database := db.New("holystore", cfg.DataDir, append(dbOpts, extra...)...)
	if err := database.Open(); err != nil {
		return nil, err
	}
	return database, nil
}

func setupLogging(w io.Writer, lc config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if lc.Format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, storage.ErrNotFound
	}
	return id, nil
}

// openInput opens a payload source; "-" is standard input.
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(path)
}
