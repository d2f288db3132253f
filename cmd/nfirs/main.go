// Command nfirs ingests raw NFIRS fire-incident tables into cleaned yearly datasets and
// geocodes their addresses through the Census batch geocoder.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/config"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/observability"
)

// app carries what every subcommand shares once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	store   *dataset.Store
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "nfirs",
		Short:         "NFIRS fire incident ingest and Census batch geocoding",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	rootCmd.PersistentFlags().String("interim-dir", "", "interim data directory (overrides NFIRS_INTERIM_DIR)")

	rootCmd.AddCommand(createIngestCmd(a))
	rootCmd.AddCommand(createGeocodeCmd(a))
	rootCmd.AddCommand(createStatusCmd(a))
	rootCmd.AddCommand(createValidateCmd(a))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if a.logger != nil {
			a.logger.Error("command failed", "error", err)
		} else {
			slog.Error("command failed", "error", err)
		}
		os.Exit(1)
	}
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("interim-dir"); dir != "" {
		cfg.InterimDir = dir
	}

	a.cfg = cfg
	a.logger = observability.NewLogger(cfg)
	a.metrics = observability.NewMetrics()
	a.store = dataset.NewStore(cfg.InterimDir)
	return nil
}
