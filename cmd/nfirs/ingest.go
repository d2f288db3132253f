package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/pipeline"
)

func runIngest(ctx context.Context, a *app) error {
	ing := pipeline.NewIngester(a.cfg.RawDir, a.store, a.metrics, a.logger)
	years, err := ing.IngestAll(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("ingest finished", "years_written", years)
	return nil
}

func createIngestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Clean and merge raw NFIRS years that have no cleaned dataset yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir, _ := cmd.Flags().GetString("raw-dir"); dir != "" {
				a.cfg.RawDir = dir
			}
			return runIngest(cmd.Context(), a)
		},
	}
	cmd.Flags().String("raw-dir", "", "raw NFIRS root holding one directory per year (overrides NFIRS_RAW_DIR)")
	return cmd
}
