package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/adapter/amqp"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/adapter/census"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/adapter/kafka"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/adapter/objectstore"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/geocode"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/pipeline"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/workspace"
)

type geocodeFlags struct {
	resume       bool
	allowPartial bool
	years        []int
	from         int
	to           int
	workers      int
	batchSize    int
}

func createGeocodeCmd(a *app) *cobra.Command {
	var f geocodeFlags
	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Batch geocode every cleaned year without a geocoded dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("allow-partial") {
				a.cfg.AllowPartial = f.allowPartial
			}
			if f.workers > 0 {
				a.cfg.Workers = f.workers
			}
			if f.batchSize > 0 {
				if f.batchSize > workspace.MaxBatchSize {
					return fmt.Errorf("%w: %d", workspace.ErrInvalidBatchSize, f.batchSize)
				}
				a.cfg.BatchSize = f.batchSize
			}
			return runGeocode(cmd.Context(), a, f)
		},
	}
	cmd.Flags().BoolVar(&f.resume, "resume", false, "reuse existing year workspaces, geocoding only files without output")
	cmd.Flags().BoolVar(&f.allowPartial, "allow-partial", false, "persist years even when batch files were abandoned")
	cmd.Flags().IntSliceVar(&f.years, "years", nil, "only these years")
	cmd.Flags().IntVar(&f.from, "from", 0, "first year to process")
	cmd.Flags().IntVar(&f.to, "to", 0, "last year to process")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent batch requests (overrides GEOCODE_WORKERS)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "addresses per batch file (overrides GEOCODE_BATCH_SIZE)")
	return cmd
}

func runGeocode(ctx context.Context, a *app, f geocodeFlags) error {
	cfg, logger := a.cfg, a.logger
	clock := clockwork.NewRealClock()

	client := census.NewClient(cfg.CensusBaseURL, cfg.CensusBenchmark, cfg.CensusVintage, cfg.CensusTimeout, a.metrics, logger)
	runner := geocode.NewRunner(client, geocode.Options{
		MaxAttempts: cfg.MaxAttempts,
		MinDelay:    cfg.MinDelay,
		MaxDelay:    cfg.MaxDelay,
		Workers:     cfg.Workers,
		RateLimit:   cfg.RateLimit,
	}, clock, a.metrics, logger)

	sinks, closeSinks, err := buildSinks(a)
	if err != nil {
		return err
	}
	defer closeSinks()

	g := pipeline.NewGeocoder(a.store, runner, sinks, pipeline.Options{
		BatchSize:    cfg.BatchSize,
		Resume:       f.resume,
		AllowPartial: cfg.AllowPartial,
	}, clock, a.metrics, logger)

	if cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(cfg.HTTPAddr, g, func() ([]pipeline.YearStatus, error) {
			return pipeline.Inspect(a.store, clock, logger)
		}, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	reports, err := g.ProcessPendingYears(ctx, pipeline.YearFilter{Years: f.years, From: f.from, To: f.to})
	var incomplete []int
	for _, r := range reports {
		logger.Info("year finished",
			"year", r.Year, "outcome", r.Outcome, "records", r.Records, "matched", r.Matched,
			"abandoned", r.Abandoned, "run_id", r.RunID)
		if r.Outcome == domain.YearIncomplete {
			incomplete = append(incomplete, r.Year)
		}
	}
	if err != nil {
		return err
	}
	if len(incomplete) > 0 {
		return fmt.Errorf("years %v left incomplete; rerun with --resume or --allow-partial", incomplete)
	}
	return nil
}

// buildSinks wires the optional delivery targets enabled in configuration.
func buildSinks(a *app) (pipeline.Sinks, func(), error) {
	var (
		sinks   pipeline.Sinks
		closers []func() error
	)
	cfg, logger := a.cfg, a.logger

	if cfg.KafkaEnabled {
		pub := kafka.NewPublisher(cfg, logger)
		sinks.Publisher = pub
		closers = append(closers, pub.Close)
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.MinioEnabled {
		arch, err := objectstore.NewArchiver(cfg, logger)
		if err != nil {
			return pipeline.Sinks{}, nil, err
		}
		sinks.Archiver = arch
		logger.Info("object storage archiving enabled", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
	}
	if cfg.AMQPURL != "" {
		sinks.Notifier = amqp.NewNotifier(cfg, logger)
		logger.Info("amqp notifications enabled", "queue", cfg.AMQPQueue)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("sink close error", "error", err)
			}
		}
	}
	return sinks, closeAll, nil
}
