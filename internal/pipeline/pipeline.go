package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/geocode"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/observability"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/workspace"
)

// BatchRunner geocodes the batch files of one workspace.
type BatchRunner interface {
	Run(ctx context.Context, ws *workspace.Workspace) (geocode.Summary, error)
}

// Publisher delivers the geocoded rows of a finished year.
type Publisher interface {
	PublishYear(ctx context.Context, year int, results []domain.GeocodeResult) error
}

// Archiver copies a finished yearly dataset to long-term storage.
type Archiver interface {
	ArchiveYear(ctx context.Context, year int, path string) error
}

// Notifier announces a finished year.
type Notifier interface {
	NotifyYear(ctx context.Context, report domain.YearReport) error
}

// Sinks are the optional destinations a finished year is delivered to. Nil sinks are skipped.
type Sinks struct {
	Publisher Publisher
	Archiver  Archiver
	Notifier  Notifier
}

// Options controls how the orchestrator treats existing workspaces and abandoned files.
type Options struct {
	BatchSize int
	// Resume reuses an existing workspace instead of failing.
	Resume bool
	// AllowPartial persists a year even when batch files were abandoned.
	AllowPartial bool
}

// Geocoder drives cleaned yearly datasets through partitioning, batch geocoding and
// result consolidation into final geocoded datasets.
type Geocoder struct {
	store   *dataset.Store
	runner  BatchRunner
	sinks   Sinks
	opts    Options
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger
	started atomic.Bool
}

// NewGeocoder creates the year orchestrator.
func NewGeocoder(store *dataset.Store, runner BatchRunner, sinks Sinks, opts Options, clock clockwork.Clock,
	metrics *observability.Metrics, logger *slog.Logger) *Geocoder {
	if opts.BatchSize == 0 {
		opts.BatchSize = workspace.MaxBatchSize
	}
	return &Geocoder{
		store:   store,
		runner:  runner,
		sinks:   sinks,
		opts:    opts,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// CheckReadiness returns nil once a geocoding pass has started.
func (g *Geocoder) CheckReadiness(_ context.Context) error {
	if !g.started.Load() {
		return errors.New("geocoding has not started yet")
	}
	return nil
}

// ProcessPendingYears geocodes every cleaned year without a final dataset, oldest first,
// restricted by filter. It stops at the first year that fails and returns the reports
// of the years processed so far.
func (g *Geocoder) ProcessPendingYears(ctx context.Context, filter YearFilter) ([]domain.YearReport, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	pending, err := g.store.PendingYears()
	if err != nil {
		return nil, err
	}
	years := filter.Apply(pending)
	g.logger.Info("pending years", "years", years)
	g.started.Store(true)

	reports := make([]domain.YearReport, 0, len(years))
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := g.ProcessYear(ctx, year)
		if err != nil {
			return reports, fmt.Errorf("geocode %d: %w", year, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// ProcessYear runs one year end to end: partition, geocode, consolidate, persist, deliver.
func (g *Geocoder) ProcessYear(ctx context.Context, year int) (domain.YearReport, error) {
	logger := g.logger.With("year", year)
	report := domain.YearReport{RunID: uuid.NewString(), Year: year, StartedAt: g.clock.Now().UTC()}

	records, err := dataset.ReadCleanedFile(g.store.CleanedPath(year))
	if err != nil {
		return report, err
	}
	report.Records = len(records)

	ws := workspace.New(g.store.WorkspaceDir(year), year, g.logger)
	if g.opts.Resume && ws.Exists() {
		logger.Info("resuming existing workspace", "dir", ws.Dir)
	} else {
		part, err := ws.Partition(records, g.opts.BatchSize)
		if err != nil {
			return report, err
		}
		g.metrics.BatchFilesMade.Add(float64(len(part.Files)))
	}

	summary, err := g.runner.Run(ctx, ws)
	if err != nil {
		return report, err
	}
	report.Files = len(summary.Files)
	report.Succeeded = summary.Count(geocode.StatusSucceeded)
	report.Skipped = summary.Count(geocode.StatusSkipped)
	report.Abandoned = summary.Count(geocode.StatusAbandoned)

	consolidated, err := Consolidate(ws)
	if err != nil {
		return report, err
	}
	report.Gaps = consolidated.Gaps
	report.Geocoded = len(consolidated.Results)
	for _, r := range consolidated.Results {
		if r.Match {
			report.Matched++
		}
	}

	report.Missing = consolidated.MissingRecords(report.Records)

	switch {
	case report.Missing > 0:
		// Lost batch files cannot be retried, so partial persistence never applies.
		report.Outcome = domain.YearIncomplete
		logger.Error("year not persisted, cleaned rows have no batch file; remove the workspace to repartition",
			"missing", report.Missing, "dir", ws.Dir)
	case len(consolidated.Gaps) == 0:
		report.Outcome = domain.YearComplete
	case g.opts.AllowPartial:
		report.Outcome = domain.YearPartial
		logger.Warn("persisting partial year", "gaps", consolidated.Gaps)
	default:
		report.Outcome = domain.YearIncomplete
		logger.Warn("year not persisted, batch files missing output; rerun with resume to retry",
			"gaps", consolidated.Gaps)
	}

	if report.Outcome != domain.YearIncomplete {
		path := g.store.GeocodedPath(year)
		if err := dataset.WriteFileAtomic(path, func(w io.Writer) error {
			return dataset.WriteGeocoded(w, consolidated.Results)
		}); err != nil {
			return report, err
		}
		report.Persisted = true
		report.OutputPath = path
		logger.Info("geocoded dataset written", "path", path, "rows", report.Geocoded, "matched", report.Matched)

		g.deliver(ctx, &report, consolidated.Results)
	}

	report.FinishedAt = g.clock.Now().UTC()
	g.notify(ctx, &report)
	g.metrics.YearsGeocoded.WithLabelValues(report.Outcome).Inc()
	return report, nil
}

// deliver pushes a persisted year to the publisher and archiver. Failures are reported,
// never undone.
func (g *Geocoder) deliver(ctx context.Context, report *domain.YearReport, results []domain.GeocodeResult) {
	if g.sinks.Publisher != nil {
		if err := g.sinks.Publisher.PublishYear(ctx, report.Year, results); err != nil {
			g.sinkFailed(report, "kafka", err)
		}
	}
	if g.sinks.Archiver != nil {
		if err := g.sinks.Archiver.ArchiveYear(ctx, report.Year, report.OutputPath); err != nil {
			g.sinkFailed(report, "objectstore", err)
		}
	}
}

func (g *Geocoder) notify(ctx context.Context, report *domain.YearReport) {
	if g.sinks.Notifier == nil {
		return
	}
	if err := g.sinks.Notifier.NotifyYear(ctx, *report); err != nil {
		g.sinkFailed(report, "amqp", err)
	}
}

func (g *Geocoder) sinkFailed(report *domain.YearReport, sink string, err error) {
	g.logger.Error("sink delivery failed", "year", report.Year, "sink", sink, "error", err)
	g.metrics.SinkErrors.WithLabelValues(sink).Inc()
	report.SinkErrors = append(report.SinkErrors, fmt.Sprintf("%s: %v", sink, err))
}
