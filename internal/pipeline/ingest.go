package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/adapter/rawtable"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/observability"
)

// Ingester turns raw NFIRS year directories into cleaned yearly datasets.
type Ingester struct {
	rawDir  string
	store   *dataset.Store
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewIngester creates an Ingester reading year directories under rawDir.
func NewIngester(rawDir string, store *dataset.Store, metrics *observability.Metrics, logger *slog.Logger) *Ingester {
	return &Ingester{rawDir: rawDir, store: store, metrics: metrics, logger: logger}
}

// IngestAll cleans every raw year that has no cleaned dataset yet and returns the years
// written. Years already cleaned are left alone.
func (i *Ingester) IngestAll(ctx context.Context) ([]int, error) {
	years, err := rawtable.YearDirs(i.rawDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(i.store.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create interim dir: %w", err)
	}

	var written []int
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if dataset.Exists(i.store.CleanedPath(year)) {
			i.logger.Info("year already cleaned", "year", year)
			continue
		}
		if err := i.IngestYear(year); err != nil {
			return written, fmt.Errorf("ingest %d: %w", year, err)
		}
		written = append(written, year)
	}
	return written, nil
}

// IngestYear reads, consolidates and rolls up one raw year, overwriting its cleaned dataset.
func (i *Ingester) IngestYear(year int) error {
	logger := i.logger.With("year", year)

	raw, err := rawtable.ReadYear(filepath.Join(i.rawDir, strconv.Itoa(year)))
	if err != nil {
		return err
	}
	logger.Info("raw tables read", "basic", len(raw.Basic), "address", len(raw.Address), "fire", len(raw.Fire))

	res, err := domain.Consolidate(raw)
	if err != nil {
		return err
	}
	logger.Info("duplicate merge keys dropped",
		"basic", res.Dropped.Basic, "address", res.Dropped.Address, "fire", res.Dropped.Fire)
	i.metrics.DuplicateRows.WithLabelValues("basic").Add(float64(res.Dropped.Basic))
	i.metrics.DuplicateRows.WithLabelValues("address").Add(float64(res.Dropped.Address))
	i.metrics.DuplicateRows.WithLabelValues("fire").Add(float64(res.Dropped.Fire))

	cleaned := domain.Rollup(res.Incidents)

	path := i.store.CleanedPath(year)
	if err := dataset.WriteFileAtomic(path, func(w io.Writer) error {
		return dataset.WriteCleaned(w, cleaned)
	}); err != nil {
		return err
	}

	i.metrics.YearsIngested.Inc()
	i.metrics.IncidentsKept.Add(float64(len(cleaned)))
	logger.Info("cleaned dataset written", "incidents", len(res.Incidents), "records", len(cleaned), "path", path)
	return nil
}
