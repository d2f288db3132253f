// Package geocode drives a year's batch files through the batch geocoder with per-file
// retries, writing one output file per input file. A file is complete exactly when its
// output file exists, so an interrupted run resumes by running again.
package geocode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/observability"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/workspace"
)

// Options tunes retries, pacing and concurrency.
type Options struct {
	MaxAttempts int
	MinDelay    time.Duration // jitter before every attempt is drawn from [MinDelay, MaxDelay]
	MaxDelay    time.Duration
	Workers     int
	RateLimit   float64 // attempts per second shared by all workers, 0 disables
}

// DefaultOptions matches the pacing the Census geocoder tolerates from one client.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 10,
		MinDelay:    1 * time.Second,
		MaxDelay:    4 * time.Second,
		Workers:     1,
	}
}

// Runner geocodes every pending batch file of a workspace.
type Runner struct {
	geocoder domain.BatchGeocoder
	opts     Options
	limiter  *rate.Limiter
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewRunner creates a Runner. Zero-valued options fall back to DefaultOptions.
func NewRunner(geocoder domain.BatchGeocoder, opts Options, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Runner {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}

	r := &Runner{
		geocoder: geocoder,
		opts:     opts,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
	if opts.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return r
}

// Run processes the workspace's input files in filename order. Exhausted retries are
// reported in the Summary, never as an error. A cancelled context stops the run between
// attempts and returns the partial Summary with ctx.Err().
func (r *Runner) Run(ctx context.Context, ws *workspace.Workspace) (Summary, error) {
	inputs, err := ws.InputFiles()
	if err != nil {
		return Summary{}, err
	}

	ledger, err := ws.OpenLedger(r.clock)
	if err != nil {
		return Summary{}, err
	}

	logger := r.logger.With("year", ws.Year)
	logger.Info("geocoding started", "files", len(inputs), "workers", r.opts.Workers,
		"max_attempts", r.opts.MaxAttempts)
	r.metrics.RunnerActive.Set(1)
	defer r.metrics.RunnerActive.Set(0)

	start := r.clock.Now()
	outcomes := make([]FileOutcome, len(inputs))
	for i, name := range inputs {
		outcomes[i] = FileOutcome{File: name, Status: StatusPending}
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, name := range inputs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			f := fileRun{r: r, ws: ws, ledger: ledger, name: name, runStart: start,
				logger: logger.With("file", name)}
			outcomes[i] = f.process(ctx)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Year: ws.Year, Files: outcomes, Elapsed: r.clock.Since(start)}
	logger.Info("geocoding finished",
		"succeeded", summary.Count(StatusSucceeded),
		"skipped", summary.Count(StatusSkipped),
		"abandoned", summary.Count(StatusAbandoned),
		"pending", summary.Count(StatusPending),
		"elapsed", summary.Elapsed)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// jitter draws the pre-attempt sleep uniformly from [MinDelay, MaxDelay].
func (r *Runner) jitter() time.Duration {
	span := r.opts.MaxDelay - r.opts.MinDelay
	if span <= 0 {
		return r.opts.MinDelay
	}
	return r.opts.MinDelay + rand.N(span+1)
}

// pace sleeps the jitter and waits for the shared rate limiter. It returns false when
// the context ends first.
func (r *Runner) pace(ctx context.Context) bool {
	if d := r.jitter(); d > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-r.clock.After(d):
		}
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return false
		}
	}
	return ctx.Err() == nil
}

// fileRun carries one file through its state machine.
type fileRun struct {
	r        *Runner
	ws       *workspace.Workspace
	ledger   *workspace.Ledger
	name     string
	runStart time.Time
	logger   *slog.Logger
}

func (f fileRun) process(ctx context.Context) FileOutcome {
	r := f.r
	start := r.clock.Now()
	out := FileOutcome{File: f.name, Status: StatusPending}

	if dataset.Exists(f.ws.OutputPathFor(f.name)) {
		f.logger.Info("already geocoded")
		out.Status = StatusSkipped
		f.finish(&out, start)
		return out
	}

	var errs *multierror.Error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if !r.pace(ctx) {
			return out
		}
		out.Attempts = attempt
		f.logger.Info("geocoding batch file", "attempt", attempt)

		attemptStart := r.clock.Now()
		rows, err := f.attempt(ctx)
		r.metrics.BatchDuration.Observe(r.clock.Since(attemptStart).Seconds())
		if err == nil {
			r.metrics.BatchAttempts.WithLabelValues("success").Inc()
			out.Status = StatusSucceeded
			out.Rows = rows
			f.finish(&out, start)
			return out
		}

		r.metrics.BatchAttempts.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return out
		}
		f.logger.Warn("batch attempt failed", "attempt", attempt, "error", err)
		errs = multierror.Append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
	}

	out.Status = StatusAbandoned
	out.Cause = errs.ErrorOrNil()
	f.finish(&out, start)
	return out
}

// attempt reads the input file, geocodes it, verifies every submitted id came back,
// restores id order and writes the output file atomically.
func (f fileRun) attempt(ctx context.Context) (int, error) {
	requests, err := readBatch(filepath.Join(f.ws.InputDir, f.name))
	if err != nil {
		return 0, err
	}

	results, err := f.r.geocoder.GeocodeBatch(ctx, requests)
	if err != nil {
		return 0, err
	}
	if err := domain.CheckResults(requests, results); err != nil {
		return 0, err
	}
	domain.SortResults(results)

	err = dataset.WriteFileAtomic(f.ws.OutputPathFor(f.name), func(w io.Writer) error {
		return dataset.WriteGeocoded(w, results)
	})
	if err != nil {
		return 0, err
	}

	for _, res := range results {
		label := "no_match"
		if res.Match {
			label = "match"
		}
		f.r.metrics.AddressesGeocoded.WithLabelValues(label).Inc()
	}
	return len(results), nil
}

// finish stamps timing, logs, updates metrics and records the outcome in the ledger.
func (f fileRun) finish(out *FileOutcome, start time.Time) {
	r := f.r
	out.Elapsed = r.clock.Since(start)
	r.metrics.BatchFiles.WithLabelValues(string(out.Status)).Inc()

	switch out.Status {
	case StatusSucceeded:
		r.metrics.FileDuration.Observe(out.Elapsed.Seconds())
		f.logger.Info("batch file geocoded", "attempts", out.Attempts, "rows", out.Rows,
			"step_elapsed", out.Elapsed, "total_elapsed", r.clock.Since(f.runStart))
	case StatusAbandoned:
		r.metrics.FileDuration.Observe(out.Elapsed.Seconds())
		f.logger.Error("batch file abandoned", "attempts", out.Attempts, "error", out.Cause)
	}

	if out.Status == StatusSkipped {
		// Keep the entry of the run that produced the output.
		if _, ok, err := f.ledger.Get(f.name); err == nil && ok {
			return
		}
	}

	rec := workspace.JobRecord{Status: string(out.Status), Attempts: out.Attempts, Rows: out.Rows}
	if out.Cause != nil {
		rec.LastError = out.Cause.Error()
	}
	if err := f.ledger.Record(f.name, rec); err != nil {
		f.logger.Warn("record job outcome failed", "error", err)
	}
}

func readBatch(path string) ([]domain.GeocodeRequest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	defer file.Close()
	return dataset.ReadBatchInput(file)
}
