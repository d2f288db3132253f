package geocode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/observability"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/workspace"
)

const testYear = 2016

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- stubs ---

// stubGeocoder answers every request with a match, in reverse order, after failing the
// first failFirst calls (or every call when alwaysFail is set). The first shortFirst
// answers (or every answer when alwaysShort is set) leave out the last request.
type stubGeocoder struct {
	calls       atomic.Int64
	failFirst   int64
	alwaysFail  bool
	shortFirst  int64
	alwaysShort bool
	delay       time.Duration

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

var errConnReset = errors.New("connection reset by peer")

func (s *stubGeocoder) GeocodeBatch(_ context.Context, reqs []domain.GeocodeRequest) ([]domain.GeocodeResult, error) {
	n := s.calls.Add(1)

	s.mu.Lock()
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	if s.alwaysFail || n <= s.failFirst {
		return nil, errConnReset
	}

	results := make([]domain.GeocodeResult, 0, len(reqs))
	for i := len(reqs) - 1; i >= 0; i-- {
		lat, lon := 30.0+float64(i)/100, -97.0
		results = append(results, domain.GeocodeResult{
			ID: reqs[i].ID, Address: reqs[i].Address, Match: true, MatchType: "Exact", Lat: &lat, Lon: &lon,
		})
	}
	if s.alwaysShort || n <= s.failFirst+s.shortFirst {
		return results[1:], nil
	}
	return results, nil
}

// --- helpers ---

func noDelay() Options {
	return Options{MaxAttempts: 10, Workers: 1}
}

func newTestRunner(g domain.BatchGeocoder, opts Options, clock clockwork.Clock) *Runner {
	return NewRunner(g, opts, clock, observability.NewMetricsForTesting(), discardLogger)
}

func partitioned(t *testing.T, rows, batchSize int) *workspace.Workspace {
	t.Helper()
	ws := workspace.New(filepath.Join(t.TempDir(), "temp_2016"), testYear, discardLogger)
	records := make([]domain.CleanedIncident, rows)
	for i := range records {
		records[i].Address = strconv.Itoa(i) + " MAIN ST"
		records[i].City = "AUSTIN"
		records[i].StateID = "TX"
	}
	_, err := ws.Partition(records, batchSize)
	require.NoError(t, err)
	return ws
}

func readOutput(t *testing.T, ws *workspace.Workspace, input string) []domain.GeocodeResult {
	t.Helper()
	results, err := dataset.ReadGeocodedFile(ws.OutputPathFor(input))
	require.NoError(t, err)
	return results
}

// --- tests ---

func TestRun_GeocodesEveryFile(t *testing.T) {
	ws := partitioned(t, 5, 2)
	g := &stubGeocoder{}

	summary, err := newTestRunner(g, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	assert.True(t, summary.Complete())
	assert.Equal(t, 3, summary.Count(StatusSucceeded))
	assert.Equal(t, int64(3), g.calls.Load())
	assert.Equal(t, testYear, summary.Year)

	rows := 0
	for _, f := range summary.Files {
		assert.Equal(t, 1, f.Attempts)
		rows += f.Rows
	}
	assert.Equal(t, 5, rows)

	gaps, err := ws.Gaps()
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestRun_RestoresIDOrder(t *testing.T) {
	ws := partitioned(t, 11, 11)

	_, err := newTestRunner(&stubGeocoder{}, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	results := readOutput(t, ws, "nfirs_2016_part_0001.csv")
	require.Len(t, results, 11)
	for i, r := range results {
		assert.Equal(t, strconv.Itoa(i), r.ID, "ids sort numerically, 10 after 9")
	}
}

func TestRun_SkipsCompletedFiles(t *testing.T) {
	ws := partitioned(t, 5, 2)
	_, err := newTestRunner(&stubGeocoder{}, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	again := &stubGeocoder{}
	summary, err := newTestRunner(again, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	assert.Zero(t, again.calls.Load(), "completed files are never resubmitted")
	assert.Equal(t, 3, summary.Count(StatusSkipped))
	assert.True(t, summary.Complete())
}

func TestRun_ResumesPartialRun(t *testing.T) {
	ws := partitioned(t, 5, 2)
	require.NoError(t, os.WriteFile(ws.OutputPathFor("nfirs_2016_part_0002.csv"), []byte("existing"), 0o644))

	g := &stubGeocoder{}
	summary, err := newTestRunner(g, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	assert.Equal(t, int64(2), g.calls.Load())
	assert.Equal(t, []Status{StatusSucceeded, StatusSkipped, StatusSucceeded},
		[]Status{summary.Files[0].Status, summary.Files[1].Status, summary.Files[2].Status})

	data, err := os.ReadFile(ws.OutputPathFor("nfirs_2016_part_0002.csv"))
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data), "existing output is left untouched")
}

func TestRun_AbandonsAfterMaxAttempts(t *testing.T) {
	ws := partitioned(t, 1, 1)
	g := &stubGeocoder{alwaysFail: true}

	summary, err := newTestRunner(g, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err, "exhausted retries are not an error")

	assert.Equal(t, int64(10), g.calls.Load())
	assert.False(t, summary.Complete())

	abandoned := summary.Abandoned()
	require.Len(t, abandoned, 1)
	assert.Equal(t, 10, abandoned[0].Attempts)
	require.ErrorIs(t, abandoned[0].Cause, errConnReset)

	var merr *multierror.Error
	require.ErrorAs(t, abandoned[0].Cause, &merr)
	assert.Len(t, merr.Errors, 10)
	assert.Contains(t, merr.Errors[9].Error(), "attempt 10")

	assert.NoFileExists(t, ws.OutputPathFor("nfirs_2016_part_0001.csv"))

	ledger, err := ws.OpenLedger(clockwork.NewRealClock())
	require.NoError(t, err)
	rec, ok, err := ledger.Get("nfirs_2016_part_0001.csv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(StatusAbandoned), rec.Status)
	assert.Equal(t, 10, rec.Attempts)
	assert.Contains(t, rec.LastError, errConnReset.Error())
}

func TestRun_AbandonedFileDoesNotStopOthers(t *testing.T) {
	ws := partitioned(t, 4, 2)
	opts := noDelay()
	opts.MaxAttempts = 2
	g := &stubGeocoder{failFirst: 2}

	summary, err := newTestRunner(g, opts, clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	assert.Equal(t, StatusAbandoned, summary.Files[0].Status)
	assert.Equal(t, StatusSucceeded, summary.Files[1].Status)

	gaps, err := ws.Gaps()
	require.NoError(t, err)
	assert.Equal(t, []string{"nfirs_2016_part_0001.csv"}, gaps)
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	ws := partitioned(t, 1, 1)
	g := &stubGeocoder{failFirst: 2}

	summary, err := newTestRunner(g, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	require.Len(t, summary.Files, 1)
	assert.Equal(t, StatusSucceeded, summary.Files[0].Status)
	assert.Equal(t, 3, summary.Files[0].Attempts)
	assert.NoError(t, summary.Files[0].Cause)
}

func TestRun_SleepsJitterBeforeAttempt(t *testing.T) {
	ws := partitioned(t, 1, 1)
	g := &stubGeocoder{}
	clock := clockwork.NewFakeClock()
	opts := Options{MaxAttempts: 1, MinDelay: 3 * time.Second, MaxDelay: 3 * time.Second}

	done := make(chan Summary, 1)
	go func() {
		summary, err := newTestRunner(g, opts, clock).Run(context.Background(), ws)
		assert.NoError(t, err)
		done <- summary
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Zero(t, g.calls.Load(), "no request before the jitter elapses")

	clock.Advance(3 * time.Second)

	select {
	case summary := <-done:
		assert.True(t, summary.Complete())
		assert.Equal(t, int64(1), g.calls.Load())
	case <-ctx.Done():
		t.Fatal("runner did not finish after the jitter elapsed")
	}
}

func TestRun_CancelledLeavesFilesPending(t *testing.T) {
	ws := partitioned(t, 4, 2)
	g := &stubGeocoder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newTestRunner(g, noDelay(), clockwork.NewRealClock()).Run(ctx, ws)
	require.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, g.calls.Load())
	assert.Equal(t, 2, summary.Count(StatusPending))
	assert.False(t, summary.Complete())
}

func TestRun_WorkersBoundConcurrency(t *testing.T) {
	ws := partitioned(t, 8, 1)
	g := &stubGeocoder{delay: 20 * time.Millisecond}
	opts := noDelay()
	opts.Workers = 3

	summary, err := newTestRunner(g, opts, clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	assert.Equal(t, 8, summary.Count(StatusSucceeded))
	assert.LessOrEqual(t, g.maxInFlight, 3)
	for i, f := range summary.Files {
		assert.Equal(t, workspaceFile(i+1), f.File, "outcomes stay in filename order")
	}
}

func TestRun_SingleWorkerIsSequential(t *testing.T) {
	ws := partitioned(t, 4, 1)
	g := &stubGeocoder{delay: 5 * time.Millisecond}

	_, err := newTestRunner(g, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, 1, g.maxInFlight)
}

func TestRun_RateLimited(t *testing.T) {
	ws := partitioned(t, 2, 1)
	opts := noDelay()
	opts.RateLimit = 1000

	summary, err := newTestRunner(&stubGeocoder{}, opts, clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)
	assert.True(t, summary.Complete())
}

func TestJitter_StaysInRange(t *testing.T) {
	r := newTestRunner(&stubGeocoder{}, DefaultOptions(), clockwork.NewRealClock())
	for range 200 {
		d := r.jitter()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	r := newTestRunner(&stubGeocoder{}, Options{}, clockwork.NewRealClock())
	assert.Equal(t, 10, r.opts.MaxAttempts)
	assert.Equal(t, 1, r.opts.Workers)
	assert.Nil(t, r.limiter)
}

func TestSummary(t *testing.T) {
	s := Summary{Files: []FileOutcome{
		{File: "a", Status: StatusSucceeded},
		{File: "b", Status: StatusSkipped},
	}}
	assert.True(t, s.Complete())
	assert.Empty(t, s.Abandoned())

	s.Files = append(s.Files, FileOutcome{File: "c", Status: StatusAbandoned})
	assert.False(t, s.Complete())
	assert.Equal(t, 1, s.Count(StatusAbandoned))
	require.Len(t, s.Abandoned(), 1)
	assert.Equal(t, "c", s.Abandoned()[0].File)
}

func workspaceFile(part int) string {
	return filepath.Base(workspace.New("", testYear, discardLogger).InputPath(part))
}

func TestRun_RetriesShortResponse(t *testing.T) {
	ws := partitioned(t, 5, 5)
	g := &stubGeocoder{shortFirst: 1}

	summary, err := newTestRunner(g, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	require.Len(t, summary.Files, 1)
	assert.Equal(t, StatusSucceeded, summary.Files[0].Status)
	assert.Equal(t, 2, summary.Files[0].Attempts)
	assert.Equal(t, 5, summary.Files[0].Rows)
	assert.Len(t, readOutput(t, ws, "nfirs_2016_part_0001.csv"), 5)
}

func TestRun_AbandonsPersistentlyShortResponse(t *testing.T) {
	ws := partitioned(t, 10, 5)
	opts := noDelay()
	opts.MaxAttempts = 3
	g := &stubGeocoder{alwaysShort: true}

	summary, err := newTestRunner(g, opts, clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	assert.False(t, summary.Complete())
	assert.Equal(t, 2, summary.Count(StatusAbandoned))
	require.ErrorIs(t, summary.Files[0].Cause, domain.ErrIncompleteResults)
	assert.NoFileExists(t, ws.OutputPathFor("nfirs_2016_part_0001.csv"))
	assert.NoFileExists(t, ws.OutputPathFor("nfirs_2016_part_0002.csv"))
}

func TestRun_SkippedFileKeepsLedgerEntry(t *testing.T) {
	ws := partitioned(t, 2, 2)
	_, err := newTestRunner(&stubGeocoder{failFirst: 1}, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)

	summary, err := newTestRunner(&stubGeocoder{}, noDelay(), clockwork.NewRealClock()).Run(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, summary.Files[0].Status)

	ledger, err := ws.OpenLedger(clockwork.NewRealClock())
	require.NoError(t, err)
	rec, ok, err := ledger.Get("nfirs_2016_part_0001.csv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(StatusSucceeded), rec.Status)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, 2, rec.Rows)
}
