package pipeline_test

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

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/geocode"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/observability"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/pipeline"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/workspace"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- stubs ---

// stubGeocoder matches every address whose id is not listed in failIDs' batches.
type stubGeocoder struct {
	calls atomic.Int64
	// failBatchWith fails any batch containing this id.
	failBatchWith string
}

func (s *stubGeocoder) GeocodeBatch(_ context.Context, reqs []domain.GeocodeRequest) ([]domain.GeocodeResult, error) {
	s.calls.Add(1)
	out := make([]domain.GeocodeResult, 0, len(reqs))
	for _, r := range reqs {
		if s.failBatchWith != "" && r.ID == s.failBatchWith {
			return nil, errors.New("census timeout")
		}
		lat, lon := 30.0, -97.0
		out = append(out, domain.GeocodeResult{ID: r.ID, Address: r.Address, Match: true, Lat: &lat, Lon: &lon})
	}
	return out, nil
}

type recordingSinks struct {
	mu        sync.Mutex
	published map[int]int
	archived  []string
	notified  []domain.YearReport
	pubErr    error
}

func (r *recordingSinks) PublishYear(_ context.Context, year int, results []domain.GeocodeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubErr != nil {
		return r.pubErr
	}
	if r.published == nil {
		r.published = map[int]int{}
	}
	r.published[year] = len(results)
	return nil
}

func (r *recordingSinks) ArchiveYear(_ context.Context, _ int, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.archived = append(r.archived, path)
	return nil
}

func (r *recordingSinks) NotifyYear(_ context.Context, report domain.YearReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, report)
	return nil
}

func (r *recordingSinks) asSinks() pipeline.Sinks {
	return pipeline.Sinks{Publisher: r, Archiver: r, Notifier: r}
}

// --- helpers ---

func writeCleaned(t *testing.T, store *dataset.Store, year, n int) {
	t.Helper()
	records := make([]domain.CleanedIncident, n)
	for i := range records {
		records[i].Address = strconv.Itoa(i+1) + " MAIN ST"
		records[i].City = "AUSTIN"
		records[i].StateID = "TX"
		records[i].NumRecords = 1
	}
	f, err := os.Create(store.CleanedPath(year))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, dataset.WriteCleaned(f, records))
}

func newGeocoder(store *dataset.Store, g domain.BatchGeocoder, sinks pipeline.Sinks, opts pipeline.Options) *pipeline.Geocoder {
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewRealClock()
	runner := geocode.NewRunner(g, geocode.Options{MaxAttempts: 2, Workers: 1}, clock, metrics, discardLogger)
	return pipeline.NewGeocoder(store, runner, sinks, opts, clock, metrics, discardLogger)
}

// --- orchestrator ---

func TestProcessPendingYears_GeocodesEachPendingYear(t *testing.T) {
	store := dataset.NewStore(t.TempDir())
	writeCleaned(t, store, 2016, 5)
	writeCleaned(t, store, 2017, 3)
	writeCleaned(t, store, 2015, 2)
	require.NoError(t, os.WriteFile(store.GeocodedPath(2015), []byte("done"), 0o644))

	sinks := &recordingSinks{}
	g := newGeocoder(store, &stubGeocoder{}, sinks.asSinks(), pipeline.Options{BatchSize: 2})

	require.Error(t, g.CheckReadiness(context.Background()))

	reports, err := g.ProcessPendingYears(context.Background(), pipeline.YearFilter{})
	require.NoError(t, err)
	require.NoError(t, g.CheckReadiness(context.Background()))

	require.Len(t, reports, 2)
	assert.Equal(t, 2016, reports[0].Year)
	assert.Equal(t, 2017, reports[1].Year)
	assert.Equal(t, domain.YearComplete, reports[0].Outcome)
	assert.Equal(t, 5, reports[0].Records)
	assert.Equal(t, 5, reports[0].Geocoded)
	assert.Equal(t, 5, reports[0].Matched)
	assert.Equal(t, 3, reports[0].Files)
	assert.True(t, reports[0].Persisted)
	assert.NotEmpty(t, reports[0].RunID)

	results, err := dataset.ReadGeocodedFile(store.GeocodedPath(2016))
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, strconv.Itoa(i), r.ID)
	}

	data, err := os.ReadFile(store.GeocodedPath(2015))
	require.NoError(t, err)
	assert.Equal(t, "done", string(data), "finished years are not reprocessed")

	assert.Equal(t, map[int]int{2016: 5, 2017: 3}, sinks.published)
	assert.Len(t, sinks.archived, 2)
	assert.Len(t, sinks.notified, 2)

	pending, err := store.PendingYears()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessPendingYears_Filters(t *testing.T) {
	store := dataset.NewStore(t.TempDir())
	for _, y := range []int{2014, 2015, 2016} {
		writeCleaned(t, store, y, 1)
	}
	g := newGeocoder(store, &stubGeocoder{}, pipeline.Sinks{}, pipeline.Options{})

	reports, err := g.ProcessPendingYears(context.Background(), pipeline.YearFilter{From: 2015})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 2015, reports[0].Year)

	_, err = g.ProcessPendingYears(context.Background(), pipeline.YearFilter{Years: []int{2014}, To: 2016})
	require.ErrorIs(t, err, pipeline.ErrConflictingFilters)
}

func TestProcessPendingYears_AbandonedFilesWithholdDataset(t *testing.T) {
	store := dataset.NewStore(t.TempDir())
	writeCleaned(t, store, 2016, 4)
	geo := &stubGeocoder{failBatchWith: "0"}
	sinks := &recordingSinks{}
	g := newGeocoder(store, geo, sinks.asSinks(), pipeline.Options{BatchSize: 2})

	reports, err := g.ProcessPendingYears(context.Background(), pipeline.YearFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, domain.YearIncomplete, r.Outcome)
	assert.False(t, r.Persisted)
	assert.Equal(t, 1, r.Abandoned)
	assert.Equal(t, []string{"nfirs_2016_part_0001.csv"}, r.Gaps)
	assert.Equal(t, 2, r.Geocoded)
	assert.Zero(t, r.Missing, "rows waiting in gap files are not lost")
	assert.NoFileExists(t, store.GeocodedPath(2016))
	assert.Empty(t, sinks.published)
	require.Len(t, sinks.notified, 1, "incomplete years are still announced")
	assert.Equal(t, domain.YearIncomplete, sinks.notified[0].Outcome)

	// Without resume the leftover workspace is a precondition failure.
	_, err = g.ProcessPendingYears(context.Background(), pipeline.YearFilter{})
	require.ErrorIs(t, err, workspace.ErrWorkspaceExists)

	// Resume retries only the gap.
	geo.failBatchWith = ""
	callsBefore := geo.calls.Load()
	resumed := newGeocoder(store, geo, pipeline.Sinks{}, pipeline.Options{BatchSize: 2, Resume: true})
	reports, err = resumed.ProcessPendingYears(context.Background(), pipeline.YearFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, domain.YearComplete, reports[0].Outcome)
	assert.Equal(t, 1, reports[0].Skipped)
	assert.Equal(t, int64(1), geo.calls.Load()-callsBefore)
	assert.FileExists(t, store.GeocodedPath(2016))
}

func TestProcessPendingYears_AllowPartial(t *testing.T) {
	store := dataset.NewStore(t.TempDir())
	writeCleaned(t, store, 2016, 4)
	g := newGeocoder(store, &stubGeocoder{failBatchWith: "3"}, pipeline.Sinks{},
		pipeline.Options{BatchSize: 2, AllowPartial: true})

	reports, err := g.ProcessPendingYears(context.Background(), pipeline.YearFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, domain.YearPartial, reports[0].Outcome)
	assert.True(t, reports[0].Persisted)
	assert.Equal(t, []string{"nfirs_2016_part_0002.csv"}, reports[0].Gaps)

	results, err := dataset.ReadGeocodedFile(store.GeocodedPath(2016))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestProcessYear_ResumeWithLostBatchFileWithholdsDataset(t *testing.T) {
	store := dataset.NewStore(t.TempDir())
	writeCleaned(t, store, 2016, 10)
	records, err := dataset.ReadCleanedFile(store.CleanedPath(2016))
	require.NoError(t, err)

	ws := workspace.New(store.WorkspaceDir(2016), 2016, discardLogger)
	_, err = ws.Partition(records, 5)
	require.NoError(t, err)
	require.NoError(t, os.Remove(ws.InputPath(2)))

	sinks := &recordingSinks{}
	g := newGeocoder(store, &stubGeocoder{}, sinks.asSinks(),
		pipeline.Options{BatchSize: 5, Resume: true, AllowPartial: true})

	report, err := g.ProcessYear(context.Background(), 2016)
	require.NoError(t, err)
	assert.Equal(t, domain.YearIncomplete, report.Outcome)
	assert.Equal(t, 10, report.Records)
	assert.Equal(t, 5, report.Geocoded)
	assert.Equal(t, 5, report.Missing)
	assert.Empty(t, report.Gaps)
	assert.False(t, report.Persisted)
	assert.NoFileExists(t, store.GeocodedPath(2016))
	assert.Empty(t, sinks.published)
}

func TestProcessPendingYears_SinkFailureKeepsDataset(t *testing.T) {
	store := dataset.NewStore(t.TempDir())
	writeCleaned(t, store, 2016, 1)
	sinks := &recordingSinks{pubErr: errors.New("broker unavailable")}
	g := newGeocoder(store, &stubGeocoder{}, sinks.asSinks(), pipeline.Options{})

	reports, err := g.ProcessPendingYears(context.Background(), pipeline.YearFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Persisted)
	require.Len(t, reports[0].SinkErrors, 1)
	assert.Contains(t, reports[0].SinkErrors[0], "broker unavailable")
	assert.FileExists(t, store.GeocodedPath(2016))
}

func TestProcessPendingYears_EmptyYear(t *testing.T) {
	store := dataset.NewStore(t.TempDir())
	writeCleaned(t, store, 2016, 0)
	g := newGeocoder(store, &stubGeocoder{}, pipeline.Sinks{}, pipeline.Options{})

	reports, err := g.ProcessPendingYears(context.Background(), pipeline.YearFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, domain.YearComplete, reports[0].Outcome)
	assert.Zero(t, reports[0].Files)

	results, err := dataset.ReadGeocodedFile(store.GeocodedPath(2016))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessPendingYears_Cancelled(t *testing.T) {
	store := dataset.NewStore(t.TempDir())
	writeCleaned(t, store, 2016, 1)
	g := newGeocoder(store, &stubGeocoder{}, pipeline.Sinks{}, pipeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reports, err := g.ProcessPendingYears(ctx, pipeline.YearFilter{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reports)
}

// --- result consolidator ---

func TestConsolidate_ReportsGaps(t *testing.T) {
	ws := workspace.New(filepath.Join(t.TempDir(), "temp_2016"), 2016, discardLogger)
	records := make([]domain.CleanedIncident, 3)
	_, err := ws.Partition(records, 1)
	require.NoError(t, err)

	lat, lon := 1.0, 2.0
	for _, name := range []string{"nfirs_2016_part_0001.csv", "nfirs_2016_part_0003.csv"} {
		f, err := os.Create(ws.OutputPathFor(name))
		require.NoError(t, err)
		require.NoError(t, dataset.WriteGeocoded(f, []domain.GeocodeResult{{ID: name, Match: true, Lat: &lat, Lon: &lon}}))
		require.NoError(t, f.Close())
	}

	res, err := pipeline.Consolidate(ws)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "nfirs_2016_part_0001.csv", res.Results[0].ID)
	assert.Equal(t, "nfirs_2016_part_0003.csv", res.Results[1].ID)
	assert.Equal(t, []string{"nfirs_2016_part_0002.csv"}, res.Gaps)
}

func TestConsolidate_RejectsCorruptOutput(t *testing.T) {
	ws := workspace.New(filepath.Join(t.TempDir(), "temp_2016"), 2016, discardLogger)
	_, err := ws.Partition(make([]domain.CleanedIncident, 1), 1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.OutputPathFor("nfirs_2016_part_0001.csv"), []byte("garbage\n"), 0o644))

	_, err = pipeline.Consolidate(ws)
	require.ErrorIs(t, err, dataset.ErrHeaderMismatch)
}

// --- filter ---

func TestYearFilter(t *testing.T) {
	years := []int{2013, 2014, 2015, 2016}

	assert.Equal(t, years, pipeline.YearFilter{}.Apply(years))
	assert.Equal(t, []int{2014, 2016}, pipeline.YearFilter{Years: []int{2016, 2014, 2020}}.Apply(years))
	assert.Equal(t, []int{2014, 2015}, pipeline.YearFilter{From: 2014, To: 2015}.Apply(years))
	assert.Equal(t, []int{2013, 2014}, pipeline.YearFilter{To: 2014}.Apply(years))

	require.ErrorIs(t, pipeline.YearFilter{Years: []int{2016}, From: 2015}.Validate(), pipeline.ErrConflictingFilters)
	require.Error(t, pipeline.YearFilter{From: 2017, To: 2015}.Validate())
	require.NoError(t, pipeline.YearFilter{From: 2015}.Validate())
}
