package pipeline

import (
	"log/slog"
	"slices"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/workspace"
)

// YearStatus describes where one year stands across the interim directory.
type YearStatus struct {
	Year         int
	Cleaned      bool
	Geocoded     bool
	Workspace    bool
	BatchFiles   int
	PendingFiles int
	Jobs         map[string]int // ledger entries by status
	LedgerError  string
}

// Inspect reports the state of every year known to the store, ascending.
func Inspect(store *dataset.Store, clock clockwork.Clock, logger *slog.Logger) ([]YearStatus, error) {
	cleaned, err := store.CleanedYears()
	if err != nil {
		return nil, err
	}
	geocoded, err := store.GeocodedYears()
	if err != nil {
		return nil, err
	}

	years := slices.Clone(cleaned)
	for _, y := range geocoded {
		if !slices.Contains(years, y) {
			years = append(years, y)
		}
	}
	slices.Sort(years)

	out := make([]YearStatus, 0, len(years))
	for _, year := range years {
		st := YearStatus{
			Year:     year,
			Cleaned:  slices.Contains(cleaned, year),
			Geocoded: slices.Contains(geocoded, year),
		}

		ws := workspace.New(store.WorkspaceDir(year), year, logger)
		if ws.Exists() {
			st.Workspace = true
			inspectWorkspace(ws, clock, &st)
		}
		out = append(out, st)
	}
	return out, nil
}

func inspectWorkspace(ws *workspace.Workspace, clock clockwork.Clock, st *YearStatus) {
	if inputs, err := ws.InputFiles(); err == nil {
		st.BatchFiles = len(inputs)
	}
	if pending, err := ws.Pending(); err == nil {
		st.PendingFiles = len(pending)
	}

	if !dataset.Exists(ws.LedgerPath()) {
		return
	}
	jobs, err := ws.LedgerReader(clock).All()
	if err != nil {
		st.LedgerError = err.Error()
		return
	}
	st.Jobs = make(map[string]int)
	for _, rec := range jobs {
		st.Jobs[rec.Status]++
	}
}
