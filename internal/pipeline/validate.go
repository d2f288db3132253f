package pipeline

import (
	"fmt"
	"strconv"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
)

// maxPhaseErrors caps the messages kept per phase; the count stays exact.
const maxPhaseErrors = 20

// Phase is one named group of integrity checks.
type Phase struct {
	Name   string
	Errors []string
	Failed int
}

func (p *Phase) errorf(format string, args ...any) {
	p.Failed++
	if len(p.Errors) < maxPhaseErrors {
		p.Errors = append(p.Errors, fmt.Sprintf(format, args...))
	}
}

// Passed reports whether every check in the phase held.
func (p *Phase) Passed() bool { return p.Failed == 0 }

// Validation is the outcome of checking one year's geocoded dataset against its cleaned
// dataset.
type Validation struct {
	Year     int
	Records  int
	Geocoded int
	Phases   []*Phase
}

// Passed reports whether every phase passed.
func (v Validation) Passed() bool {
	for _, p := range v.Phases {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// ValidateYear checks the geocoded dataset of year: every row correlates to a cleaned
// record, ids are unique and ascending, and coordinates are present exactly when the
// address matched. Unless allowPartial, every cleaned record must have a geocoded row.
func ValidateYear(store *dataset.Store, year int, allowPartial bool) (Validation, error) {
	records, err := dataset.ReadCleanedFile(store.CleanedPath(year))
	if err != nil {
		return Validation{}, err
	}
	results, err := dataset.ReadGeocodedFile(store.GeocodedPath(year))
	if err != nil {
		return Validation{}, err
	}

	return Validation{
		Year:     year,
		Records:  len(records),
		Geocoded: len(results),
		Phases: []*Phase{
			checkCorrelation(results, len(records), allowPartial),
			checkOrder(results),
			checkCoordinates(results),
		},
	}, nil
}

func checkCorrelation(results []domain.GeocodeResult, records int, allowPartial bool) *Phase {
	p := &Phase{Name: "correlation ids"}

	seen := make(map[int]bool, len(results))
	for i, r := range results {
		id, err := strconv.Atoi(r.ID)
		if err != nil {
			p.errorf("row %d: id %q is not a record index", i, r.ID)
			continue
		}
		if id < 0 || id >= records {
			p.errorf("row %d: id %d outside cleaned dataset of %d records", i, id, records)
			continue
		}
		if seen[id] {
			p.errorf("row %d: duplicate id %d", i, id)
			continue
		}
		seen[id] = true
	}

	if !allowPartial && len(seen) != records {
		p.errorf("%d of %d cleaned records have no geocoded row", records-len(seen), records)
	}
	return p
}

func checkOrder(results []domain.GeocodeResult) *Phase {
	p := &Phase{Name: "row order"}
	for i := 1; i < len(results); i++ {
		if !domain.LessID(results[i-1].ID, results[i].ID) {
			p.errorf("row %d: id %s does not follow %s", i, results[i].ID, results[i-1].ID)
		}
	}
	return p
}

func checkCoordinates(results []domain.GeocodeResult) *Phase {
	p := &Phase{Name: "coordinates"}
	for _, r := range results {
		hasCoords := r.Lat != nil && r.Lon != nil
		switch {
		case r.Match && !hasCoords:
			p.errorf("id %s: matched without coordinates", r.ID)
		case !r.Match && (r.Lat != nil || r.Lon != nil):
			p.errorf("id %s: unmatched row carries coordinates", r.ID)
		case hasCoords && (*r.Lat < -90 || *r.Lat > 90 || *r.Lon < -180 || *r.Lon > 180):
			p.errorf("id %s: coordinates %v,%v out of range", r.ID, *r.Lat, *r.Lon)
		}
	}
	return p
}
