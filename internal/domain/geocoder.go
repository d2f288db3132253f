package domain

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

// GeocodeRequest is one address submitted to the batch geocoder. ID correlates the
// result back to the row of the yearly cleaned dataset.
type GeocodeRequest struct {
	ID      string
	Address string
	City    string
	State   string
	Zip     string
}

// GeocodeResult is the batch geocoder's answer for one request. Lat and Lon are nil
// when the address did not match.
type GeocodeResult struct {
	ID          string
	Address     string
	Match       bool
	MatchType   string
	Parsed      string
	TigerLineID string
	Side        string
	StateFP     string
	CountyFP    string
	Tract       string
	Block       string
	Lat         *float64
	Lon         *float64
}

// BatchGeocoder resolves a batch of addresses in one request. Results may come back in
// any order.
type BatchGeocoder interface {
	GeocodeBatch(ctx context.Context, requests []GeocodeRequest) ([]GeocodeResult, error)
}

// GeocodeRequests projects cleaned records onto the four fields the geocoder needs.
// The correlation id is the record's position in the slice.
func GeocodeRequests(records []CleanedIncident) []GeocodeRequest {
	out := make([]GeocodeRequest, len(records))
	for i, r := range records {
		out[i] = GeocodeRequest{
			ID:      strconv.Itoa(i),
			Address: r.Address,
			City:    r.City,
			State:   r.StateID,
			Zip:     r.Zip5,
		}
	}
	return out
}

// SortResults orders results by correlation id, numerically when both ids are integers.
func SortResults(results []GeocodeResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return LessID(results[i].ID, results[j].ID)
	})
}

// LessID compares two correlation ids.
func LessID(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

// CheckResults reports ErrIncompleteResults unless results carry exactly the ids of
// requests, each once.
func CheckResults(requests []GeocodeRequest, results []GeocodeResult) error {
	if len(results) != len(requests) {
		return fmt.Errorf("%w: %d results for %d requests", ErrIncompleteResults, len(results), len(requests))
	}
	pending := make(map[string]bool, len(requests))
	for _, req := range requests {
		pending[req.ID] = true
	}
	for _, res := range results {
		if !pending[res.ID] {
			return fmt.Errorf("%w: unexpected or repeated id %q", ErrIncompleteResults, res.ID)
		}
		delete(pending, res.ID)
	}
	return nil
}
