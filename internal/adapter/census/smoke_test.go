//go:build census

package census

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/observability"
)

// These tests hit the real Census Geocoder.
// Run with: go test -tags=census ./internal/adapter/census/ -v -count=1

func smokeClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    "https://geocoding.geo.census.gov",
		benchmark:  "Public_AR_Current",
		vintage:    "Current_Current",
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSmoke_GeocodeBatch(t *testing.T) {
	results, err := smokeClient().GeocodeBatch(context.Background(), []domain.GeocodeRequest{
		{ID: "0", Address: "1600 PENNSYLVANIA AVE NW", City: "WASHINGTON", State: "DC", Zip: "20500"},
		{ID: "1", Address: "XYZNONEXISTENT 99", City: "NOWHERE", State: "ZZ"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	domain.SortResults(results)
	require.True(t, results[0].Match)
	assert.InDelta(t, 38.9, *results[0].Lat, 0.1)
	assert.InDelta(t, -77.0, *results[0].Lon, 0.1)
	assert.Equal(t, "11", results[0].StateFP)
	assert.False(t, results[1].Match)
}
