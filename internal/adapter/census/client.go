package census

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/observability"
)

const (
	batchPath       = "/geocoder/geographies/addressbatch"
	minResultFields = 3
	matchStatus     = "Match"
)

// ErrMalformedResponse means the geocoder answered 200 with rows that cannot be read.
var ErrMalformedResponse = errors.New("malformed census response")

// Client implements domain.BatchGeocoder using the Census Geocoder batch API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	benchmark  string
	vintage    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Census batch geocoding client.
func NewClient(baseURL, benchmark, vintage string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		benchmark: benchmark,
		vintage:   vintage,
		metrics:   metrics,
		logger:    logger,
	}
}

// GeocodeBatch uploads the requests as one address file and parses the geographies response.
func (c *Client) GeocodeBatch(ctx context.Context, requests []domain.GeocodeRequest) ([]domain.GeocodeResult, error) {
	body, contentType, err := c.encodeForm(requests)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+batchPath, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	results, err := c.do(req)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.metrics.CensusDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	c.logger.Debug("census batch geocoded", "addresses", len(requests), "results", len(results),
		"elapsed", time.Since(start))
	return results, nil
}

func (c *Client) encodeForm(requests []domain.GeocodeRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("addressFile", "addresses.csv")
	if err != nil {
		return nil, "", fmt.Errorf("create address file part: %w", err)
	}
	if err := dataset.WriteBatchInput(part, requests); err != nil {
		return nil, "", fmt.Errorf("encode address file: %w", err)
	}
	for field, value := range map[string]string{"benchmark": c.benchmark, "vintage": c.vintage} {
		if err := mw.WriteField(field, value); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) do(req *http.Request) ([]domain.GeocodeResult, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("census batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("census API error: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return parseResponse(resp.Body)
}

// parseResponse reads the header-less batch response:
// id, input address, Match|No_Match|Tie, match type, parsed address, "lon,lat",
// tiger line id, side, state fips, county fips, tract, block.
func parseResponse(r io.Reader) ([]domain.GeocodeResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var results []domain.GeocodeResult
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedResponse, line, err)
		}
		if len(row) < minResultFields {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrMalformedResponse, line, len(row))
		}

		res := domain.GeocodeResult{
			ID:      strings.TrimSpace(row[0]),
			Address: row[1],
			Match:   row[2] == matchStatus,
		}
		if res.Match {
			field := func(i int) string {
				if i < len(row) {
					return row[i]
				}
				return ""
			}
			res.MatchType = field(3)
			res.Parsed = field(4)
			res.TigerLineID = field(6)
			res.Side = field(7)
			res.StateFP = field(8)
			res.CountyFP = field(9)
			res.Tract = field(10)
			res.Block = field(11)

			lat, lon, err := parseCoordinates(field(5))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedResponse, line, err)
			}
			res.Lat, res.Lon = lat, lon
		}
		results = append(results, res)
	}
}

// parseCoordinates splits the "lon,lat" pair. An empty pair yields nil coordinates.
func parseCoordinates(s string) (*float64, *float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil, nil
	}
	lonStr, latStr, ok := strings.Cut(s, ",")
	if !ok {
		return nil, nil, fmt.Errorf("coordinates %q", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return nil, nil, fmt.Errorf("longitude %q: %w", lonStr, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return nil, nil, fmt.Errorf("latitude %q: %w", latStr, err)
	}
	return &lat, &lon, nil
}
