package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
)

// ErrHeaderMismatch is returned when a headered dataset does not carry the expected columns.
var ErrHeaderMismatch = errors.New("unexpected header")

// CleanedHeader is the column order of nfirs_cleaned_<year>.csv.
var CleanedHeader = []string{
	"state", "fdid", "st_fdid", "dept_sta", "inc_date", "inc_no", "exp_no", "inc_type", "prop_use",
	"aid", "address", "apt_no", "x_street", "city", "state_id", "zip5", "oth_inj", "oth_death",
	"prop_loss", "cont_loss", "tot_loss", "detector", "det_type", "det_power", "det_operat",
	"det_effect", "det_fail", "aes_pres", "aes_type", "aes_oper", "no_spr_op", "aes_fail",
	"unique_id", "num_records", "apt_no_nunique", "st_fdid_nunique", "exp_no_nunique",
}

// GeocodedHeader is the column order of batch output files and the final geocoded dataset.
var GeocodedHeader = []string{
	"id", "address", "match", "matchtype", "parsed", "tigerlineid", "side",
	"statefp", "countyfp", "tract", "block", "lat", "lon",
}

// batchInputFields is the width of a header-less batch input row: id,address,city,state,zip.
const batchInputFields = 5

// WriteCleaned writes the cleaned dataset with its header.
func WriteCleaned(w io.Writer, records []domain.CleanedIncident) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CleanedHeader); err != nil {
		return fmt.Errorf("write cleaned header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(cleanedRow(r)); err != nil {
			return fmt.Errorf("write cleaned row %s: %w", r.UniqueID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCleaned reads a cleaned dataset, validating the header.
func ReadCleaned(r io.Reader) ([]domain.CleanedIncident, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CleanedHeader)

	if err := readHeader(cr, CleanedHeader); err != nil {
		return nil, err
	}

	var out []domain.CleanedIncident
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read cleaned row: %w", err)
		}
		rec, err := parseCleaned(row)
		if err != nil {
			return nil, fmt.Errorf("cleaned line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

// ReadCleanedFile opens and reads a cleaned dataset from disk.
func ReadCleanedFile(path string) ([]domain.CleanedIncident, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cleaned dataset: %w", err)
	}
	defer f.Close()
	return ReadCleaned(f)
}

func cleanedRow(r domain.CleanedIncident) []string {
	date := ""
	if !r.IncDate.IsZero() {
		date = r.IncDate.Format(domain.DateLayout)
	}
	return []string{
		r.State, r.FDID, r.StFDID, r.DeptSta, date, r.IncNo, r.ExpNo, r.IncType, r.PropUse,
		r.Aid, r.Address, r.AptNo, r.XStreet, r.City, r.StateID, r.Zip5,
		formatFloat(r.OthInj), formatFloat(r.OthDeath), formatFloat(r.PropLoss),
		formatFloat(r.ContLoss), formatFloat(r.TotLoss),
		r.Detector, r.DetType, r.DetPower, r.DetOperat, r.DetEffect, r.DetFail,
		r.AesPres, r.AesType, r.AesOper, r.NoSprOp, r.AesFail,
		r.UniqueID,
		strconv.Itoa(r.NumRecords), strconv.Itoa(r.AptCount),
		strconv.Itoa(r.DeptCount), strconv.Itoa(r.ExposureCount),
	}
}

func parseCleaned(row []string) (domain.CleanedIncident, error) {
	var rec domain.CleanedIncident
	inc := &rec.Incident

	inc.State, inc.FDID, inc.StFDID, inc.DeptSta = row[0], row[1], row[2], row[3]
	if row[4] != "" {
		d, err := time.Parse(domain.DateLayout, row[4])
		if err != nil {
			return rec, fmt.Errorf("inc_date %q: %w", row[4], err)
		}
		inc.IncDate = d
	}
	inc.IncNo, inc.ExpNo, inc.IncType, inc.PropUse = row[5], row[6], row[7], row[8]
	inc.Aid, inc.Address, inc.AptNo, inc.XStreet = row[9], row[10], row[11], row[12]
	inc.City, inc.StateID, inc.Zip5 = row[13], row[14], row[15]

	floats := []*float64{&inc.OthInj, &inc.OthDeath, &inc.PropLoss, &inc.ContLoss, &inc.TotLoss}
	for i, dst := range floats {
		col := 16 + i
		v, err := parseFloat(row[col])
		if err != nil {
			return rec, fmt.Errorf("%s %q: %w", CleanedHeader[col], row[col], err)
		}
		*dst = v
	}

	inc.Detector, inc.DetType, inc.DetPower = row[21], row[22], row[23]
	inc.DetOperat, inc.DetEffect, inc.DetFail = row[24], row[25], row[26]
	inc.AesPres, inc.AesType, inc.AesOper = row[27], row[28], row[29]
	inc.NoSprOp, inc.AesFail = row[30], row[31]
	inc.UniqueID = row[32]

	counts := []*int{&rec.NumRecords, &rec.AptCount, &rec.DeptCount, &rec.ExposureCount}
	for i, dst := range counts {
		col := 33 + i
		n, err := strconv.Atoi(row[col])
		if err != nil {
			return rec, fmt.Errorf("%s %q: %w", CleanedHeader[col], row[col], err)
		}
		*dst = n
	}
	return rec, nil
}

// WriteBatchInput writes a header-less batch input file in the order the Census batch
// geocoder expects: id, street, city, state, zip.
func WriteBatchInput(w io.Writer, requests []domain.GeocodeRequest) error {
	cw := csv.NewWriter(w)
	for _, r := range requests {
		if err := cw.Write([]string{r.ID, r.Address, r.City, r.State, r.Zip}); err != nil {
			return fmt.Errorf("write batch row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadBatchInput reads a header-less batch input file.
func ReadBatchInput(r io.Reader) ([]domain.GeocodeRequest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = batchInputFields

	var out []domain.GeocodeRequest
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read batch row: %w", err)
		}
		out = append(out, domain.GeocodeRequest{
			ID: row[0], Address: row[1], City: row[2], State: row[3], Zip: row[4],
		})
	}
}

// WriteGeocoded writes geocoded results with their header.
func WriteGeocoded(w io.Writer, results []domain.GeocodeResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(GeocodedHeader); err != nil {
		return fmt.Errorf("write geocoded header: %w", err)
	}
	for _, r := range results {
		row := []string{
			r.ID, r.Address, strconv.FormatBool(r.Match), r.MatchType, r.Parsed, r.TigerLineID,
			r.Side, r.StateFP, r.CountyFP, r.Tract, r.Block, formatOptional(r.Lat), formatOptional(r.Lon),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write geocoded row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadGeocoded reads geocoded results, validating the header.
func ReadGeocoded(r io.Reader) ([]domain.GeocodeResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(GeocodedHeader)

	if err := readHeader(cr, GeocodedHeader); err != nil {
		return nil, err
	}

	var out []domain.GeocodeResult
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read geocoded row: %w", err)
		}

		res := domain.GeocodeResult{
			ID: row[0], Address: row[1], MatchType: row[3], Parsed: row[4], TigerLineID: row[5],
			Side: row[6], StateFP: row[7], CountyFP: row[8], Tract: row[9], Block: row[10],
		}
		if row[2] != "" {
			m, err := strconv.ParseBool(row[2])
			if err != nil {
				return nil, fmt.Errorf("geocoded line %d: match %q: %w", line, row[2], err)
			}
			res.Match = m
		}
		if res.Lat, err = parseOptional(row[11]); err != nil {
			return nil, fmt.Errorf("geocoded line %d: lat %q: %w", line, row[11], err)
		}
		if res.Lon, err = parseOptional(row[12]); err != nil {
			return nil, fmt.Errorf("geocoded line %d: lon %q: %w", line, row[12], err)
		}
		out = append(out, res)
	}
}

// ReadGeocodedFile opens and reads a geocoded file from disk.
func ReadGeocodedFile(path string) ([]domain.GeocodeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geocoded file: %w", err)
	}
	defer f.Close()
	return ReadGeocoded(f)
}

func readHeader(cr *csv.Reader, want []string) error {
	got, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: empty file", ErrHeaderMismatch)
	}
	if errors.Is(err, csv.ErrFieldCount) {
		return fmt.Errorf("%w: %d columns, want %d", ErrHeaderMismatch, len(got), len(want))
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrHeaderMismatch, i+1, got[i], want[i])
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func parseOptional(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
