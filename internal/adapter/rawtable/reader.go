// Package rawtable reads the raw NFIRS public release tables: '^'-delimited, ISO-8859-1
// encoded text files with a header row, one directory per year.
package rawtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
)

// Raw table file names inside a year directory.
const (
	BasicFile   = "basicincident.txt"
	AddressFile = "incidentaddress.txt"
	FireFile    = "fireincident.txt"
)

const (
	delimiter = '^'
	extension = ".txt"
)

var yearDirName = regexp.MustCompile(`^\d{4}$`)

var (
	// ErrNotExist means a raw table file is absent.
	ErrNotExist = errors.New("does not exist")
	// ErrBadExtension means a raw table path does not end in .txt.
	ErrBadExtension = errors.New("wrong extension")
	// ErrMissingColumn means a table lacks a column the consolidator needs.
	ErrMissingColumn = errors.New("missing column")
)

// PathError reports a raw table path that cannot be read.
type PathError struct {
	Path   string
	Reason error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("raw table %s: %v", e.Path, e.Reason)
}

func (e *PathError) Unwrap() error { return e.Reason }

// YearDirs lists the four-digit year directories under root, ascending.
func YearDirs(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list raw root: %w", err)
	}
	var years []int
	for _, e := range entries {
		if !e.IsDir() || !yearDirName.MatchString(e.Name()) {
			continue
		}
		y, _ := strconv.Atoi(e.Name())
		years = append(years, y)
	}
	slices.Sort(years)
	return years, nil
}

// ReadYear reads the three raw tables of one year directory.
func ReadYear(dir string) (domain.RawYear, error) {
	var raw domain.RawYear

	basic, err := readTable(filepath.Join(dir, BasicFile))
	if err != nil {
		return raw, err
	}
	if raw.Basic, err = mapRows(basic, basicColumns, toBasic); err != nil {
		return raw, fmt.Errorf("%s: %w", BasicFile, err)
	}

	address, err := readTable(filepath.Join(dir, AddressFile))
	if err != nil {
		return raw, err
	}
	if raw.Address, err = mapRows(address, addressColumns, toAddress); err != nil {
		return raw, fmt.Errorf("%s: %w", AddressFile, err)
	}

	fire, err := readTable(filepath.Join(dir, FireFile))
	if err != nil {
		return raw, err
	}
	if raw.Fire, err = mapRows(fire, fireColumns, toFire); err != nil {
		return raw, fmt.Errorf("%s: %w", FireFile, err)
	}

	return raw, nil
}

// table is a decoded raw file: lower-cased header and ragged data rows.
type table struct {
	header []string
	rows   [][]string
}

func readTable(path string) (*table, error) {
	if !strings.EqualFold(filepath.Ext(path), extension) {
		return nil, &PathError{Path: path, Reason: ErrBadExtension}
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &PathError{Path: path, Reason: ErrNotExist}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := decodeTable(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return t, nil
}

func decodeTable(r io.Reader) (*table, error) {
	cr := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(r))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty table")
	}
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	t := &table{header: header}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, err
		}
		t.rows = append(t.rows, row)
	}
}

// record gives name-based access to one ragged row. Short rows read as missing.
type record struct {
	index map[string]int
	row   []string
}

func (r record) get(col string) string {
	i := r.index[col]
	if i >= len(r.row) {
		return ""
	}
	return r.row[i]
}

func (r record) key() domain.IncidentKey {
	return domain.IncidentKey{
		State:   strings.TrimSpace(r.get("state")),
		FDID:    strings.TrimSpace(r.get("fdid")),
		IncDate: strings.TrimSpace(r.get("inc_date")),
		IncNo:   strings.TrimSpace(r.get("inc_no")),
		ExpNo:   strings.TrimSpace(r.get("exp_no")),
	}
}

func mapRows[T any](t *table, required []string, build func(record) T) ([]T, error) {
	index := make(map[string]int, len(t.header))
	for i, h := range t.header {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	out := make([]T, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, build(record{index: index, row: row}))
	}
	return out, nil
}
