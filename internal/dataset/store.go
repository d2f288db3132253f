// Package dataset owns the interim NFIRS files: the yearly cleaned and geocoded datasets,
// the header-less batch input files and the typed CSV codecs that read and write them.
package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
)

var (
	cleanedName  = regexp.MustCompile(`^nfirs_cleaned_(\d{4})\.csv$`)
	geocodedName = regexp.MustCompile(`^nfirs_geocoded_addresses_(\d{4})\.csv$`)
)

// Store locates yearly datasets inside the interim directory.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// CleanedPath is the cleaned dataset for year.
func (s *Store) CleanedPath(year int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("nfirs_cleaned_%d.csv", year))
}

// GeocodedPath is the final geocoded dataset for year.
func (s *Store) GeocodedPath(year int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("nfirs_geocoded_addresses_%d.csv", year))
}

// WorkspaceDir is the per-year geocoding working directory.
func (s *Store) WorkspaceDir(year int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("temp_%d", year))
}

// CleanedYears lists the years that have a cleaned dataset, ascending.
func (s *Store) CleanedYears() ([]int, error) {
	return s.years(cleanedName)
}

// GeocodedYears lists the years that have a final geocoded dataset, ascending.
func (s *Store) GeocodedYears() ([]int, error) {
	return s.years(geocodedName)
}

// PendingYears are cleaned years without a geocoded dataset, ascending.
func (s *Store) PendingYears() ([]int, error) {
	cleaned, err := s.CleanedYears()
	if err != nil {
		return nil, err
	}
	geocoded, err := s.GeocodedYears()
	if err != nil {
		return nil, err
	}

	pending := make([]int, 0, len(cleaned))
	for _, y := range cleaned {
		if !slices.Contains(geocoded, y) {
			pending = append(pending, y)
		}
	}
	return pending, nil
}

func (s *Store) years(pattern *regexp.Regexp) ([]int, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("list interim dir: %w", err)
	}

	var years []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		y, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	slices.Sort(years)
	return years, nil
}

// Exists reports whether path is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteFileAtomic writes through a hidden temp file in the destination directory and
// renames it into place, so readers never observe a partial file.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	dir, name := filepath.Split(path)
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", name, err)
	}
	return nil
}
