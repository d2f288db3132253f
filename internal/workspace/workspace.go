// Package workspace manages the per-year geocoding working directory: the batch input
// files written by the partitioner, the output files written by the runner and the job
// ledger that records each file's outcome.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
)

// MaxBatchSize is the most addresses the Census batch geocoder takes per request.
const MaxBatchSize = 1000

const (
	inputDirName  = "input"
	outputDirName = "output"
	outputSuffix  = "_output.csv"
	csvExt        = ".csv"
)

var (
	// ErrWorkspaceExists means the year's working directory is already present.
	ErrWorkspaceExists = errors.New("workspace already exists")
	// ErrInvalidBatchSize means the batch size is outside 1..MaxBatchSize.
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

// Workspace is the temp_<year> directory of one geocoding run.
type Workspace struct {
	Year      int
	Dir       string
	InputDir  string
	OutputDir string

	logger *slog.Logger
}

// New describes the workspace at dir without touching disk.
func New(dir string, year int, logger *slog.Logger) *Workspace {
	return &Workspace{
		Year:      year,
		Dir:       dir,
		InputDir:  filepath.Join(dir, inputDirName),
		OutputDir: filepath.Join(dir, outputDirName),
		logger:    logger.With("year", year),
	}
}

// Exists reports whether the workspace directory is present.
func (w *Workspace) Exists() bool {
	return dataset.Exists(w.Dir)
}

// InputPath is the batch input file for a 1-based part number.
func (w *Workspace) InputPath(part int) string {
	return filepath.Join(w.InputDir, fmt.Sprintf("nfirs_%d_part_%04d.csv", w.Year, part))
}

// OutputPathFor maps an input file name to its output file path.
func (w *Workspace) OutputPathFor(inputName string) string {
	return filepath.Join(w.OutputDir, strings.TrimSuffix(inputName, csvExt)+outputSuffix)
}

// PartitionResult describes the batch files written by Partition.
type PartitionResult struct {
	Files []string
	Rows  int
}

// Partition splits the yearly cleaned records into contiguous batch input files of at most
// batchSize rows. Each row's id is its position in records. It fails without creating
// anything when the workspace already exists.
func (w *Workspace) Partition(records []domain.CleanedIncident, batchSize int) (PartitionResult, error) {
	if batchSize < 1 || batchSize > MaxBatchSize {
		return PartitionResult{}, fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidBatchSize, batchSize, MaxBatchSize)
	}
	if w.Exists() {
		return PartitionResult{}, fmt.Errorf("%w: %s", ErrWorkspaceExists, w.Dir)
	}
	for _, dir := range []string{w.InputDir, w.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return PartitionResult{}, fmt.Errorf("create workspace: %w", err)
		}
	}

	requests := domain.GeocodeRequests(records)
	res := PartitionResult{Rows: len(requests)}
	for part, start := 1, 0; start < len(requests); part, start = part+1, start+batchSize {
		chunk := requests[start:min(start+batchSize, len(requests))]
		path := w.InputPath(part)
		err := dataset.WriteFileAtomic(path, func(out io.Writer) error {
			return dataset.WriteBatchInput(out, chunk)
		})
		if err != nil {
			return res, fmt.Errorf("write batch file %d: %w", part, err)
		}
		res.Files = append(res.Files, filepath.Base(path))
	}

	w.logger.Info("batch files created", "files", len(res.Files), "rows", res.Rows, "batch_size", batchSize)
	return res, nil
}

// InputFiles lists batch input file names in filename order.
func (w *Workspace) InputFiles() ([]string, error) {
	return listCSV(w.InputDir, func(name string) bool { return !strings.HasSuffix(name, outputSuffix) })
}

// OutputFiles lists batch output file names in filename order.
func (w *Workspace) OutputFiles() ([]string, error) {
	return listCSV(w.OutputDir, func(name string) bool { return strings.HasSuffix(name, outputSuffix) })
}

// Pending lists input files whose output file does not exist yet. The directory listing
// is the only record of completion.
func (w *Workspace) Pending() ([]string, error) {
	inputs, err := w.InputFiles()
	if err != nil {
		return nil, err
	}
	outputs, err := w.OutputFiles()
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(inputs))
	for _, name := range inputs {
		if !slices.Contains(outputs, filepath.Base(w.OutputPathFor(name))) {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// Gaps lists input files with no output file. After a run these are the abandoned files.
func (w *Workspace) Gaps() ([]string, error) {
	return w.Pending()
}

func listCSV(dir string, keep func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", filepath.Base(dir), err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != csvExt || !keep(name) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
