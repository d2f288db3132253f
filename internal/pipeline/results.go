package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/dataset"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/domain"
	"github.com/couchcryptid/nfirs-geocode-etl/internal/workspace"
)

// ConsolidatedResults is the concatenation of a workspace's batch output files.
type ConsolidatedResults struct {
	Results []domain.GeocodeResult
	Files   int
	Gaps    []string // input files with no output file

	gapIDs []string // correlation ids still waiting in gap files
}

// Consolidate reads every output file of the workspace in filename order. Missing outputs
// are reported as gaps, never as an error.
func Consolidate(ws *workspace.Workspace) (ConsolidatedResults, error) {
	outputs, err := ws.OutputFiles()
	if err != nil {
		return ConsolidatedResults{}, err
	}

	var res ConsolidatedResults
	for _, name := range outputs {
		results, err := dataset.ReadGeocodedFile(filepath.Join(ws.OutputDir, name))
		if err != nil {
			return ConsolidatedResults{}, fmt.Errorf("%s: %w", name, err)
		}
		res.Results = append(res.Results, results...)
		res.Files++
	}

	if res.Gaps, err = ws.Gaps(); err != nil {
		return ConsolidatedResults{}, err
	}
	for _, name := range res.Gaps {
		ids, err := batchIDs(filepath.Join(ws.InputDir, name))
		if err != nil {
			return ConsolidatedResults{}, fmt.Errorf("%s: %w", name, err)
		}
		res.gapIDs = append(res.gapIDs, ids...)
	}
	return res, nil
}

// MissingRecords counts the row indexes in [0, records) carried by neither a result nor
// a gap file. Rows whose batch file vanished from a resumed workspace end up here.
func (c ConsolidatedResults) MissingRecords(records int) int {
	seen := make([]bool, records)
	covered := 0
	mark := func(id string) {
		i, err := strconv.Atoi(id)
		if err != nil || i < 0 || i >= records || seen[i] {
			return
		}
		seen[i] = true
		covered++
	}
	for _, r := range c.Results {
		mark(r.ID)
	}
	for _, id := range c.gapIDs {
		mark(id)
	}
	return records - covered
}

func batchIDs(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	requests, err := dataset.ReadBatchInput(file)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
	}
	return ids, nil
}
