package domain

import "time"

// Year outcomes of a geocoding pass.
const (
	YearComplete   = "complete"   // every batch file geocoded, dataset persisted
	YearPartial    = "partial"    // files abandoned, dataset persisted anyway
	YearIncomplete = "incomplete" // files abandoned or rows lost, dataset withheld; the year stays pending
)

// YearReport summarizes one year's geocoding pass. It is also the payload announced to
// downstream consumers once a year finishes.
type YearReport struct {
	RunID      string    `json:"run_id"`
	Year       int       `json:"year"`
	Outcome    string    `json:"outcome"`
	Records    int       `json:"records"`
	Geocoded   int       `json:"geocoded"`
	Matched    int       `json:"matched"`
	Files      int       `json:"files"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Abandoned  int       `json:"abandoned"`
	Gaps       []string  `json:"gaps,omitempty"`
	Missing    int       `json:"missing,omitempty"` // cleaned rows covered by no batch file
	Persisted  bool      `json:"persisted"`
	OutputPath string    `json:"output_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	SinkErrors []string  `json:"sink_errors,omitempty"`
}
