package geocode

import "time"

// Status is where a batch file ended up after a run.
type Status string

const (
	// StatusPending means the run stopped before the file finished.
	StatusPending Status = "pending"
	// StatusSkipped means the output file already existed.
	StatusSkipped Status = "skipped"
	// StatusSucceeded means this run wrote the output file.
	StatusSucceeded Status = "succeeded"
	// StatusAbandoned means every attempt failed.
	StatusAbandoned Status = "abandoned"
)

// FileOutcome is the result of one batch file.
type FileOutcome struct {
	File     string
	Status   Status
	Attempts int
	Rows     int
	Elapsed  time.Duration
	Cause    error // every attempt error, set when abandoned
}

// Summary reports a run, one outcome per input file in filename order.
type Summary struct {
	Year    int
	Files   []FileOutcome
	Elapsed time.Duration
}

// Complete reports whether every input file now has an output file.
func (s Summary) Complete() bool {
	for _, f := range s.Files {
		if f.Status != StatusSucceeded && f.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// Abandoned returns the files whose retries were exhausted.
func (s Summary) Abandoned() []FileOutcome {
	var out []FileOutcome
	for _, f := range s.Files {
		if f.Status == StatusAbandoned {
			out = append(out, f)
		}
	}
	return out
}

// Count returns how many files ended in status.
func (s Summary) Count(status Status) int {
	n := 0
	for _, f := range s.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}
