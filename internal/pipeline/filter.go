package pipeline

import (
	"errors"
	"fmt"
	"slices"
)

// ErrConflictingFilters means both an explicit year list and a year range were given.
var ErrConflictingFilters = errors.New("only one of years or a year range may be selected")

// YearFilter narrows the pending years. The zero value selects everything.
type YearFilter struct {
	Years []int
	From  int // inclusive, 0 means unbounded
	To    int // inclusive, 0 means unbounded
}

// Validate rejects filters that mix a year list with a range.
func (f YearFilter) Validate() error {
	if len(f.Years) > 0 && (f.From != 0 || f.To != 0) {
		return ErrConflictingFilters
	}
	if f.From != 0 && f.To != 0 && f.From > f.To {
		return fmt.Errorf("year range %d-%d is empty", f.From, f.To)
	}
	return nil
}

// Match reports whether year passes the filter.
func (f YearFilter) Match(year int) bool {
	if len(f.Years) > 0 {
		return slices.Contains(f.Years, year)
	}
	if f.From != 0 && year < f.From {
		return false
	}
	if f.To != 0 && year > f.To {
		return false
	}
	return true
}

// Apply keeps the years that match, preserving order.
func (f YearFilter) Apply(years []int) []int {
	out := make([]int, 0, len(years))
	for _, y := range years {
		if f.Match(y) {
			out = append(out, y)
		}
	}
	return out
}
