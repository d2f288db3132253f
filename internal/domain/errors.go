package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIncidentDate signals an inc_date that is not a valid MMDDYYYY date.
	// It points at a bad upstream extract and is never recovered.
	ErrInvalidIncidentDate = errors.New("invalid incident date")

	// ErrInvalidNumber signals a casualty or loss field that is present but not numeric.
	ErrInvalidNumber = errors.New("invalid numeric field")

	// ErrIncompleteResults signals a geocoder response whose ids differ from the batch
	// submitted. The batch is retried rather than written.
	ErrIncompleteResults = errors.New("geocoder results do not match the submitted batch")
)

// InvalidDateError carries the offending record key and raw value.
type InvalidDateError struct {
	Key   IncidentKey
	Value string
	Err   error
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("%s %q for %s_%s_%s_%s: %v",
		ErrInvalidIncidentDate, e.Value, e.Key.State, e.Key.FDID, e.Key.IncNo, e.Key.ExpNo, e.Err)
}

func (e *InvalidDateError) Unwrap() error { return ErrInvalidIncidentDate }

// InvalidFieldError reports a non-numeric value in a numeric column.
type InvalidFieldError struct {
	Key   IncidentKey
	Field string
	Value string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("%s %s=%q for %s_%s_%s_%s",
		ErrInvalidNumber, e.Field, e.Value, e.Key.State, e.Key.FDID, e.Key.IncNo, e.Key.ExpNo)
}

func (e *InvalidFieldError) Unwrap() error { return ErrInvalidNumber }
