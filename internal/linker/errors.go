package linker

import (
	"errors"
	"fmt"
)

// ErrNoMatch is returned when resolution finds no acceptable candidate
var ErrNoMatch = errors.New("no match found")

// AmbiguousMatchError is returned when resolution cannot pick a single winner.
// Candidates carries the tied or conflicting options for manual review.
type AmbiguousMatchError struct {
	RecordID   uint
	Candidates []Candidate
}

// Error implements the error interface
func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for record %d: %d candidates", e.RecordID, len(e.Candidates))
}

// IsAmbiguous reports whether err is an AmbiguousMatchError
func IsAmbiguous(err error) bool {
	var ambiguous *AmbiguousMatchError
	return errors.As(err, &ambiguous)
}
