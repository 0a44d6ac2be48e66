package sync

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/api/audiobookshelf"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/linker"
)

// RecordState is the lifecycle state of one record within a sync run
type RecordState string

const (
	StatePending  RecordState = "pending"
	StateFetching RecordState = "fetching"
	StateMapping  RecordState = "mapping"
	StateWriting  RecordState = "writing"
	StateDone     RecordState = "done"
	StateSkipped  RecordState = "skipped"
	StateFailed   RecordState = "failed"
)

// FailureKind classifies a record failure for the report
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureNetwork    FailureKind = "network"
	FailureNotFound   FailureKind = "not_found"
	FailurePermission FailureKind = "permission"
	FailureConflict   FailureKind = "conflict"
	FailureAmbiguous  FailureKind = "ambiguous"
	FailureCanceled   FailureKind = "canceled"
	FailureOther      FailureKind = "other"
)

// RecordResult is the outcome for a single record. Exactly one of Done,
// Skipped or Failed ends a record; every processed record appears in the
// report regardless of outcome.
type RecordResult struct {
	RecordID      uint        `json:"record_id"`
	Title         string      `json:"title"`
	RemoteID      string      `json:"remote_id,omitempty"`
	State         RecordState `json:"state"`
	FieldsWritten int         `json:"fields_written"`
	Failure       FailureKind `json:"failure,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Warnings      []string    `json:"warnings,omitempty"`
}

// Report summarizes one sync run. Results keep the order the records were
// requested in, independent of worker scheduling.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []RecordResult `json:"results"`
}

// Counts tallies results by terminal state
func (r *Report) Counts() (done, skipped, failed int) {
	for _, res := range r.Results {
		switch res.State {
		case StateDone:
			done++
		case StateSkipped:
			skipped++
		case StateFailed:
			failed++
		}
	}
	return done, skipped, failed
}

// classifyFailure maps an error onto its report category
func classifyFailure(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return FailureCanceled
	case errors.Is(err, audiobookshelf.ErrNotFound):
		return FailureNotFound
	case errors.Is(err, audiobookshelf.ErrPermission):
		return FailurePermission
	case errors.Is(err, audiobookshelf.ErrConflict):
		return FailureConflict
	case linker.IsAmbiguous(err):
		return FailureAmbiguous
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return FailureNetwork
	}
	return FailureOther
}
