// Package journal persists finalize outcomes: one record per emitted
// session and a failure marker for every hand-off abandoned after retry
// exhaustion, kept for manual recovery.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/callscribe/callscribe/internal/session"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("journal: record not found")

// FailureMarker captures an abandoned hand-off for manual recovery.
type FailureMarker struct {
	Session  session.FinalizedSession `json:"session"`
	Error    string                   `json:"error"`
	Attempts int                      `json:"attempts"`
	MarkedAt time.Time                `json:"markedAt"`
}

// Store is the journal's persistence boundary.
type Store interface {
	PutFinalized(ctx context.Context, rec session.FinalizedSession) error
	GetFinalized(ctx context.Context, key session.Key) (session.FinalizedSession, error)
	PutFailure(ctx context.Context, marker FailureMarker) error
	Failures(ctx context.Context) ([]FailureMarker, error)
	Close() error
}
