package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/callscribe/callscribe/internal/log"
)

// UpsertOutcome describes what an Upsert call did.
type UpsertOutcome string

const (
	OutcomeCreated        UpsertOutcome = "created"
	OutcomeUpdated        UpsertOutcome = "updated"
	OutcomeRejectedClosed UpsertOutcome = "rejected_closed"
)

// entry is the registry's mutable per-session state. All fields are
// guarded by mu; the registry map itself is guarded by Registry.mu so
// operations on different keys never share a critical section.
type entry struct {
	mu           sync.Mutex
	key          Key
	state        State
	files        map[ChannelRole]*FileRecord
	createdAt    time.Time
	lastActivity time.Time
	anomalies    []string
}

// Registry is the in-memory mapping from session key to session state.
// It is constructed at service start and torn down at shutdown; nothing
// else owns session state.
type Registry struct {
	mu        sync.Mutex
	sessions  map[Key]*entry
	closed    map[Key]time.Time
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithClock overrides the registry's time source (tests).
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry. Closed keys are remembered for
// retention so stray late writes are rejected instead of resurrecting a
// finished conversation.
func NewRegistry(retention time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:  make(map[Key]*entry),
		closed:    make(map[Key]time.Time),
		retention: retention,
		now:       time.Now,
		logger:    xlog.WithComponent("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert applies one matched file event. It creates the session on the
// first file for an unseen key and updates the relevant FileRecord and
// last-activity timestamp otherwise. Events for keys in the closed
// retention window are rejected without mutating history.
func (r *Registry) Upsert(key Key, role ChannelRole, seq int, path string, at time.Time, size int64) UpsertOutcome {
	r.mu.Lock()
	r.sweepClosedLocked()
	if _, done := r.closed[key]; done {
		r.mu.Unlock()
		r.logger.Warn().
			Str(xlog.FieldSessionKey, string(key)).
			Str(xlog.FieldPath, path).
			Str(xlog.FieldReason, "closed_key").
			Msg("rejected event for closed session")
		return OutcomeRejectedClosed
	}
	e, exists := r.sessions[key]
	if !exists {
		e = &entry{
			key:          key,
			state:        StateOpen,
			files:        make(map[ChannelRole]*FileRecord),
			createdAt:    at,
			lastActivity: at,
		}
		r.sessions[key] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOpen {
		// Finalizer won the race; treat like a closed key.
		r.logger.Warn().
			Str(xlog.FieldSessionKey, string(key)).
			Str(xlog.FieldPath, path).
			Str(xlog.FieldOldState, string(e.state)).
			Msg("rejected event for finalizing session")
		return OutcomeRejectedClosed
	}

	if rec, ok := e.files[role]; ok {
		if rec.Path != path {
			note := fmt.Sprintf("duplicate %s file: %s", role, path)
			e.anomalies = append(e.anomalies, note)
			r.logger.Warn().
				Str(xlog.FieldSessionKey, string(key)).
				Str(xlog.FieldRole, string(role)).
				Str(xlog.FieldPath, path).
				Msg("duplicate channel role for session")
		} else {
			rec.LastWrite = at
			if size > rec.Size {
				rec.Size = size
			}
			rec.Sequence = seq
		}
	} else {
		e.files[role] = &FileRecord{
			Path:      path,
			Role:      role,
			Sequence:  seq,
			FirstSeen: at,
			LastWrite: at,
			Size:      size,
		}
	}

	// Last-activity is monotonically non-decreasing even if events
	// arrive with skewed timestamps.
	if at.After(e.lastActivity) {
		e.lastActivity = at
	}

	if !exists {
		return OutcomeCreated
	}
	return OutcomeUpdated
}

// Get returns a read-only snapshot of the session for diagnostics.
func (r *Registry) Get(key Key) (Snapshot, bool) {
	r.mu.Lock()
	e, ok := r.sessions[key]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), true
}

// Snapshots returns copies of all tracked sessions, ordered by key.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshotLocked())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len reports the number of tracked (not yet closed) sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// BeginFinalize atomically moves an OPEN session to FINALIZING and
// returns its snapshot. It reports false when the key is unknown or the
// session is already past OPEN, which absorbs racing duplicate timer
// fires.
func (r *Registry) BeginFinalize(key Key) (Snapshot, bool) {
	r.mu.Lock()
	e, ok := r.sessions[key]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateOpen {
		return Snapshot{}, false
	}
	e.state = StateFinalizing
	return e.snapshotLocked(), true
}

// Close marks a FINALIZING session CLOSED and removes it from the
// registry. The key stays in the closed set for the retention window.
func (r *Registry) Close(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[key]
	if !ok {
		return
	}
	e.mu.Lock()
	e.state = StateClosed
	e.mu.Unlock()
	delete(r.sessions, key)
	r.closed[key] = r.now()
}

// sweepClosedLocked drops closed-key markers older than the retention
// window. Caller holds r.mu.
func (r *Registry) sweepClosedLocked() {
	if len(r.closed) == 0 {
		return
	}
	cutoff := r.now().Add(-r.retention)
	for k, closedAt := range r.closed {
		if closedAt.Before(cutoff) {
			delete(r.closed, k)
		}
	}
}

func (e *entry) snapshotLocked() Snapshot {
	files := make([]FileRecord, 0, len(e.files))
	for _, rec := range e.files {
		files = append(files, *rec)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Role < files[j].Role })
	var anomalies []string
	if len(e.anomalies) > 0 {
		anomalies = append([]string(nil), e.anomalies...)
	}
	return Snapshot{
		Key:          e.key,
		State:        e.state,
		Files:        files,
		CreatedAt:    e.createdAt,
		LastActivity: e.lastActivity,
		Anomalies:    anomalies,
	}
}
