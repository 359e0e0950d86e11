// Package session holds the conversation session data model and the
// in-memory registry that tracks sessions from first observed file to
// finalization.
package session

import "time"

// Key identifies one logical conversation. It is derived from the
// recording filename (basename minus the channel suffix) and is stable
// for the conversation's lifetime.
type Key string

// ChannelRole labels which side of the conversation a recording captures.
type ChannelRole string

const (
	RoleInbound  ChannelRole = "INBOUND"
	RoleOutbound ChannelRole = "OUTBOUND"
	RoleUnknown  ChannelRole = "UNKNOWN"
)

// State is the session lifecycle. Keep these stable: metrics and the
// diagnostics API depend on them.
type State string

const (
	StateOpen       State = "OPEN"
	StateFinalizing State = "FINALIZING"
	StateClosed     State = "CLOSED"
)

// FileRecord tracks one observed recording file within a session.
type FileRecord struct {
	Path      string      `json:"path"`
	Role      ChannelRole `json:"role"`
	Sequence  int         `json:"sequence"`
	FirstSeen time.Time   `json:"firstSeen"`
	LastWrite time.Time   `json:"lastWrite"`
	Size      int64       `json:"size"`
}

// Snapshot is a read-only copy of a session's state, safe to hand out
// to diagnostics and the finalizer.
type Snapshot struct {
	Key          Key          `json:"key"`
	State        State        `json:"state"`
	Files        []FileRecord `json:"files"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
	Anomalies    []string     `json:"anomalies,omitempty"`
}

// HasRole reports whether the snapshot contains a file for the given role.
func (s Snapshot) HasRole(role ChannelRole) bool {
	for _, f := range s.Files {
		if f.Role == role {
			return true
		}
	}
	return false
}

// Complete reports whether both expected channel roles were observed.
func (s Snapshot) Complete() bool {
	return s.HasRole(RoleInbound) && s.HasRole(RoleOutbound)
}

// FinalizedFile is the per-file portion of the finalized descriptor.
type FinalizedFile struct {
	Path string      `json:"path"`
	Role ChannelRole `json:"role"`
	Size int64       `json:"size"`
}

// FinalizedSession is the descriptor handed to the archival collaborator
// exactly once per conversation.
type FinalizedSession struct {
	Key           Key             `json:"key"`
	CorrelationID string          `json:"correlationId"`
	Files         []FinalizedFile `json:"files"`
	Complete      bool            `json:"complete"`
	Duration      time.Duration   `json:"duration"`
	CreatedAt     time.Time       `json:"createdAt"`
	FinalizedAt   time.Time       `json:"finalizedAt"`
}
