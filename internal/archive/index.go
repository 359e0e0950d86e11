package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/callscribe/callscribe/internal/session"
)

const indexSchemaVersion = 1

// ArchivedSession is one row of the archive index.
type ArchivedSession struct {
	Key            session.Key `json:"key"`
	CorrelationID  string      `json:"correlationId"`
	Complete       bool        `json:"complete"`
	DurationMS     int64       `json:"durationMs"`
	FileCount      int         `json:"fileCount"`
	FinalizedAt    time.Time   `json:"finalizedAt"`
	ArchivedAt     time.Time   `json:"archivedAt"`
	TranscriptPath string      `json:"transcriptPath,omitempty"`
}

// Index is the sqlite-backed catalog of archived sessions, the query
// surface for the review tooling.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the archive index database. WAL mode and
// busy_timeout are applied through the DSN so they hold for every
// connection in the pool.
func OpenIndex(dbPath string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive index: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive index: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive index migration: %w", err)
	}
	return idx, nil
}

func (i *Index) Close() error { return i.db.Close() }

// Ping verifies the database is reachable, for readiness probes.
func (i *Index) Ping(ctx context.Context) error { return i.db.PingContext(ctx) }

func (i *Index) migrate() error {
	var current int
	if err := i.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= indexSchemaVersion {
		return nil
	}

	tx, err := i.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS archived_sessions (
		session_key TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		complete INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		file_count INTEGER NOT NULL,
		finalized_at_ms INTEGER NOT NULL,
		archived_at_ms INTEGER NOT NULL,
		transcript_path TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_archived_finalized ON archived_sessions(finalized_at_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", indexSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Insert records one archived session; re-archiving a key overwrites
// its row.
func (i *Index) Insert(ctx context.Context, rec ArchivedSession) error {
	complete := 0
	if rec.Complete {
		complete = 1
	}
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO archived_sessions
			(session_key, correlation_id, complete, duration_ms, file_count, finalized_at_ms, archived_at_ms, transcript_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			correlation_id = excluded.correlation_id,
			complete = excluded.complete,
			duration_ms = excluded.duration_ms,
			file_count = excluded.file_count,
			finalized_at_ms = excluded.finalized_at_ms,
			archived_at_ms = excluded.archived_at_ms,
			transcript_path = excluded.transcript_path`,
		string(rec.Key), rec.CorrelationID, complete, rec.DurationMS, rec.FileCount,
		rec.FinalizedAt.UnixMilli(), rec.ArchivedAt.UnixMilli(), rec.TranscriptPath)
	if err != nil {
		return fmt.Errorf("insert archived session %s: %w", rec.Key, err)
	}
	return nil
}

// List returns the most recently finalized sessions, newest first.
func (i *Index) List(ctx context.Context, limit int) ([]ArchivedSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := i.db.QueryContext(ctx, `
		SELECT session_key, correlation_id, complete, duration_ms, file_count, finalized_at_ms, archived_at_ms, COALESCE(transcript_path, '')
		FROM archived_sessions
		ORDER BY finalized_at_ms DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArchivedSession
	for rows.Next() {
		var rec ArchivedSession
		var key string
		var complete int
		var finalizedMS, archivedMS int64
		if err := rows.Scan(&key, &rec.CorrelationID, &complete, &rec.DurationMS, &rec.FileCount, &finalizedMS, &archivedMS, &rec.TranscriptPath); err != nil {
			return nil, err
		}
		rec.Key = session.Key(key)
		rec.Complete = complete != 0
		rec.FinalizedAt = time.UnixMilli(finalizedMS)
		rec.ArchivedAt = time.UnixMilli(archivedMS)
		out = append(out, rec)
	}
	return out, rows.Err()
}
