// Package archive is the archival/transcription collaborator: it
// consumes finalized sessions from the bus, copies the recordings into
// permanent storage, produces the unified transcript and catalogs the
// session in the archive index.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/callscribe/callscribe/internal/bus"
	"github.com/callscribe/callscribe/internal/fsutil"
	xlog "github.com/callscribe/callscribe/internal/log"
	"github.com/callscribe/callscribe/internal/session"
	"github.com/callscribe/callscribe/internal/telemetry"
)

// manifest is the per-session descriptor written next to the archived
// recordings.
type manifest struct {
	Session    session.FinalizedSession `json:"session"`
	Archived   []string                 `json:"archived"`
	Transcript string                   `json:"transcript,omitempty"`
	ArchivedAt time.Time                `json:"archivedAt"`
}

// Archiver subscribes to the finalized-session feed and processes each
// descriptor once. Per-session failures are logged and skipped; they
// never stop the subscriber.
type Archiver struct {
	dir         string
	bus         bus.Bus
	transcriber Transcriber
	notifier    *Notifier
	index       *Index
	logger      zerolog.Logger
}

// New creates an Archiver writing into dir. transcriber, notifier and
// index may be nil; the corresponding step is skipped.
func New(dir string, b bus.Bus, transcriber Transcriber, notifier *Notifier, index *Index) *Archiver {
	return &Archiver{
		dir:         dir,
		bus:         b,
		transcriber: transcriber,
		notifier:    notifier,
		index:       index,
		logger:      xlog.WithComponent("archiver"),
	}
}

// Run consumes finalized sessions until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	sub := a.bus.Subscribe()
	defer func() {
		_ = sub.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fin, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := a.Process(ctx, fin); err != nil {
				a.logger.Error().Err(err).
					Str(xlog.FieldSessionKey, string(fin.Key)).
					Str(xlog.FieldCorrelationID, fin.CorrelationID).
					Msg("archiving failed")
			}
		}
	}
}

// Process archives one finalized session: copy, transcribe, merge,
// manifest, index, notify.
func (a *Archiver) Process(ctx context.Context, fin session.FinalizedSession) error {
	ctx, span := telemetry.Tracer("callscribe/archive").Start(ctx, "session.archive")
	defer span.End()
	span.SetAttributes(telemetry.SessionAttributes(
		string(fin.Key), string(session.StateClosed), fin.Complete, len(fin.Files))...)

	started := time.Now()
	archived, transcribed, err := a.archiveSession(ctx, fin)
	span.SetAttributes(telemetry.ArchiveAttributes(
		archived, transcribed, time.Since(started).Milliseconds())...)
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(err, "archive_failed")...)
	}
	return err
}

// archiveSession does the work; it reports how many recordings were
// copied and whether a transcript was produced.
func (a *Archiver) archiveSession(ctx context.Context, fin session.FinalizedSession) (int, bool, error) {
	destDir, err := fsutil.ConfineRelPath(a.dir, string(fin.Key))
	if err != nil {
		return 0, false, fmt.Errorf("confine archive dir: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return 0, false, fmt.Errorf("create archive dir: %w", err)
	}

	logger := a.logger.With().
		Str(xlog.FieldSessionKey, string(fin.Key)).
		Str(xlog.FieldCorrelationID, fin.CorrelationID).
		Logger()

	var archived []string
	segments := make(map[session.ChannelRole][]Segment)
	for _, f := range fin.Files {
		dest := filepath.Join(destDir, filepath.Base(f.Path))
		if err := copyFile(f.Path, dest); err != nil {
			return len(archived), false, fmt.Errorf("copy %s: %w", f.Path, err)
		}
		archived = append(archived, dest)

		if a.transcriber == nil {
			continue
		}
		segs, err := a.transcriber.Transcribe(ctx, dest)
		if err != nil {
			// A failed channel transcription degrades the transcript
			// but does not lose the recordings.
			logger.Warn().Err(err).
				Str(xlog.FieldPath, dest).
				Str(xlog.FieldRole, string(f.Role)).
				Msg("channel transcription failed")
			continue
		}
		segments[f.Role] = append(segments[f.Role], segs...)
	}

	transcriptPath := ""
	if len(segments) > 0 {
		transcriptPath = filepath.Join(destDir, "transcription.txt")
		if err := writeTranscriptFile(transcriptPath, Merge(segments)); err != nil {
			return len(archived), false, fmt.Errorf("write transcript: %w", err)
		}
	}

	m := manifest{
		Session:    fin,
		Archived:   archived,
		Transcript: transcriptPath,
		ArchivedAt: time.Now(),
	}
	if err := writeManifest(filepath.Join(destDir, "session.json"), m); err != nil {
		return len(archived), transcriptPath != "", fmt.Errorf("write manifest: %w", err)
	}

	if a.index != nil {
		rec := ArchivedSession{
			Key:            fin.Key,
			CorrelationID:  fin.CorrelationID,
			Complete:       fin.Complete,
			DurationMS:     fin.Duration.Milliseconds(),
			FileCount:      len(fin.Files),
			FinalizedAt:    fin.FinalizedAt,
			ArchivedAt:     m.ArchivedAt,
			TranscriptPath: transcriptPath,
		}
		if err := a.index.Insert(ctx, rec); err != nil {
			return len(archived), transcriptPath != "", err
		}
	}

	if a.notifier != nil && transcriptPath != "" {
		if err := a.notifier.Upload(ctx, transcriptPath); err != nil {
			// The transcript stays on disk; the operator can re-send.
			logger.Warn().Err(err).Msg("transcript notification failed")
		}
	}

	logger.Info().
		Int("files", len(archived)).
		Bool("transcribed", transcriptPath != "").
		Msg("session archived")
	return len(archived), transcriptPath != "", nil
}

// writeTranscriptFile writes the unified transcript atomically.
func writeTranscriptFile(path string, lines []Line) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	if err := WriteTranscript(pending, lines); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// writeManifest writes the session manifest atomically.
func writeManifest(path string, m manifest) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

func copyFile(src, dst string) error {
	if err := fsutil.IsRegularFile(src); err != nil {
		return err
	}
	in, err := os.Open(src) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
