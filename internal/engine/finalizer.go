package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/callscribe/callscribe/internal/bus"
	"github.com/callscribe/callscribe/internal/journal"
	xlog "github.com/callscribe/callscribe/internal/log"
	"github.com/callscribe/callscribe/internal/match"
	"github.com/callscribe/callscribe/internal/metrics"
	"github.com/callscribe/callscribe/internal/session"
	"github.com/callscribe/callscribe/internal/telemetry"
)

// FinalizerConfig tunes the hand-off retry policy.
type FinalizerConfig struct {
	Retries        int
	BackoffBase    time.Duration
	PublishTimeout time.Duration
}

// Finalizer freezes an idle session's file set and emits the finalized
// descriptor downstream exactly once. Hand-off failures are retried
// with quadratic backoff; exhaustion persists a failure marker and the
// session still closes, so no session stays OPEN because a collaborator
// is down.
type Finalizer struct {
	matcher  *match.Matcher
	registry *session.Registry
	bus      bus.Bus
	store    journal.Store
	cfg      FinalizerConfig
	logger   zerolog.Logger
}

func NewFinalizer(matcher *match.Matcher, registry *session.Registry, b bus.Bus, store journal.Store, cfg FinalizerConfig) *Finalizer {
	return &Finalizer{
		matcher:  matcher,
		registry: registry,
		bus:      b,
		store:    store,
		cfg:      cfg,
		logger:   xlog.WithComponent("finalizer"),
	}
}

// Finalize handles one expired idle timer. Unknown keys and sessions
// already past OPEN are ignored, which makes racing duplicate fires
// harmless.
func (f *Finalizer) Finalize(ctx context.Context, key session.Key) {
	snap, ok := f.registry.BeginFinalize(key)
	if !ok {
		f.logger.Debug().
			Str(xlog.FieldSessionKey, string(key)).
			Msg("stale finalize trigger ignored")
		return
	}

	if len(snap.Files) == 0 {
		// Cannot happen through the upsert path; close defensively
		// without emitting.
		metrics.IncAnomaly("empty_session")
		f.registry.Close(key)
		f.logger.Warn().
			Str(xlog.FieldSessionKey, string(key)).
			Msg("finalized session had no files, dropped")
		return
	}

	fin := buildDescriptor(snap)
	ctx = xlog.ContextWithCorrelationID(ctx, fin.CorrelationID)
	logger := f.logger.With().
		Str(xlog.FieldSessionKey, string(key)).
		Str(xlog.FieldCorrelationID, fin.CorrelationID).
		Logger()

	ctx, span := telemetry.Tracer("callscribe/engine").Start(ctx, "session.finalize")
	defer span.End()
	span.SetAttributes(telemetry.SessionAttributes(
		string(fin.Key), string(session.StateFinalizing), fin.Complete, len(fin.Files))...)

	if !fin.Complete {
		metrics.IncAnomaly("incomplete_session")
		ev := logger.Warn().Int("files", len(fin.Files))
		if want := f.matcher.PairPath(fin.Files[0].Path); want != "" {
			ev = ev.Str("missing_counterpart", want)
		}
		ev.Msg("finalizing one-sided session as incomplete")
	}

	started := time.Now()
	attempts, err := f.handoff(ctx, fin)
	if err != nil {
		metrics.HandoffFailuresTotal.Inc()
		span.SetAttributes(telemetry.HandoffAttributes(
			attempts, "abandoned", time.Since(started).Milliseconds())...)
		span.SetAttributes(telemetry.ErrorAttributes(err, "handoff_exhausted")...)
		marker := journal.FailureMarker{
			Session:  fin,
			Error:    err.Error(),
			Attempts: attempts,
			MarkedAt: time.Now(),
		}
		if jerr := f.store.PutFailure(ctx, marker); jerr != nil {
			logger.Error().Err(jerr).Msg("failed to persist failure marker")
		}
		logger.Error().Err(err).
			Int(xlog.FieldAttempt, marker.Attempts).
			Msg("hand-off abandoned, failure marker persisted")
	} else {
		span.SetAttributes(telemetry.HandoffAttributes(
			attempts, "delivered", time.Since(started).Milliseconds())...)
		if jerr := f.store.PutFinalized(ctx, fin); jerr != nil {
			logger.Error().Err(jerr).Msg("failed to journal finalized session")
		}
		metrics.RecordFinalized(fin.Complete)
		logger.Info().
			Bool("complete", fin.Complete).
			Dur("duration", fin.Duration).
			Int("files", len(fin.Files)).
			Msg("session finalized")
	}

	// Close regardless of hand-off outcome: a session must never remain
	// OPEN indefinitely due to downstream failure.
	f.registry.Close(key)
}

// handoff publishes the descriptor with bounded quadratic backoff. It
// reports the number of attempts made alongside the final error.
func (f *Finalizer) handoff(ctx context.Context, fin session.FinalizedSession) (int, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if attempt > 0 {
			metrics.HandoffRetriesTotal.Inc()
			backoff := time.Duration(attempt*attempt) * f.cfg.BackoffBase
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return attempts, ctx.Err()
			}
		}

		attempts++
		pubCtx, cancel := context.WithTimeout(ctx, f.cfg.PublishTimeout)
		err := f.bus.Publish(pubCtx, fin)
		cancel()
		if err == nil {
			return attempts, nil
		}
		lastErr = err
		f.logger.Warn().Err(err).
			Str(xlog.FieldSessionKey, string(fin.Key)).
			Int(xlog.FieldAttempt, attempts).
			Msg("finalized session hand-off failed")
		if ctx.Err() != nil {
			return attempts, lastErr
		}
	}
	return attempts, lastErr
}

func buildDescriptor(snap session.Snapshot) session.FinalizedSession {
	files := make([]session.FinalizedFile, 0, len(snap.Files))
	for _, f := range snap.Files {
		files = append(files, session.FinalizedFile{
			Path: f.Path,
			Role: f.Role,
			Size: f.Size,
		})
	}
	return session.FinalizedSession{
		Key:           snap.Key,
		CorrelationID: uuid.NewString(),
		Files:         files,
		Complete:      snap.Complete(),
		Duration:      snap.LastActivity.Sub(snap.CreatedAt),
		CreatedAt:     snap.CreatedAt,
		FinalizedAt:   time.Now(),
	}
}
