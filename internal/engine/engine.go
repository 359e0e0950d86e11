// Package engine is the session assembly core: it consumes normalized
// filesystem events, correlates recordings into sessions, applies the
// idle-timeout policy and emits each finished session exactly once.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/callscribe/callscribe/internal/bus"
	"github.com/callscribe/callscribe/internal/journal"
	xlog "github.com/callscribe/callscribe/internal/log"
	"github.com/callscribe/callscribe/internal/match"
	"github.com/callscribe/callscribe/internal/metrics"
	"github.com/callscribe/callscribe/internal/session"
	"github.com/callscribe/callscribe/internal/timer"
)

// Op is a normalized filesystem event type.
type Op string

const (
	OpCreate Op = "create"
	OpWrite  Op = "write"
)

// Event is the engine's internal event type; the watch adapter
// normalizes raw fsnotify events into it.
type Event struct {
	Path string
	Op   Op
	At   time.Time
	Size int64
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// QuietPeriod is the write-inactivity duration after which a
	// session is considered complete.
	QuietPeriod time.Duration
	// EventBuffer sizes the internal event channel between the watcher
	// callback side and the dispatch loop.
	EventBuffer int
	// HandoffWorkers bounds concurrent finalize hand-offs.
	HandoffWorkers int
	// HandoffRetries bounds hand-off retry attempts after the first.
	HandoffRetries int
	// HandoffBackoffBase scales the quadratic retry backoff.
	HandoffBackoffBase time.Duration
	// HandoffTimeout bounds a single publish attempt.
	HandoffTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = 60 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.HandoffWorkers <= 0 {
		c.HandoffWorkers = 2
	}
	if c.HandoffRetries <= 0 {
		c.HandoffRetries = 5
	}
	if c.HandoffBackoffBase <= 0 {
		c.HandoffBackoffBase = 500 * time.Millisecond
	}
	if c.HandoffTimeout <= 0 {
		c.HandoffTimeout = 5 * time.Second
	}
	return c
}

// Engine wires matcher, registry, timers and finalizer behind one
// dispatch loop. A single goroutine consumes events; per-session timers
// and hand-off workers run concurrently with it.
type Engine struct {
	cfg       Config
	matcher   *match.Matcher
	registry  *session.Registry
	timers    *timer.Manager
	finalizer *Finalizer
	events    chan Event
	expired   chan session.Key
	skipLog   *rate.Limiter
	logger    zerolog.Logger
}

// New assembles an engine from its collaborators. The bus receives one
// FinalizedSession per conversation; the journal records emissions and
// failure markers.
func New(cfg Config, matcher *match.Matcher, registry *session.Registry, b bus.Bus, store journal.Store) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:      cfg,
		matcher:  matcher,
		registry: registry,
		events:   make(chan Event, cfg.EventBuffer),
		expired:  make(chan session.Key, cfg.EventBuffer),
		skipLog:  rate.NewLimiter(rate.Every(time.Second), 10),
		logger:   xlog.WithComponent("engine"),
	}
	e.timers = timer.NewManager(cfg.QuietPeriod, e.onExpire)
	e.finalizer = NewFinalizer(matcher, registry, b, store, FinalizerConfig{
		Retries:        cfg.HandoffRetries,
		BackoffBase:    cfg.HandoffBackoffBase,
		PublishTimeout: cfg.HandoffTimeout,
	})
	return e
}

// Events returns the channel the event source adapter feeds.
func (e *Engine) Events() chan<- Event {
	return e.events
}

// Registry exposes the registry for diagnostics handlers.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// Run consumes events until ctx is cancelled. The dispatch loop and the
// finalize workers share the error group; an engine error is fatal for
// the process.
func (e *Engine) Run(ctx context.Context) error {
	defer e.timers.Stop()

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < e.cfg.HandoffWorkers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case key := <-e.expired:
					e.finalizer.Finalize(ctx, key)
					metrics.SessionsOpen.Set(float64(e.registry.Len()))
				}
			}
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-e.events:
				if err := e.handleEvent(ev); err != nil {
					return err
				}
			}
		}
	})

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine: %w", err)
	}
	return err
}

// handleEvent applies one filesystem event: classify, upsert, reset the
// idle countdown. Unmatched paths are skipped silently; rejected
// updates never touch the timer.
func (e *Engine) handleEvent(ev Event) error {
	res, ok := e.matcher.Match(ev.Path)
	if !ok {
		metrics.IncEvent("skipped")
		if e.skipLog.Allow() {
			e.logger.Debug().
				Str(xlog.FieldPath, ev.Path).
				Msg("ignoring non-recording path")
		}
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	outcome := e.registry.Upsert(res.Key, res.Role, res.Sequence, ev.Path, at, ev.Size)
	metrics.IncEvent(string(outcome))
	switch outcome {
	case session.OutcomeRejectedClosed:
		metrics.IncAnomaly("closed_key")
		return nil
	case session.OutcomeCreated:
		e.logger.Info().
			Str(xlog.FieldSessionKey, string(res.Key)).
			Str(xlog.FieldRole, string(res.Role)).
			Str(xlog.FieldPath, ev.Path).
			Msg("session opened")
	}
	metrics.SessionsOpen.Set(float64(e.registry.Len()))

	if err := e.timers.Touch(res.Key); err != nil {
		// Inability to arm a timer means the timer subsystem is gone;
		// this is process-fatal per the error policy.
		return fmt.Errorf("arm idle timer for %s: %w", res.Key, err)
	}
	return nil
}

// onExpire runs on the fired timer's goroutine; it only queues the key
// for the hand-off workers and must never block there. When the queue
// is saturated (workers wedged in retry backoff) the key is re-armed
// instead, so it fires again after another quiet period.
func (e *Engine) onExpire(key session.Key) {
	select {
	case e.expired <- key:
	default:
		metrics.ExpiryRequeuedTotal.Inc()
		if err := e.timers.Touch(key); err != nil {
			// Shutdown in progress; the registry entry is dropped with
			// the process.
			e.logger.Debug().
				Str(xlog.FieldSessionKey, string(key)).
				Msg("expiry dropped during shutdown")
			return
		}
		e.logger.Warn().
			Str(xlog.FieldSessionKey, string(key)).
			Msg("hand-off queue full, expiry re-armed")
	}
}
