// Package timer owns the per-session idle countdowns. A session's timer
// is reset on every observed write; an uninterrupted quiet period fires
// the finalize callback exactly once per arming.
package timer

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xlog "github.com/callscribe/callscribe/internal/log"
	"github.com/callscribe/callscribe/internal/session"
)

// ErrStopped is returned when a timer is armed after shutdown.
var ErrStopped = errors.New("timer manager stopped")

// arming is one countdown instance. Its identity distinguishes a live
// arming from a stale fire that lost a race against Touch.
type arming struct {
	t *time.Timer
}

// Manager maintains one active cancellable timer per open session.
// Writes for a session call Touch, which restarts its countdown;
// absence of writes for the quiet period invokes onExpire. This is the
// sole finalize trigger: there is no secondary completion signal from
// call control, so the quiet period duration is the only knob against
// early finalization on lagging filesystem notifications.
type Manager struct {
	mu       sync.Mutex
	quiet    time.Duration
	timers   map[session.Key]*arming
	onExpire func(session.Key)
	stopped  bool
	logger   zerolog.Logger
}

// NewManager creates a Manager firing onExpire after quiet of
// inactivity. onExpire runs on the timer's goroutine and must not
// block; the engine hands the key straight to its finalize workers.
func NewManager(quiet time.Duration, onExpire func(session.Key)) *Manager {
	return &Manager{
		quiet:    quiet,
		timers:   make(map[session.Key]*arming),
		onExpire: onExpire,
		logger:   xlog.WithComponent("timer"),
	}
}

// Touch cancels and restarts the countdown for key.
func (m *Manager) Touch(key session.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if prev, ok := m.timers[key]; ok {
		prev.t.Stop()
	}
	a := &arming{}
	a.t = time.AfterFunc(m.quiet, func() { m.expire(key, a) })
	m.timers[key] = a
	return nil
}

// Cancel stops and forgets the timer for key. Idempotent.
func (m *Manager) Cancel(key session.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.timers[key]; ok {
		a.t.Stop()
		delete(m.timers, key)
	}
}

// Active reports the number of armed timers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop cancels all timers. Subsequent Touch calls fail with ErrStopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for key, a := range m.timers {
		a.t.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) expire(key session.Key, a *arming) {
	m.mu.Lock()
	if m.stopped || m.timers[key] != a {
		// Shutdown, or a Touch re-armed the key while this fire was in
		// flight; the fresh arming owns the next expiry.
		m.mu.Unlock()
		return
	}
	delete(m.timers, key)
	m.mu.Unlock()

	m.logger.Debug().
		Str(xlog.FieldSessionKey, string(key)).
		Dur("quiet_period", m.quiet).
		Msg("idle timer expired")
	m.onExpire(key)
}
