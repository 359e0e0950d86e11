package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	xlog "github.com/callscribe/callscribe/internal/log"
	"github.com/callscribe/callscribe/internal/metrics"
	"github.com/callscribe/callscribe/internal/session"
)

// SubscriberBuffer sizes each subscription channel. Finalizations are
// paced by the quiet period, so bursts stay short; a subscriber that
// falls further behind pushes back on Publish until the finalizer's
// per-attempt timeout expires and its retry policy takes over.
const SubscriberBuffer = 16

// MemoryBus is the in-process Bus. It is not durable: a descriptor
// abandoned here is recoverable from the journal, which the finalizer
// writes independently of delivery.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []*Subscription
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, fin session.FinalizedSession) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- fin:
		case <-ctx.Done():
			reason := abandonReason(ctx.Err())
			metrics.IncBusDrop(reason)
			// Each descriptor is one conversation; every abandonment is
			// worth its own log line, correlation included.
			logger := xlog.WithContext(ctx, xlog.WithComponent("bus"))
			logger.Warn().
				Str(xlog.FieldSessionKey, string(fin.Key)).
				Str(xlog.FieldReason, reason).
				Msg("finalized session hand-off abandoned")
			return fmt.Errorf("hand off session %s: %w", fin.Key, ctx.Err())
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe() *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan session.FinalizedSession, SubscriberBuffer),
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Subscription is one consumer's receive side. Close detaches it and
// closes the channel; reading a closed channel signals shutdown.
type Subscription struct {
	bus  *MemoryBus
	ch   chan session.FinalizedSession
	once sync.Once
}

func (s *Subscription) C() <-chan session.FinalizedSession {
	return s.ch
}

func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for i, other := range s.bus.subs {
			if other == s {
				s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func abandonReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

var _ Bus = (*MemoryBus)(nil)
