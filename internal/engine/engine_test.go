// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/callscribe/callscribe/internal/bus"
	"github.com/callscribe/callscribe/internal/journal"
	"github.com/callscribe/callscribe/internal/match"
	"github.com/callscribe/callscribe/internal/session"
	"github.com/callscribe/callscribe/internal/telemetry"
)

// harness wires an engine with fast timings against an in-memory bus
// and journal.
type harness struct {
	engine   *Engine
	registry *session.Registry
	bus      *bus.MemoryBus
	store    *journal.MemoryStore
	sub      *bus.Subscription
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T, quiet time.Duration) *harness {
	t.Helper()

	registry := session.NewRegistry(time.Minute)
	b := bus.NewMemoryBus()
	store := journal.NewMemoryStore()
	eng := New(Config{
		QuietPeriod:        quiet,
		HandoffWorkers:     2,
		HandoffRetries:     2,
		HandoffBackoffBase: 10 * time.Millisecond,
		HandoffTimeout:     time.Second,
	}, match.New(match.DefaultRules()), registry, b, store)

	sub := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	h := &harness{
		engine:   eng,
		registry: registry,
		bus:      b,
		store:    store,
		sub:      sub,
		cancel:   cancel,
		done:     done,
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("engine did not shut down")
		}
		_ = sub.Close()
	})
	return h
}

func (h *harness) send(t *testing.T, path string, size int64) {
	t.Helper()
	select {
	case h.engine.Events() <- Event{Path: path, Op: OpWrite, At: time.Now(), Size: size}:
	case <-time.After(time.Second):
		t.Fatal("event channel blocked")
	}
}

func (h *harness) waitFinalized(t *testing.T, timeout time.Duration) session.FinalizedSession {
	t.Helper()
	select {
	case fin := <-h.sub.C():
		return fin
	case <-time.After(timeout):
		t.Fatal("timed out waiting for finalized session")
		return session.FinalizedSession{}
	}
}

func TestSessionFinalizedOnceAfterQuietPeriod(t *testing.T) {
	h := newHarness(t, 60*time.Millisecond)

	h.send(t, "/spool/call-1-in.wav", 100)
	h.send(t, "/spool/call-1-out.wav", 120)

	fin := h.waitFinalized(t, 2*time.Second)
	assert.Equal(t, session.Key("call-1"), fin.Key)
	assert.True(t, fin.Complete)
	assert.Len(t, fin.Files, 2)
	assert.NotEmpty(t, fin.CorrelationID)

	// No second emission for the same conversation.
	select {
	case extra := <-h.sub.C():
		t.Fatalf("unexpected second emission: %v", extra.Key)
	case <-time.After(200 * time.Millisecond):
	}

	// Session left the registry and is journaled.
	assert.Equal(t, 0, h.registry.Len())
	rec, err := h.store.GetFinalized(context.Background(), "call-1")
	require.NoError(t, err)
	assert.Equal(t, fin.CorrelationID, rec.CorrelationID)
}

func TestOngoingWritesDeferFinalization(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond)

	h.send(t, "/spool/call-1-in.wav", 10)
	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		h.send(t, "/spool/call-1-in.wav", int64(20+i*10))
	}

	// Still open immediately after the last write.
	snap, ok := h.registry.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, session.StateOpen, snap.State)

	fin := h.waitFinalized(t, 2*time.Second)
	assert.Equal(t, session.Key("call-1"), fin.Key)
	assert.False(t, fin.Complete)
	assert.Equal(t, int64(60), fin.Files[0].Size)
}

func TestIndependentSessionsFinalizeConcurrently(t *testing.T) {
	h := newHarness(t, 60*time.Millisecond)

	h.send(t, "/spool/call-a-in.wav", 10)
	h.send(t, "/spool/call-a-out.wav", 10)
	h.send(t, "/spool/call-b-in.wav", 10)

	got := map[session.Key]session.FinalizedSession{}
	for i := 0; i < 2; i++ {
		fin := h.waitFinalized(t, 2*time.Second)
		got[fin.Key] = fin
	}

	require.Contains(t, got, session.Key("call-a"))
	require.Contains(t, got, session.Key("call-b"))
	assert.True(t, got["call-a"].Complete)
	assert.False(t, got["call-b"].Complete)
}

func TestLateWriteRejectedAfterClose(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	h.send(t, "/spool/call-1-in.wav", 10)
	h.waitFinalized(t, 2*time.Second)
	require.Equal(t, 0, h.registry.Len())

	// A straggler write for the closed key must not resurrect it.
	h.send(t, "/spool/call-1-out.wav", 10)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, h.registry.Len())

	select {
	case extra := <-h.sub.C():
		t.Fatalf("closed key re-emitted: %v", extra.Key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNonRecordingPathsIgnored(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	h.send(t, "/spool/.call-1-in.wav", 10)
	h.send(t, "/spool/notes.txt", 10)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, h.registry.Len())
}

// failBus always fails publishing, simulating a wedged collaborator.
type failBus struct{}

func (failBus) Publish(ctx context.Context, fin session.FinalizedSession) error {
	return errors.New("collaborator down")
}

func (failBus) Subscribe() *bus.Subscription {
	return nil
}

func TestHandoffExhaustionPersistsFailureMarker(t *testing.T) {
	registry := session.NewRegistry(time.Minute)
	store := journal.NewMemoryStore()
	fin := NewFinalizer(match.New(match.DefaultRules()), registry, failBus{}, store, FinalizerConfig{
		Retries:        2,
		BackoffBase:    time.Millisecond,
		PublishTimeout: 50 * time.Millisecond,
	})

	registry.Upsert("call-1", session.RoleInbound, 1, "/spool/call-1-in.wav", time.Now(), 10)
	fin.Finalize(context.Background(), "call-1")

	// Session is closed despite the failed hand-off.
	assert.Equal(t, 0, registry.Len())
	_, err := store.GetFinalized(context.Background(), "call-1")
	assert.ErrorIs(t, err, journal.ErrNotFound)

	markers, err := store.Failures(context.Background())
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, session.Key("call-1"), markers[0].Session.Key)
	assert.Equal(t, 3, markers[0].Attempts)
	assert.Contains(t, markers[0].Error, "collaborator down")
}

func TestDuplicateFinalizeTriggerIgnored(t *testing.T) {
	registry := session.NewRegistry(time.Minute)
	store := journal.NewMemoryStore()
	b := bus.NewMemoryBus()
	sub := b.Subscribe()
	t.Cleanup(func() { _ = sub.Close() })

	fin := NewFinalizer(match.New(match.DefaultRules()), registry, b, store, FinalizerConfig{
		Retries:        1,
		BackoffBase:    time.Millisecond,
		PublishTimeout: time.Second,
	})

	registry.Upsert("call-1", session.RoleInbound, 1, "/spool/call-1-in.wav", time.Now(), 10)
	fin.Finalize(context.Background(), "call-1")
	fin.Finalize(context.Background(), "call-1") // duplicate timer fire

	require.Len(t, sub.C(), 1)
}

func TestFinalizeEmitsSpanWithSessionKey(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	registry := session.NewRegistry(time.Minute)
	store := journal.NewMemoryStore()
	b := bus.NewMemoryBus()
	sub := b.Subscribe()
	t.Cleanup(func() { _ = sub.Close() })

	fin := NewFinalizer(match.New(match.DefaultRules()), registry, b, store, FinalizerConfig{
		Retries:        1,
		BackoffBase:    time.Millisecond,
		PublishTimeout: time.Second,
	})

	registry.Upsert("call-1", session.RoleInbound, 1, "/spool/call-1-in.wav", time.Now(), 10)
	fin.Finalize(context.Background(), "call-1")

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "session.finalize" {
			continue
		}
		found = true
		keys := map[string]string{}
		for _, attr := range span.Attributes() {
			keys[string(attr.Key)] = attr.Value.Emit()
		}
		assert.Equal(t, "call-1", keys[telemetry.SessionKeyKey])
		assert.Contains(t, keys, telemetry.HandoffOutcomeKey)
	}
	require.True(t, found, "expected a session.finalize span")
}

func TestExpiryQueueSaturationReArmsTimer(t *testing.T) {
	registry := session.NewRegistry(time.Minute)
	store := journal.NewMemoryStore()
	eng := New(Config{
		QuietPeriod: time.Hour,
		EventBuffer: 1,
	}, match.New(match.DefaultRules()), registry, bus.NewMemoryBus(), store)
	t.Cleanup(eng.timers.Stop)

	// No Run loop draining the queue: the first expiry fills it, the
	// second must re-arm its timer instead of blocking the callback.
	eng.onExpire("call-1")

	done := make(chan struct{})
	go func() {
		eng.onExpire("call-2")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onExpire blocked on a saturated queue")
	}

	assert.Equal(t, 1, eng.timers.Active())
}
