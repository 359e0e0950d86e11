// Package bus is the hand-off boundary between the assembly engine and
// the archival side. Exactly one finalized session descriptor per
// conversation crosses it; the payload is typed, there is nothing else
// to carry.
package bus

import (
	"context"

	"github.com/callscribe/callscribe/internal/session"
)

// Bus carries finalized session descriptors to every subscriber.
type Bus interface {
	// Publish blocks until all subscribers accepted the descriptor or
	// ctx ends. A context-aborted publish is reported to the caller so
	// the finalizer can retry or persist a failure marker.
	Publish(ctx context.Context, fin session.FinalizedSession) error
	// Subscribe attaches a new consumer.
	Subscribe() *Subscription
}
