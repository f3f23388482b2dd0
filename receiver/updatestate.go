// SPDX-License-Identifier: MIT

package receiver

import (
	"context"

	"github.com/arkveil/linkrecv/linkiface"
	"github.com/arkveil/linkrecv/ticks"
)

// updateState is the shared implementation behind Complete, Abandon,
// Defer, and DeadLetter : dispatch to the reactor, look up the
// delivery, track the intended outcome, and issue the disposition.
// Completion arrives later via the delivery callback path.
func (r *Receiver) updateState(ctx context.Context, tag []byte, outcome linkiface.Outcome) error {
	if r.closed.Load() {
		return ClosedError{Cause: r.lastKnownLinkError}
	}

	result := newFuture[struct{}]()

	err := r.scheduleOnReactor("update-state", func() {
		delivery, ok := r.registry.get(tag)
		if !ok {
			result.completeErr(DeliveryNotFoundError{})
			return
		}

		if _, inFlight := r.dispositions.get(tag); inFlight {
			result.completeErr(InvalidArgumentError{Message: "delivery already has an update-state operation in flight"})
			return
		}

		item := &updateStateWorkItem{
			result:   result,
			outcome:  outcome,
			deadline: ticks.NewTracker(r.factory.Clock(), r.opTimeout),
		}
		r.dispositions.put(tag, item)

		if dispErr := delivery.Disposition(outcome); dispErr != nil {
			r.dispositions.remove(tag)
			result.completeErr(dispErr)
		}
	})
	if err != nil {
		return err
	}

	_, waitErr := result.wait(ctx)
	return waitErr
}

// Complete settles tag as accepted.
func (r *Receiver) Complete(ctx context.Context, tag []byte) error {
	return r.updateState(ctx, tag, linkiface.Accepted())
}

// Abandon settles tag as modified, releasing it back to the broker for
// redelivery. propertiesToModify is carried as message annotations.
func (r *Receiver) Abandon(ctx context.Context, tag []byte, propertiesToModify map[string]any) error {
	return r.updateState(ctx, tag, linkiface.Modified(false, propertiesToModify))
}

// Defer settles tag as modified with undeliverable_here set, so the
// broker parks it for retrieval by sequence number instead of
// redelivering it on this link.
func (r *Receiver) Defer(ctx context.Context, tag []byte, propertiesToModify map[string]any) error {
	return r.updateState(ctx, tag, linkiface.Modified(true, propertiesToModify))
}

// DeadLetter settles tag as rejected with the dead-letter condition,
// carrying reason, description, and any custom properties in the
// outcome's error info map.
func (r *Receiver) DeadLetter(ctx context.Context, tag []byte, reason, description string, propertiesToModify map[string]any) error {
	info := map[string]any{
		"reason":      reason,
		"description": description,
	}
	for k, v := range propertiesToModify {
		info[k] = v
	}

	return r.updateState(ctx, tag, linkiface.Rejected(linkiface.DeadLetterCondition, info))
}

// onDispositionExpired is the timeout reaper's completion hook: it
// removes the expired tag and completes its work-item exceptionally
// with the last seen error, or a timeout error if none arrived.
// Dispatched back onto the reactor thread since it touches the
// delivery registry.
func (r *Receiver) onDispositionExpired(tag string, item *updateStateWorkItem) {
	_ = r.scheduleOnReactor("disposition-timeout", func() {
		r.registry.remove([]byte(tag))

		if item.lastErr != nil {
			item.result.completeErr(item.lastErr)
			return
		}
		item.result.completeErr(TimeoutError{Op: "update-state"})
	})
}
