// SPDX-License-Identifier: MIT

package receiver

import (
	"fmt"

	"github.com/arkveil/linkrecv/linkiface"
)

// OnReceiveComplete implements linkiface.LinkObserver. An
// unregistered tag is a brand-new delivery; a registered one carries a
// terminal remote outcome for a disposition already in flight.
func (r *Receiver) OnReceiveComplete(d linkiface.Delivery) {
	tag := d.Tag()

	if _, known := r.registry.get(tag); !known {
		r.handleNewDelivery(d)
		return
	}

	r.handleTerminalOutcome(tag, d)
}

// handleNewDelivery decodes a fresh message, auto-settles it when the
// sender already considers it settled, otherwise registers it for later
// disposition, then feeds it to the prefetch queue and, if one is
// waiting, the head of the receive queue.
func (r *Receiver) handleNewDelivery(d linkiface.Delivery) {
	payload := d.Payload()
	msg := MessageWithTag{
		Payload:     payload,
		ContentType: decodeContentType(payload),
		Tag:         d.Tag(),
	}

	if d.SenderSettled() {
		_ = d.Disposition(linkiface.Accepted())
		_ = d.Settle()
	} else {
		r.registry.put(d.Tag(), d)
		r.link.Advance()
	}

	r.prefetch.push(msg)
	r.factory.RetryPolicy().ResetRetryCount(r.factory.ClientID())

	if item, ok := r.pendingReceives.popFront(); ok {
		if item.cancelTimeout != nil {
			item.cancelTimeout()
		}
		item.result.complete(r.pollPrefetch(item.maxCount))
	}
}

// handleTerminalOutcome matches an inbound remote outcome against the
// disposition tracked for tag, completing, retrying, or failing the
// in-flight update-state work-item accordingly.
func (r *Receiver) handleTerminalOutcome(tag []byte, d linkiface.Delivery) {
	outcome, ok := d.RemoteOutcome()
	if !ok {
		return
	}

	item, ok := r.dispositions.get(tag)
	if !ok {
		return
	}

	if outcome.Kind == item.outcome.Kind {
		_ = d.Settle()
		r.dispositions.remove(tag)
		r.registry.remove(tag)
		item.result.complete(struct{}{})
		return
	}

	switch outcome.Kind {
	case linkiface.OutcomeRejected:
		r.retryOrFailRejected(tag, d, item, outcome)

	case linkiface.OutcomeReleased:
		r.dispositions.remove(tag)
		r.registry.remove(tag)
		_ = d.Settle()
		item.result.completeErr(OperationCancelledError{Detail: "delivery released by remote"})

	default:
		r.dispositions.remove(tag)
		r.registry.remove(tag)
		_ = d.Settle()
		item.result.completeErr(FatalError{Cause: fmt.Errorf("unexpected remote outcome %s for pending %s", outcome.Kind, item.outcome.Kind)})
	}
}

// retryOrFailRejected retries the same disposition on the same
// delivery handle after the retry policy's interval, or fails the
// work-item once the policy gives up.
func (r *Receiver) retryOrFailRejected(tag []byte, d linkiface.Delivery, item *updateStateWorkItem, outcome linkiface.Outcome) {
	condErr := fmt.Errorf("rejected")
	if outcome.Error != nil {
		condErr = fmt.Errorf("%s: %s", outcome.Error.Condition, outcome.Error.Description)
	}
	item.lastErr = condErr

	interval, retry := r.factory.RetryPolicy().NextRetryInterval(r.factory.ClientID(), TransientError{Cause: condErr}, item.deadline.Remaining())
	if retry {
		_, _ = r.scheduleOnReactorAfter("disposition-retry", interval, func() {
			_ = d.Disposition(item.outcome)
		})
		return
	}

	r.dispositions.remove(tag)
	r.registry.remove(tag)
	_ = d.Settle()
	item.result.completeErr(item.lastErr)
}
