// SPDX-License-Identifier: MIT

package amqplink

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/rabbitmq/amqp091-go"

	"github.com/arkveil/linkrecv/linkiface"
)

// delivery adapts an amqp091.Delivery into linkiface.Delivery. An
// atomic.Bool CAS guard makes Settle idempotent, and the single
// Ack/Nack/Reject trio is split into the four-outcome Disposition/
// Settle pair the receiver expects.
//
// AMQP091 acknowledges synchronously — there is no broker reply frame
// distinct from the ack/nack call itself — so Disposition delivers the
// "remote outcome" back to the observer immediately instead of waiting
// on a later callback. Sender-settled deliveries get no such callback:
// the receiver never registers them, so an echo would look like a new
// delivery.
type delivery struct {
	raw           amqp091.Delivery
	senderSettled bool
	disp          linkiface.Dispatcher
	observer      linkiface.LinkObserver

	settled atomic.Bool

	mu         sync.Mutex
	outcome    linkiface.Outcome
	hasOutcome bool
}

func newDelivery(raw amqp091.Delivery, senderSettled bool, disp linkiface.Dispatcher, observer linkiface.LinkObserver) *delivery {
	return &delivery{raw: raw, senderSettled: senderSettled, disp: disp, observer: observer}
}

func (d *delivery) Tag() []byte {
	tag := make([]byte, 8)
	binary.BigEndian.PutUint64(tag, d.raw.DeliveryTag)
	return tag
}

func (d *delivery) Payload() []byte { return d.raw.Body }

func (d *delivery) SenderSettled() bool { return d.senderSettled }

func (d *delivery) Disposition(outcome linkiface.Outcome) error {
	var err error
	switch outcome.Kind {
	case linkiface.OutcomeAccepted:
		err = d.raw.Ack(false)
	case linkiface.OutcomeRejected:
		err = d.raw.Reject(false)
	case linkiface.OutcomeReleased:
		err = d.raw.Nack(false, true)
	case linkiface.OutcomeModified:
		err = d.raw.Nack(false, !outcome.UndeliverableHere)
	}

	remote := outcome
	if err != nil {
		remote = linkiface.Rejected("amqp091:ack-error", map[string]any{"cause": err.Error()})
	}

	d.mu.Lock()
	d.outcome = remote
	d.hasOutcome = true
	d.mu.Unlock()

	if !d.senderSettled {
		_ = d.disp.Schedule(func() { d.observer.OnReceiveComplete(d) })
	}

	return err
}

func (d *delivery) Settle() error {
	d.settled.CompareAndSwap(false, true)
	return nil
}

func (d *delivery) RemoteOutcome() (linkiface.Outcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outcome, d.hasOutcome
}

var _ linkiface.Delivery = (*delivery)(nil)
