// SPDX-License-Identifier: MIT

package receiver

import "github.com/arkveil/linkrecv/linkiface"

// prefetchQueue is the FIFO buffer of messages ready for the caller.
// It is owned exclusively by the reactor thread and so needs no
// internal locking.
type prefetchQueue struct {
	items []MessageWithTag
}

func newPrefetchQueue() *prefetchQueue {
	return &prefetchQueue{}
}

func (q *prefetchQueue) push(m MessageWithTag) {
	q.items = append(q.items, m)
}

// poll removes and returns the head message, or false if the queue is
// empty.
func (q *prefetchQueue) poll() (MessageWithTag, bool) {
	if len(q.items) == 0 {
		return MessageWithTag{}, false
	}

	m := q.items[0]
	q.items[0] = MessageWithTag{}
	q.items = q.items[1:]

	return m, true
}

// drain removes and returns up to n messages, in order.
func (q *prefetchQueue) drain(n int) []MessageWithTag {
	var out []MessageWithTag

	for len(out) < n {
		m, ok := q.poll()
		if !ok {
			break
		}
		out = append(out, m)
	}

	return out
}

func (q *prefetchQueue) len() int {
	return len(q.items)
}

func (q *prefetchQueue) clear() {
	q.items = nil
}

// deliveryRegistry maps a delivery-tag to its live delivery handle,
// for later settlement. Reactor-thread owned.
type deliveryRegistry struct {
	byTag map[string]linkiface.Delivery
}

func newDeliveryRegistry() *deliveryRegistry {
	return &deliveryRegistry{byTag: make(map[string]linkiface.Delivery)}
}

func (r *deliveryRegistry) put(tag []byte, d linkiface.Delivery) {
	r.byTag[string(tag)] = d
}

func (r *deliveryRegistry) get(tag []byte) (linkiface.Delivery, bool) {
	d, ok := r.byTag[string(tag)]
	return d, ok
}

func (r *deliveryRegistry) remove(tag []byte) {
	delete(r.byTag, string(tag))
}

func (r *deliveryRegistry) clear() {
	r.byTag = make(map[string]linkiface.Delivery)
}

func (r *deliveryRegistry) len() int {
	return len(r.byTag)
}
