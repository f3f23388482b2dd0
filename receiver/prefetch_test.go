// SPDX-License-Identifier: MIT

package receiver

import "testing"

func TestPrefetchQueueDrainInOrder(t *testing.T) {
	q := newPrefetchQueue()
	q.push(MessageWithTag{Tag: []byte("a")})
	q.push(MessageWithTag{Tag: []byte("b")})
	q.push(MessageWithTag{Tag: []byte("c")})

	got := q.drain(2)
	if len(got) != 2 {
		t.Errorf("drain(2) returned %d messages, want 2", len(got))
		return
	}
	if string(got[0].Tag) != "a" || string(got[1].Tag) != "b" {
		t.Errorf("drain(2) = %v, want [a b]", got)
	}
	if q.len() != 1 {
		t.Errorf("len() = %d, want 1", q.len())
	}
}

func TestPrefetchQueueDrainMoreThanAvailable(t *testing.T) {
	q := newPrefetchQueue()
	q.push(MessageWithTag{Tag: []byte("only")})

	got := q.drain(5)
	if len(got) != 1 {
		t.Errorf("drain(5) returned %d messages, want 1", len(got))
	}
	if q.len() != 0 {
		t.Errorf("len() = %d, want 0", q.len())
	}
}

func TestPrefetchQueueClear(t *testing.T) {
	q := newPrefetchQueue()
	q.push(MessageWithTag{Tag: []byte("a")})
	q.clear()

	if q.len() != 0 {
		t.Errorf("len() after clear = %d, want 0", q.len())
	}
}

func TestDeliveryRegistryLifecycle(t *testing.T) {
	reg := newDeliveryRegistry()
	disp := newFakeDispatcher()
	defer disp.close()
	d := newFakeDelivery(disp, nil, []byte("tag"), nil)

	if _, ok := reg.get([]byte("tag")); ok {
		t.Errorf("get on empty registry found an entry")
	}

	reg.put([]byte("tag"), d)
	got, ok := reg.get([]byte("tag"))
	if !ok || got != d {
		t.Errorf("get after put = (%v, %v), want (%v, true)", got, ok, d)
	}

	reg.remove([]byte("tag"))
	if _, ok := reg.get([]byte("tag")); ok {
		t.Errorf("get after remove found an entry")
	}
}

func TestDeliveryRegistryClear(t *testing.T) {
	reg := newDeliveryRegistry()
	disp := newFakeDispatcher()
	defer disp.close()
	reg.put([]byte("a"), newFakeDelivery(disp, nil, []byte("a"), nil))
	reg.put([]byte("b"), newFakeDelivery(disp, nil, []byte("b"), nil))

	reg.clear()
	if reg.len() != 0 {
		t.Errorf("len() after clear = %d, want 0", reg.len())
	}
}

func TestReceiveQueueFIFOAndRemove(t *testing.T) {
	q := newReceiveQueue()
	first := &receiveWorkItem{maxCount: 1}
	second := &receiveWorkItem{maxCount: 2}

	q.push(first)
	q.push(second)

	if ok := q.remove(second); !ok {
		t.Errorf("remove(second) = false, want true")
	}
	if q.len() != 1 {
		t.Errorf("len() after remove = %d, want 1", q.len())
	}

	got, ok := q.popFront()
	if !ok || got != first {
		t.Errorf("popFront() = (%v, %v), want (%v, true)", got, ok, first)
	}

	if ok := q.remove(first); ok {
		t.Errorf("remove on an item already popped = true, want false")
	}
}

func TestReceiveQueueDrainAll(t *testing.T) {
	q := newReceiveQueue()
	q.push(&receiveWorkItem{})
	q.push(&receiveWorkItem{})

	items := q.drainAll()
	if len(items) != 2 {
		t.Errorf("drainAll() returned %d items, want 2", len(items))
	}
	if q.len() != 0 {
		t.Errorf("len() after drainAll = %d, want 0", q.len())
	}
}

func TestCreditControllerBatchesUntilThreshold(t *testing.T) {
	disp := newFakeDispatcher()
	defer disp.close()
	link := newFakeLink(disp)

	c := newCreditController(false)

	c.enqueue(link, 5, 10)
	if link.flowCalls.Load() != 0 {
		t.Errorf("Flow called after enqueueing below threshold")
	}

	c.enqueue(link, 5, 10)
	if link.flowCalls.Load() != 1 {
		t.Errorf("flowCalls = %d, want 1 once the prefetch threshold is reached", link.flowCalls.Load())
	}
	if got := link.granted.Load(); got != 10 {
		t.Errorf("granted credits = %d, want 10", got)
	}
}

func TestCreditControllerNoopWhenBrowsable(t *testing.T) {
	disp := newFakeDispatcher()
	defer disp.close()
	link := newFakeLink(disp)

	c := newCreditController(true)
	c.enqueue(link, 1000, 10)

	if link.flowCalls.Load() != 0 {
		t.Errorf("Flow called for a browsable (peek-only) session")
	}
}

func TestCreditControllerResetZeroesAccumulator(t *testing.T) {
	disp := newFakeDispatcher()
	defer disp.close()
	link := newFakeLink(disp)

	c := newCreditController(false)
	c.enqueue(link, 50, 1000)
	c.reset()
	c.enqueue(link, 50, 1000)

	if link.flowCalls.Load() != 0 {
		t.Errorf("Flow called even though the accumulator was reset below threshold")
	}
}
