// SPDX-License-Identifier: MIT

package receiver

import (
	"sync"
	"time"

	"github.com/arkveil/linkrecv/linkiface"
	"github.com/arkveil/linkrecv/ticks"
)

// updateStateWorkItem is a pending disposition update, one per
// delivery-tag in flight.
type updateStateWorkItem struct {
	result   *future[struct{}]
	outcome  linkiface.Outcome
	deadline ticks.Tracker
	lastErr  error
}

// dispositionTracker holds pending update-state operations keyed by
// delivery-tag. Unlike the rest of the receiver's state, it is
// touched from both the reactor thread (matching inbound outcomes) and
// the reaper goroutine (timeout sweeps), so it needs its own lock.
type dispositionTracker struct {
	mu    sync.Mutex
	items map[string]*updateStateWorkItem
}

func newDispositionTracker() *dispositionTracker {
	return &dispositionTracker{items: make(map[string]*updateStateWorkItem)}
}

func (t *dispositionTracker) put(tag []byte, item *updateStateWorkItem) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items[string(tag)] = item
}

func (t *dispositionTracker) get(tag []byte) (*updateStateWorkItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.items[string(tag)]
	return item, ok
}

func (t *dispositionTracker) remove(tag []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.items, string(tag))
}

// expired returns the tags whose deadline has passed, without removing
// them — the caller removes each after deciding how to complete it.
func (t *dispositionTracker) expired() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for tag, item := range t.items {
		if item.deadline.Expired() {
			out = append(out, tag)
		}
	}

	return out
}

// drainAll removes and returns every pending item, used on close /
// non-transient link error.
func (t *dispositionTracker) drainAll() map[string]*updateStateWorkItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	items := t.items
	t.items = make(map[string]*updateStateWorkItem)

	return items
}

func (t *dispositionTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.items)
}

// reaper periodically sweeps the disposition tracker for expired
// items, completing each exceptionally with its last known error or a
// timeout error.
type reaper struct {
	tracker  *dispositionTracker
	interval time.Duration
	onExpire func(tag string, item *updateStateWorkItem)

	stop      chan struct{}
	stoppedMu sync.Once
}

func newReaper(tracker *dispositionTracker, interval time.Duration, onExpire func(string, *updateStateWorkItem)) *reaper {
	return &reaper{
		tracker:  tracker,
		interval: interval,
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
}

func (r *reaper) start() {
	go r.run()
}

func (r *reaper) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *reaper) sweep() {
	for _, tag := range r.tracker.expired() {
		item, ok := r.tracker.get([]byte(tag))
		if !ok {
			continue
		}

		r.tracker.remove([]byte(tag))
		r.onExpire(tag, item)
	}
}

func (r *reaper) close() {
	r.stoppedMu.Do(func() {
		close(r.stop)
	})
}
