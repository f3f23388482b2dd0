// SPDX-License-Identifier: MIT

package amqplink

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkveil/linkrecv/linkiface"
)

// reactor is the single-threaded dispatcher every link-touching
// operation runs on: a single worker goroutine draining a buffered job
// channel, so delivery order on the reactor matches the order callers
// issued them in.
type reactor struct {
	jobs   chan func()
	logger *zap.Logger

	mu      sync.Mutex
	timers  *list.List
	closed  bool
	stop    chan struct{}
	stopped chan struct{}
}

func newReactor(logger *zap.Logger) *reactor {
	r := &reactor{
		jobs:    make(chan func(), 256),
		logger:  logger,
		timers:  list.New(),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *reactor) run() {
	defer close(r.stopped)
	for {
		select {
		case <-r.stop:
			return
		case job := <-r.jobs:
			job()
		}
	}
}

// Schedule implements linkiface.Dispatcher.
func (r *reactor) Schedule(fn func()) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ReactorClosedError{}
	}

	select {
	case r.jobs <- fn:
		return nil
	case <-r.stop:
		return ReactorClosedError{}
	}
}

// ScheduleAfter implements linkiface.Dispatcher. The delay runs on a
// standalone timer outside the reactor; only the fired closure itself
// is submitted to r.jobs, so a long delay never blocks the reactor from
// draining other work.
func (r *reactor) ScheduleAfter(d time.Duration, fn func()) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ReactorClosedError{}
	}

	timer := time.AfterFunc(d, func() {
		_ = r.Schedule(fn)
	})
	elem := r.timers.PushBack(timer)
	r.mu.Unlock()

	cancel := func() {
		timer.Stop()
		r.mu.Lock()
		r.timers.Remove(elem)
		r.mu.Unlock()
	}

	return cancel, nil
}

// close stops accepting new jobs and any not-yet-fired timers. It does
// not wait for in-flight jobs; callers coordinate draining via their own
// close futures.
func (r *reactor) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for e := r.timers.Front(); e != nil; e = e.Next() {
		e.Value.(*time.Timer).Stop()
	}
	r.mu.Unlock()

	close(r.stop)
}

var _ linkiface.Dispatcher = (*reactor)(nil)
