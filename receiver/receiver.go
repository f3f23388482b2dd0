// SPDX-License-Identifier: MIT

// Package receiver implements the core message receiver engine: the
// concurrency and protocol state machine that sits atop a
// single-threaded I/O reactor and exposes an asynchronous pull API to
// callers.
package receiver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/arkveil/linkrecv/linkiface"
)

// Option customizes a Receiver at construction time.
type Option func(*Receiver)

// WithLogger injects a structured logger. The default is a no-op
// logger, so callers who don't care about diagnostics pay nothing.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Receiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Receiver is the core message receiver. All
// link-touching fields below are mutated exclusively on the reactor
// thread; the disposition tracker is the one exception, guarded by
// its own lock because the reaper goroutine also touches it.
type Receiver struct {
	factory     linkiface.Factory
	name        string
	receivePath string
	settle      linkiface.SettleModePair
	opTimeout   time.Duration
	logger      *zap.Logger

	session sessionFacet

	// reactor-thread owned
	link               linkiface.Receiver
	prefetch           *prefetchQueue
	registry           *deliveryRegistry
	pendingReceives    *receiveQueue
	credit             *creditController
	lastKnownLinkError error
	lastKnownErrorAt   time.Time

	linkOpen  *future[*Receiver]
	linkClose *future[struct{}]

	openTimeoutCancel  func()
	closeTimeoutCancel func()

	prefetchMu    sync.Mutex
	prefetchCount int

	dispositions *dispositionTracker
	reaper       *reaper

	rrMu   sync.Mutex
	rrLink linkiface.RequestResponseLink

	closeOnce sync.Once
	closed    atomic.Bool
}

func (r *Receiver) now() time.Time {
	return r.factory.Clock().Now()
}

func newReceiver(factory linkiface.Factory, cfg Config, opts...Option) *Receiver {
	r := &Receiver{
		factory:         factory,
		name:            cfg.Name,
		receivePath:     cfg.ReceivePath,
		opTimeout:       cfg.OperationTimeout,
		prefetchCount:   cfg.PrefetchCount,
		logger:          zap.NewNop(),
		prefetch:        newPrefetchQueue(),
		registry:        newDeliveryRegistry(),
		pendingReceives: newReceiveQueue(),
		dispositions:    newDispositionTracker(),
		linkClose:       newFuture[struct{}](),
	}

	r.settle = linkiface.SettleModePair{}
	if cfg.SenderSettled {
		r.settle.Sender = linkiface.SettleModeSettled
	}
	if cfg.ReceiverSettled {
		r.settle.Receiver = linkiface.SettleModeSettled
	}

	if r.opTimeout <= 0 {
		r.opTimeout = factory.OperationTimeout()
	}

	for _, opt := range opts {
		opt(r)
	}

	r.credit = newCreditController(cfg.Browsable)
	r.reaper = newReaper(r.dispositions, time.Second, r.onDispositionExpired)
	r.reaper.start()

	return r
}

// Open creates a plain (non-session) receiver and blocks until the
// underlying link opens, fails, or ctx is done.
func Open(ctx context.Context, factory linkiface.Factory, cfg Config, opts...Option) (*Receiver, error) {
	r := newReceiver(factory, cfg, opts...)
	return r.createLink(ctx)
}

// OpenSession creates a session receiver bound to cfg.SessionID (which
// may be empty to accept whichever session the broker hands out) and
// blocks the same way Open does.
func OpenSession(ctx context.Context, factory linkiface.Factory, cfg Config, opts...Option) (*Receiver, error) {
	r := newReceiver(factory, cfg, opts...)
	r.session.isSession = true
	r.session.browsable = cfg.Browsable
	r.session.setID(cfg.SessionID)

	return r.createLink(ctx)
}

// PrefetchCount returns the current prefetch count under its short
// critical section.
func (r *Receiver) PrefetchCount() int {
	r.prefetchMu.Lock()
	defer r.prefetchMu.Unlock()

	return r.prefetchCount
}

// SetPrefetchCount changes the prefetch bound and nudges the link's
// outstanding credit by the difference.
func (r *Receiver) SetPrefetchCount(value int) error {
	r.prefetchMu.Lock()
	delta := value - r.prefetchCount
	r.prefetchCount = value
	r.prefetchMu.Unlock()

	return r.scheduleOnReactor("set-prefetch-count", func() {
		if r.link != nil {
			r.credit.enqueue(r.link, delta, r.currentPrefetchCount())
		}
	})
}

func (r *Receiver) currentPrefetchCount() int {
	r.prefetchMu.Lock()
	defer r.prefetchMu.Unlock()

	return r.prefetchCount
}

// Receive asks for up to max messages, waiting at most timeout for at
// least one to arrive. A timeout with no delivery resolves to an empty,
// non-error result; messages already prefetched are returned
// immediately, possibly fewer than max (partial batches are normal).
func (r *Receiver) Receive(ctx context.Context, max int, timeout time.Duration) ([]MessageWithTag, error) {
	if r.closed.Load() {
		return nil, ClosedError{Cause: r.lastKnownLinkError}
	}

	if max <= 0 || max > r.currentPrefetchCount() {
		return nil, InvalidArgumentError{Message: fmt.Sprintf("max must be in (0, %d], got %d", r.currentPrefetchCount(), max)}
	}

	result := newFuture[[]MessageWithTag]()

	var (
		itemMu sync.Mutex
		item   *receiveWorkItem
	)

	err := r.scheduleOnReactor("receive", func() {
		r.ensureLinkIsOpen()

		if messages := r.pollPrefetch(max); messages != nil {
			result.complete(messages)
			return
		}

		pending := &receiveWorkItem{result: result, maxCount: max}

		cancel, schedErr := r.scheduleOnReactorAfter("receive-timeout", timeout, func() {
			if r.pendingReceives.remove(pending) {
				// Workaround for a specific broker behavior: nudge the
				// remote endpoint with a zero-credit flow so it notices
				// the link is still alive;
				// remove if the broker's behavior around this changes.
				if r.link != nil {
					r.link.Flow(0)
				}
				result.complete(nil)
			}
		})
		if schedErr != nil {
			result.completeErr(schedErr)
			return
		}

		pending.cancelTimeout = cancel
		r.pendingReceives.push(pending)

		itemMu.Lock()
		item = pending
		itemMu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	messages, waitErr := result.wait(ctx)
	if !result.isDone() {
		// ctx won the race: the work item, if any, is still pending.
		// Remove it so it doesn't leak, best-effort.
		_ = r.scheduleOnReactor("receive-cancel", func() {
			itemMu.Lock()
			pending := item
			itemMu.Unlock()

			if pending != nil && r.pendingReceives.remove(pending) && pending.cancelTimeout != nil {
				pending.cancelTimeout()
			}
		})

		return nil, waitErr
	}

	return messages, waitErr
}

// pollPrefetch drains up to n messages from the prefetch queue,
// scheduling one credit per message drained.
// Returns nil, not an empty slice, when nothing was available, so
// callers can distinguish "nothing yet" from "an empty batch".
func (r *Receiver) pollPrefetch(n int) []MessageWithTag {
	messages := r.prefetch.drain(n)
	for range messages {
		r.credit.enqueue(r.link, 1, r.currentPrefetchCount())
	}

	if len(messages) == 0 {
		return nil
	}

	return messages
}

// decodeContentType best-effort sniffs a content type from a decoded
// payload's magic bytes.
func decodeContentType(payload []byte) string {
	return mimetype.Detect(payload).String()
}
