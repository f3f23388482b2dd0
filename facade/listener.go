// SPDX-License-Identifier: MIT

package facade

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/arkveil/linkrecv/receiver"
)

// LoggerFunc is a pluggable callback for error reporting: callers
// inject zap, logrus, or anything else by wrapping it in this shape.
type LoggerFunc func(error)

// EmptyRouterError is returned when ListenAndServe is asked to start a
// worker pool with nothing registered to dispatch to.
type EmptyRouterError struct{}

func (EmptyRouterError) Error() string { return "router has no registered handlers" }

// UnhandledContentTypeError reports that a delivery's content type has
// no registered handler; such deliveries are abandoned rather than
// silently dropped.
type UnhandledContentTypeError struct{ ContentType string }

func (e UnhandledContentTypeError) Error() string {
	return fmt.Sprintf("no handler registered for content type %q", e.ContentType)
}

// Listener encapsulates the common parameters of a polling dispatcher
// atop a receiver.Receiver: it does no work itself, acting as a
// factory that produces a running Instance.
type Listener struct {
	recv       *receiver.Receiver
	gos        int
	batchSize  int
	batchWait  time.Duration
	loggerFunc LoggerFunc
}

// NewListener constructs a Listener with a parallelism of 1, a receive
// batch of 1, and a one-second poll wait.
func NewListener(recv *receiver.Receiver) *Listener {
	return &Listener{
		recv:      recv,
		gos:       1,
		batchSize: 1,
		batchWait: time.Second,
	}
}

// SetConcurrency sets the worker pool size, clamped by GOMAXPROCS.
func (l *Listener) SetConcurrency(n int) error {
	if n < 1 {
		return fmt.Errorf("invalid goroutines count: %d", n)
	}

	l.gos = min(n, runtime.GOMAXPROCS(0))

	return nil
}

// SetBatch overrides how many messages ListenAndServe asks for per
// Receive call and how long it is willing to wait for a full batch.
func (l *Listener) SetBatch(size int, wait time.Duration) {
	l.batchSize = size
	l.batchWait = wait
}

// SetLogger overrides the default stdlib logger. Pass nil to restore
// logging to the standard library's log.Print.
func (l *Listener) SetLogger(logger LoggerFunc) {
	l.loggerFunc = logger
}

// Instance is a running dispatcher created from Listener.Init: a fixed
// worker pool drained from workChan.
type Instance struct {
	workChan   chan func()
	wg         sync.WaitGroup
	gos        int
	batchSize  int
	batchWait  time.Duration
	router     Router
	recv       *receiver.Receiver
	loggerFunc LoggerFunc
}

// Init takes a Router snapshot and returns a ready-to-run Instance.
func (l *Listener) Init(router Router) *Instance {
	var logger LoggerFunc = func(err error) { log.Print(err) }
	if l.loggerFunc != nil {
		logger = l.loggerFunc
	}

	routerCopy := make(Router, len(router))
	for k, v := range router {
		routerCopy[k] = v
	}

	return &Instance{
		workChan:   make(chan func(), 1),
		gos:        l.gos,
		batchSize:  l.batchSize,
		batchWait:  l.batchWait,
		router:     routerCopy,
		recv:       l.recv,
		loggerFunc: logger,
	}
}

// ListenAndServe starts the worker pool and polls Receive in a loop,
// dispatching each message to its content-type handler and settling it
// with the outcome the handler reports.
func (i *Instance) ListenAndServe(ctx context.Context) error {
	if len(i.router) == 0 {
		return EmptyRouterError{}
	}

	for j := 0; j < i.gos; j++ {
		i.wg.Add(1)
		go runner(i.workChan, &i.wg)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		messages, err := i.recv.Receive(ctx, i.batchSize, i.batchWait)
		if err != nil {
			return err
		}

		for _, msg := range messages {
			msg := msg
			i.workChan <- func() { i.dispatch(ctx, msg) }
		}
	}
}

func (i *Instance) dispatch(ctx context.Context, msg receiver.MessageWithTag) {
	handler, ok := i.router[msg.ContentType]
	if !ok {
		i.loggerFunc(fmt.Errorf("%w", UnhandledContentTypeError{ContentType: msg.ContentType}))
		if err := i.recv.Abandon(ctx, msg.Tag, nil); err != nil {
			i.loggerFunc(fmt.Errorf("abandon unhandled message: %w", err))
		}
		return
	}

	outcome := handler(msg)
	if err := i.settle(ctx, msg.Tag, outcome); err != nil {
		i.loggerFunc(fmt.Errorf("settle message: %w", err))
	}
}

func (i *Instance) settle(ctx context.Context, tag []byte, outcome Outcome) error {
	switch outcome.Kind {
	case OutcomeComplete:
		return i.recv.Complete(ctx, tag)
	case OutcomeAbandon:
		return i.recv.Abandon(ctx, tag, outcome.Properties)
	case OutcomeDefer:
		return i.recv.Defer(ctx, tag, outcome.Properties)
	case OutcomeDeadLetter:
		return i.recv.DeadLetter(ctx, tag, outcome.Reason, outcome.Description, outcome.Properties)
	default:
		return i.recv.Complete(ctx, tag)
	}
}

// Shutdown initiates a graceful shutdown, waiting either for stop() to
// finish or for the context to be canceled/expired.
func (i *Instance) Shutdown(ctx context.Context) error {
	select {
	case <-i.stop():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop closes the receiver, then the workChan, waits for all workers to
// finish, and returns the closed channel so Shutdown's select unblocks.
func (i *Instance) stop() <-chan func() {
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := i.recv.Close(closeCtx); err != nil {
		i.loggerFunc(fmt.Errorf("close receiver: %w", err))
	}

	close(i.workChan)
	i.wg.Wait()

	return i.workChan
}

// runner executes tasks from workChan and signals completion via
// WaitGroup.
func runner(workChan chan func(), wg *sync.WaitGroup) {
	for work := range workChan {
		work()
	}

	wg.Done()
}
