// SPDX-License-Identifier: MIT

package receiver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkveil/linkrecv/linkiface"
)

// fakeDispatcher is a single-worker job-channel dispatcher, the same
// shape amqplink.reactor uses in production, so tests exercise the
// engine under the same serialization guarantee it runs under for real.
type fakeDispatcher struct {
	jobs chan func()
	stop chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	d := &fakeDispatcher{jobs: make(chan func(), 256), stop: make(chan struct{})}
	go d.run()
	return d
}

func (d *fakeDispatcher) run() {
	for {
		select {
		case <-d.stop:
			return
		case job := <-d.jobs:
			job()
		}
	}
}

func (d *fakeDispatcher) Schedule(fn func()) error {
	select {
	case d.jobs <- fn:
		return nil
	case <-d.stop:
		return ReactorClosedForTestError{}
	}
}

func (d *fakeDispatcher) ScheduleAfter(dur time.Duration, fn func()) (func(), error) {
	timer := time.AfterFunc(dur, func() { _ = d.Schedule(fn) })
	return func() { timer.Stop() }, nil
}

func (d *fakeDispatcher) close() { close(d.stop) }

type ReactorClosedForTestError struct{}

func (ReactorClosedForTestError) Error() string { return "fake reactor closed" }

// fakeClock lets tests pin the current time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeLink is a controllable linkiface.Receiver. Tests drive delivery
// and error events by calling its push* helpers directly rather than
// going through a real transport.
type fakeLink struct {
	disp *fakeDispatcher

	mu         sync.Mutex
	observer   linkiface.LinkObserver
	source     linkiface.Source
	properties map[string]any
	closed     bool

	openErr error

	// dropSessionFilterEcho, when true, makes Open omit the session
	// filter from the echoed-back remote source, simulating a broker
	// that never acknowledged the session filter.
	dropSessionFilterEcho bool
	// lockedUntilTicks, when non-nil, is reported back as the
	// session-locked-until link property, in .NET ticks.
	lockedUntilTicks *int64

	flowCalls atomic.Int64
	granted   atomic.Int64

	localState  atomic.Int32
	remoteState atomic.Int32
}

func newFakeLink(disp *fakeDispatcher) *fakeLink {
	l := &fakeLink{disp: disp}
	l.localState.Store(int32(linkiface.StateUninitialized))
	l.remoteState.Store(int32(linkiface.StateUninitialized))
	return l
}

func (l *fakeLink) Open(args linkiface.OpenArgs, observer linkiface.LinkObserver) error {
	l.mu.Lock()
	l.observer = observer
	l.source = args.Source
	if l.dropSessionFilterEcho {
		l.source.Filter = nil
	}
	props := make(map[string]any, len(args.Properties)+1)
	for k, v := range args.Properties {
		props[k] = v
	}
	if l.lockedUntilTicks != nil {
		props[linkiface.LockedUntilPropertyKey] = *l.lockedUntilTicks
	}
	l.properties = props
	openErr := l.openErr
	l.mu.Unlock()

	if openErr != nil {
		_ = l.disp.Schedule(func() { observer.OnOpenComplete(openErr) })
		return nil
	}

	l.localState.Store(int32(linkiface.StateActive))
	l.remoteState.Store(int32(linkiface.StateActive))
	_ = l.disp.Schedule(func() { observer.OnOpenComplete(nil) })
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	observer := l.observer
	l.mu.Unlock()

	l.localState.Store(int32(linkiface.StateClosed))
	if observer != nil {
		_ = l.disp.Schedule(func() { observer.OnClose(nil) })
	}
	return nil
}

func (l *fakeLink) Flow(credits int) {
	l.flowCalls.Add(1)
	l.granted.Add(int64(credits))
}

func (l *fakeLink) Advance() {}

func (l *fakeLink) Name() string { return "fake-link" }

func (l *fakeLink) LocalState() linkiface.EndpointState {
	return linkiface.EndpointState(l.localState.Load())
}

func (l *fakeLink) RemoteState() linkiface.EndpointState {
	return linkiface.EndpointState(l.remoteState.Load())
}

func (l *fakeLink) RemoteSource() linkiface.Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

func (l *fakeLink) RemoteProperties() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.properties
}

// deliver pushes a brand-new delivery to whatever observer Open
// registered, as a real transport would on an inbound frame.
func (l *fakeLink) deliver(d *fakeDelivery) {
	l.mu.Lock()
	observer := l.observer
	l.mu.Unlock()

	_ = l.disp.Schedule(func() { observer.OnReceiveComplete(d) })
}

func (l *fakeLink) sendError(err error) {
	l.mu.Lock()
	observer := l.observer
	l.mu.Unlock()

	_ = l.disp.Schedule(func() { observer.OnError(err) })
}

var _ linkiface.Receiver = (*fakeLink)(nil)

// fakeDelivery is a controllable linkiface.Delivery. Disposition
// optionally echoes a configured remote outcome back through
// OnReceiveComplete, simulating the amqplink adapter's synchronous
// remote-outcome simulation.
type fakeDelivery struct {
	disp     *fakeDispatcher
	observer linkiface.LinkObserver

	tag           []byte
	payload       []byte
	senderSettled bool

	mu           sync.Mutex
	settled      bool
	dispositions []linkiface.Outcome
	outcome      linkiface.Outcome
	hasOutcome   bool

	// echoOutcome, when set, is what Disposition reports back via
	// OnReceiveComplete instead of the outcome it was asked to send.
	echoOutcome *linkiface.Outcome
}

func newFakeDelivery(disp *fakeDispatcher, observer linkiface.LinkObserver, tag, payload []byte) *fakeDelivery {
	return &fakeDelivery{disp: disp, observer: observer, tag: tag, payload: payload}
}

func (d *fakeDelivery) Tag() []byte          { return d.tag }
func (d *fakeDelivery) Payload() []byte      { return d.payload }
func (d *fakeDelivery) SenderSettled() bool  { return d.senderSettled }

func (d *fakeDelivery) Disposition(outcome linkiface.Outcome) error {
	d.mu.Lock()
	d.dispositions = append(d.dispositions, outcome)
	remote := outcome
	if d.echoOutcome != nil {
		remote = *d.echoOutcome
	}
	d.outcome = remote
	d.hasOutcome = true
	d.mu.Unlock()

	_ = d.disp.Schedule(func() { d.observer.OnReceiveComplete(d) })
	return nil
}

func (d *fakeDelivery) Settle() error {
	d.mu.Lock()
	d.settled = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDelivery) RemoteOutcome() (linkiface.Outcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outcome, d.hasOutcome
}

func (d *fakeDelivery) dispositionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispositions)
}

var _ linkiface.Delivery = (*fakeDelivery)(nil)

// fakeRRLink is a controllable linkiface.RequestResponseLink.
type fakeRRLink struct {
	mu       sync.Mutex
	response linkiface.ResponseMessage
	err      error
	requests []linkiface.RequestMessage
}

func (l *fakeRRLink) Request(_ context.Context, req linkiface.RequestMessage, _ time.Duration) (linkiface.ResponseMessage, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	resp, err := l.response, l.err
	l.mu.Unlock()
	return resp, err
}

func (l *fakeRRLink) Close() error { return nil }

var _ linkiface.RequestResponseLink = (*fakeRRLink)(nil)

// fakeFactory implements linkiface.Factory over a fakeDispatcher and a
// pluggable link constructor, so each test controls exactly what link
// Open/OpenSession receives.
type fakeFactory struct {
	*fakeDispatcher

	retryPolicy linkiface.RetryPolicy
	opTimeout   time.Duration
	clock       linkiface.Clock
	clientID    string
	hostName    string

	newLink   func(observer linkiface.LinkObserver) (linkiface.Receiver, error)
	newRRLink func(path string) (linkiface.RequestResponseLink, error)
}

func (f *fakeFactory) RetryPolicy() linkiface.RetryPolicy { return f.retryPolicy }
func (f *fakeFactory) OperationTimeout() time.Duration    { return f.opTimeout }
func (f *fakeFactory) Clock() linkiface.Clock             { return f.clock }
func (f *fakeFactory) ClientID() string                   { return f.clientID }
func (f *fakeFactory) HostName() string                   { return f.hostName }

func (f *fakeFactory) CreateReceiverLink(observer linkiface.LinkObserver) (linkiface.Receiver, error) {
	return f.newLink(observer)
}

func (f *fakeFactory) CreateRequestResponseLink(path string) (linkiface.RequestResponseLink, error) {
	return f.newRRLink(path)
}

var _ linkiface.Factory = (*fakeFactory)(nil)

// noopRetryPolicy never retries; used by tests that want a fatal error
// on the first failure.
type noopRetryPolicy struct{}

func (noopRetryPolicy) NextRetryInterval(string, error, time.Duration) (time.Duration, bool) {
	return 0, false
}
func (noopRetryPolicy) ResetRetryCount(string) {}
func (noopRetryPolicy) IsTransient(error) bool { return false }

var _ linkiface.RetryPolicy = noopRetryPolicy{}
