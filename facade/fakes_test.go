// SPDX-License-Identifier: MIT

package facade

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkveil/linkrecv/linkiface"
)

// fakeDispatcher is a single-worker job queue, mirroring the shape of
// the real reactor closely enough to exercise receiver.Receiver without
// a live broker.
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
		return fakeClosedError{}
	}
}

func (d *fakeDispatcher) ScheduleAfter(dur time.Duration, fn func()) (func(), error) {
	timer := time.AfterFunc(dur, func() { _ = d.Schedule(fn) })
	return func() { timer.Stop() }, nil
}

func (d *fakeDispatcher) close() { close(d.stop) }

type fakeClosedError struct{}

func (fakeClosedError) Error() string { return "fake reactor closed" }

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(0, 0) }

type noopRetryPolicy struct{}

func (noopRetryPolicy) NextRetryInterval(string, error, time.Duration) (time.Duration, bool) {
	return 0, false
}
func (noopRetryPolicy) ResetRetryCount(string) {}
func (noopRetryPolicy) IsTransient(error) bool { return false }

// fakeLink is a minimal controllable linkiface.Receiver, only as rich
// as the facade tests need: it can open successfully and accept pushed
// deliveries, and records how many times it was asked for more credit.
type fakeLink struct {
	disp *fakeDispatcher

	mu       sync.Mutex
	observer linkiface.LinkObserver

	flowCalls atomic.Int64
}

func newFakeLink(disp *fakeDispatcher) *fakeLink {
	return &fakeLink{disp: disp}
}

func (l *fakeLink) Open(_ linkiface.OpenArgs, observer linkiface.LinkObserver) error {
	l.mu.Lock()
	l.observer = observer
	l.mu.Unlock()

	_ = l.disp.Schedule(func() { observer.OnOpenComplete(nil) })
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	observer := l.observer
	l.mu.Unlock()

	if observer != nil {
		_ = l.disp.Schedule(func() { observer.OnClose(nil) })
	}
	return nil
}

func (l *fakeLink) Flow(int) { l.flowCalls.Add(1) }
func (l *fakeLink) Advance() {}
func (l *fakeLink) Name() string { return "fake-link" }

func (l *fakeLink) LocalState() linkiface.EndpointState  { return linkiface.StateActive }
func (l *fakeLink) RemoteState() linkiface.EndpointState { return linkiface.StateActive }
func (l *fakeLink) RemoteSource() linkiface.Source       { return linkiface.Source{} }
func (l *fakeLink) RemoteProperties() map[string]any      { return nil }

func (l *fakeLink) deliver(d *fakeDelivery) {
	l.mu.Lock()
	observer := l.observer
	l.mu.Unlock()

	_ = l.disp.Schedule(func() { observer.OnReceiveComplete(d) })
}

var _ linkiface.Receiver = (*fakeLink)(nil)

// fakeDelivery is always sender-settled, so the receiver auto-accepts
// and settles it on arrival — facade tests only care about dispatch and
// settlement calls made afterward (Complete/Abandon/...), not the
// unsettled disposition round trip already covered in package receiver.
type fakeDelivery struct {
	tag     []byte
	payload []byte
}

func (d *fakeDelivery) Tag() []byte         { return d.tag }
func (d *fakeDelivery) Payload() []byte     { return d.payload }
func (d *fakeDelivery) SenderSettled() bool { return true }
func (d *fakeDelivery) Disposition(linkiface.Outcome) error { return nil }
func (d *fakeDelivery) Settle() error                        { return nil }
func (d *fakeDelivery) RemoteOutcome() (linkiface.Outcome, bool) {
	return linkiface.Outcome{}, false
}

var _ linkiface.Delivery = (*fakeDelivery)(nil)

type fakeFactory struct {
	*fakeDispatcher
	newLink func(linkiface.LinkObserver) (linkiface.Receiver, error)
}

func (f *fakeFactory) RetryPolicy() linkiface.RetryPolicy { return noopRetryPolicy{} }
func (f *fakeFactory) OperationTimeout() time.Duration    { return 50 * time.Millisecond }
func (f *fakeFactory) Clock() linkiface.Clock             { return fakeClock{} }
func (f *fakeFactory) ClientID() string                   { return "facade-test-client" }
func (f *fakeFactory) HostName() string                   { return "facade-test-host" }

func (f *fakeFactory) CreateReceiverLink(observer linkiface.LinkObserver) (linkiface.Receiver, error) {
	return f.newLink(observer)
}

func (f *fakeFactory) CreateRequestResponseLink(string) (linkiface.RequestResponseLink, error) {
	return nil, fakeClosedError{}
}

var _ linkiface.Factory = (*fakeFactory)(nil)
