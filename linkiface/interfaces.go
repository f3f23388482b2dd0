// SPDX-License-Identifier: MIT

package linkiface

import (
	"context"
	"time"
)

// Delivery is an unsettled message transfer. The receiver retains it
// until the remote end reports a terminal outcome and local settlement
// is issued.
type Delivery interface {
	// Tag is the broker-assigned delivery-tag, unique within the link
	// session. Treated as an opaque byte string.
	Tag() []byte

	// Payload is the fully received, not-yet-decoded message bytes.
	Payload() []byte

	// SenderSettled reports whether the sender already considers this
	// delivery settled (sender settle-mode SETTLED).
	SenderSettled() bool

	// Disposition sends an outcome for this delivery. It does not settle
	// locally; callers settle explicitly once the outcome is final.
	Disposition(Outcome) error

	// Settle marks the delivery complete locally. Calling Settle more
	// than once on the same Delivery is a caller bug; implementations
	// may no-op or error on a second call.
	Settle() error

	// RemoteOutcome returns the remote terminal state attached to this
	// delivery, if any has arrived yet.
	RemoteOutcome() (Outcome, bool)
}

// LinkObserver receives link lifecycle and delivery events. The receiver
// implements this; the link holds only a reference to it, never the
// reverse — so the two never form a true reference cycle in Go, but the
// split still exists to keep the link layer ignorant of receiver state.
type LinkObserver interface {
	// OnOpenComplete is called once with nil on a successful open, or
	// with the terminal error otherwise.
	OnOpenComplete(err error)

	// OnReceiveComplete is called for every delivery event: a brand-new
	// delivery, or a previously-registered delivery that just received a
	// terminal remote outcome. The observer tells the two apart by
	// whether it already has the tag registered.
	OnReceiveComplete(d Delivery)

	// OnError is called on a link-level error, transient or not.
	OnError(err error)

	// OnClose is called once the link has fully closed, carrying the
	// triggering condition if the close was remote-initiated.
	OnClose(cond *ErrorCondition)
}

// Receiver is a single AMQP receive link.
type Receiver interface {
	Open(args OpenArgs, observer LinkObserver) error
	Close() error

	// Flow issues additional link credit. Implementations accumulate
	// nothing themselves — batching is the credit controller's job.
	Flow(credits int)

	// Advance moves the link's read cursor past the delivery just
	// decoded. Only meaningful for unsettled deliveries.
	Advance()

	Name() string
	LocalState() EndpointState
	RemoteState() EndpointState
	RemoteSource() Source
	RemoteProperties() map[string]any
}

// RequestResponseLink is the paired control link used for management
// operations (lock renewal, peek, session state,...).
type RequestResponseLink interface {
	Request(ctx context.Context, req RequestMessage, timeout time.Duration) (ResponseMessage, error)
	Close() error
}

// Dispatcher submits a closure to the single-threaded reactor thread.
// All link-touching operations must run there.
type Dispatcher interface {
	Schedule(fn func()) error

	// ScheduleAfter runs fn on the reactor thread after d elapses. The
	// returned cancel stops fn from running if called before it fires;
	// it is always non-nil when err is nil.
	ScheduleAfter(d time.Duration, fn func()) (cancel func(), err error)
}

// RetryPolicy decides whether and how long to wait before retrying a
// failed operation.
type RetryPolicy interface {
	// NextRetryInterval returns the interval to wait before retrying,
	// and false if the policy has given up (budget exhausted or the
	// error is not retryable).
	NextRetryInterval(clientID string, err error, remaining time.Duration) (time.Duration, bool)

	// ResetRetryCount clears accumulated backoff state for clientID,
	// called whenever forward progress is observed.
	ResetRetryCount(clientID string)

	// IsTransient classifies err as retryable (link-level) or fatal.
	IsTransient(err error) bool
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Factory is the out-of-scope owner of the underlying transport: it
// multiplexes the reactor thread and supplies the collaborators a
// receiver needs to create links and manage retries.
type Factory interface {
	Dispatcher

	RetryPolicy() RetryPolicy
	OperationTimeout() time.Duration
	Clock() Clock
	ClientID() string
	HostName() string

	// CreateReceiverLink constructs a new, unopened receive link bound
	// to observer. Called once up front and again on every reattach.
	CreateReceiverLink(observer LinkObserver) (Receiver, error)

	// CreateRequestResponseLink constructs the management control link
	// for path. Called lazily, once, under a mutex.
	CreateRequestResponseLink(path string) (RequestResponseLink, error)
}
