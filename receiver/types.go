// SPDX-License-Identifier: MIT

package receiver

import (
	"time"

	"github.com/google/uuid"
)

// MessageWithTag is an opaque decoded message payload paired with its
// immutable delivery-tag. It is created when a delivery finishes
// receiving and destroyed once it leaves the prefetch queue into the
// caller.
type MessageWithTag struct {
	Payload     []byte
	ContentType string
	Tag         []byte
}

// MessageWithLockToken is returned by management receive-by-sequence
// and mirrors the tag-based message for lock-token based settlement.
type MessageWithLockToken struct {
	Payload   []byte
	LockToken uuid.UUID
}

// SessionState is the binary session-state blob; nil is a valid,
// distinct state from an empty slice.
type SessionState []byte

// DispositionStatus names the four lock-token based disposition
// operations exposed over the management link.
type DispositionStatus string

const (
	DispositionCompleted DispositionStatus = "completed"
	DispositionAbandoned DispositionStatus = "abandoned"
	DispositionDeferred  DispositionStatus = "deferred"
	DispositionSuspended DispositionStatus = "suspended" // dead-letter
)

// ErrorContext is the error-context snapshot returned by
// Receiver.ErrorContext; errors raised on this receiver do not carry it.
// LinkCredit is always nil: the receiver does not track outstanding link
// credit.
type ErrorContext struct {
	HostName     string
	ReceivePath  string
	ReferenceID  string
	PrefetchCount *int
	LinkCredit    *int
	PrefetchDepth *int
}

// Config configures a Receiver at construction time, following the
// same plain-struct-with-tags convention as amqplink.ConnectionConfig.
type Config struct {
	Name             string        `env:"NAME" yaml:"name"`
	ReceivePath      string        `env:"PATH" yaml:"path"`
	PrefetchCount    int           `env:"PREFETCH" yaml:"prefetch"`
	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT" yaml:"operation_timeout"`
	SenderSettled    bool          `env:"SENDER_SETTLED" yaml:"sender_settled"`
	ReceiverSettled  bool          `env:"RECEIVER_SETTLED" yaml:"receiver_settled"`

	// SessionID and Browsable only apply when opened via OpenSession.
	SessionID string `env:"SESSION_ID" yaml:"session_id"`
	Browsable bool   `env:"BROWSABLE" yaml:"browsable"`
}
