// SPDX-License-Identifier: MIT

// Package retry implements linkiface.RetryPolicy with a doubling,
// capped exponential backoff per client id.
package retry

import (
	"sync"
	"time"

	"github.com/arkveil/linkrecv/linkiface"
)

// TransientClassifier decides whether an error should be retried at
// all. The default treats an error as transient when it has a
// Transient() bool method that reports true (checked on the error
// itself, not on wrapped causes); callers with a richer broker error
// taxonomy can supply their own.
type TransientClassifier func(err error) bool

// ExponentialPolicy doubles its delay on every failed attempt for a
// given client id, up to maxDelay, resetting to minDelay once the
// caller reports forward progress.
type ExponentialPolicy struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	MaxRetries int
	IsTransientFunc TransientClassifier

	mu      sync.Mutex
	state   map[string]*backoffState
}

type backoffState struct {
	delay   time.Duration
	attempt int
}

// NewExponentialPolicy builds a policy with the given bounds. A
// maxRetries of 0 means unbounded (bounded only by the caller's
// remaining-time budget).
func NewExponentialPolicy(minDelay, maxDelay time.Duration, maxRetries int) *ExponentialPolicy {
	return &ExponentialPolicy{
		MinDelay:   minDelay,
		MaxDelay:   maxDelay,
		MaxRetries: maxRetries,
		state:      make(map[string]*backoffState),
	}
}

func (p *ExponentialPolicy) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if p.IsTransientFunc != nil {
		return p.IsTransientFunc(err)
	}
	type transient interface{ Transient() bool }
	if t, ok := err.(transient); ok {
		return t.Transient()
	}
	return false
}

// NextRetryInterval returns the next backoff delay for clientID, or
// (0, false) if the policy has exhausted its retry budget, the
// remaining time budget is non-positive, or err is not transient.
func (p *ExponentialPolicy) NextRetryInterval(clientID string, err error, remaining time.Duration) (time.Duration, bool) {
	if !p.IsTransient(err) {
		return 0, false
	}
	if remaining <= 0 {
		return 0, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.state[clientID]
	if !ok {
		st = &backoffState{delay: p.MinDelay}
		p.state[clientID] = st
	}

	if p.MaxRetries > 0 && st.attempt >= p.MaxRetries {
		return 0, false
	}

	delay := st.delay
	if delay > remaining {
		delay = remaining
	}

	st.attempt++
	st.delay *= 2
	if st.delay > p.MaxDelay {
		st.delay = p.MaxDelay
	}

	return delay, true
}

// ResetRetryCount clears backoff state for clientID, called whenever
// forward progress (a successful open or a fresh delivery) is observed.
func (p *ExponentialPolicy) ResetRetryCount(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.state, clientID)
}

var _ linkiface.RetryPolicy = (*ExponentialPolicy)(nil)
