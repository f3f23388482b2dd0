// SPDX-License-Identifier: MIT

package receiver

import "time"

// scheduleOnReactor submits fn to the reactor thread, translating a
// scheduling failure into the public SchedulingFailureError.
func (r *Receiver) scheduleOnReactor(op string, fn func()) error {
	if err := r.factory.Schedule(fn); err != nil {
		return SchedulingFailureError{Op: op, Cause: err}
	}

	return nil
}

// scheduleOnReactorAfter is the delayed counterpart, used for open/close
// timeouts, receive timeouts, and disposition retries.
func (r *Receiver) scheduleOnReactorAfter(op string, d time.Duration, fn func()) (func(), error) {
	cancel, err := r.factory.ScheduleAfter(d, fn)
	if err != nil {
		return nil, SchedulingFailureError{Op: op, Cause: err}
	}

	return cancel, nil
}
