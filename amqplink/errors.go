// SPDX-License-Identifier: MIT

package amqplink

// ConnectionConfigEmptyError is returned when NewFactory is given a
// ConnectionConfig with no host.
type ConnectionConfigEmptyError struct{}

func (ConnectionConfigEmptyError) Error() string {
	return "empty connection config passed, unable to dial"
}

// ReactorClosedError is returned by Schedule/ScheduleAfter once the
// reactor has been closed.
type ReactorClosedError struct{}

func (ReactorClosedError) Error() string {
	return "reactor closed, unable to schedule"
}
