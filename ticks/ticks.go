// SPDX-License-Identifier: MIT

// Package ticks converts between the broker's platform-specific tick
// encoding (.NET ticks: 100-nanosecond intervals since 0001-01-01) and
// time.Time, and provides the small real-clock and timeout-tracker
// collaborators the receiver needs.
package ticks

import (
	"time"

	"github.com/arkveil/linkrecv/linkiface"
)

// unixEpochTicks is the .NET tick count at 1970-01-01T00:00:00Z. Every
// conversion goes through the Unix epoch rather than the .NET epoch
// (0001-01-01) directly: a realistic tick value is ~2000 years past the
// .NET epoch, and computing through it overflows int64 nanoseconds
// (time.Duration's ~292-year range) long before reaching any date this
// module actually decodes (session/message lock expirations, always
// within minutes of now).
const unixEpochTicks = 621355968000000000

// ToTime converts a .NET tick count into a UTC time.Time.
func ToTime(dotnetTicks int64) time.Time {
	unixTicks := dotnetTicks - unixEpochTicks
	return time.Unix(0, unixTicks*100).UTC()
}

// FromTime converts a UTC time.Time into a .NET tick count.
func FromTime(t time.Time) int64 {
	return unixEpochTicks + t.UTC().UnixNano()/100
}

// RealClock implements linkiface.Clock with time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

var _ linkiface.Clock = RealClock{}

// Tracker tracks a deadline relative to a Clock, used wherever an
// operation needs to know how much of its timeout budget is left.
type Tracker struct {
	clock    linkiface.Clock
	deadline time.Time
}

// NewTracker starts a tracker that expires after d.
func NewTracker(clock linkiface.Clock, d time.Duration) Tracker {
	if clock == nil {
		clock = RealClock{}
	}
	return Tracker{clock: clock, deadline: clock.Now().Add(d)}
}

// Remaining returns the time left before the deadline, zero or negative
// once expired.
func (t Tracker) Remaining() time.Duration {
	return t.deadline.Sub(t.clock.Now())
}

// Expired reports whether the deadline has passed.
func (t Tracker) Expired() bool {
	return t.Remaining() <= 0
}

// Deadline returns the absolute deadline.
func (t Tracker) Deadline() time.Time {
	return t.deadline
}
