// Package clock provides an injectable time source so timeout logic can be
// driven deterministically in tests.
//
// Production code uses Real(). Tests use Fake() and move time forward
// explicitly with Advance:
//
//	c := clock.Fake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
//	r := newResolver(c)
//	c.Advance(3 * time.Second) // fires any timer that is due
package clock

import "time"

// Clock abstracts the parts of the time package used by timeout code.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once duration d has elapsed. The returned Timer
	// can cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
