// Package clock provides an injectable time source so that partition
// rollover and backoff sleeps can be driven deterministically in tests.
//
// Production code uses Real(). Tests use Fake(), advance it explicitly and
// use WaitForTimers to synchronize with goroutines that are sleeping.
package clock

import "time"

// Clock abstracts the time operations used by the stream session
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// After returns a channel that receives once d has elapsed.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
