// Package ratelimit provides the limiters used to pace calls to the rule
// management endpoint and to throttle operational notifications.
//
// Token Bucket:
//   - Fixed capacity bucket that refills after a specified period
//   - Paces bursts of rule management requests
//
// Sliding Window:
//   - At most N events within any moving window
//   - Caps notifications per hour
//
// Both take an injectable clock and a context-aware Wait.
//
// Usage:
//
//	limiter := ratelimit.NewSlidingWindow(12, time.Hour)
//	if limiter.Allow() {
//	    send()
//	}
//
//	if err := bucket.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
