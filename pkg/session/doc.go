// Package session runs the stream: it registers the filter rules, keeps a
// connection to the upstream open, persists every record to the current
// partition and reacts to connection failures through the backoff
// controller.
//
// The read loop is single-threaded. It owns the counters, the partition
// writer and the backoff controller; observers receive copies of the
// counters with every event. A rollover to a new date key sends the daily
// summary for the day that just ended before the counters for the new day
// start. Rate limits raise an operator warning carrying the number of
// consecutive rate-limit events, then the loop sleeps until the controller's
// deadline and reconnects. Cancelling the context ends the run cleanly.
package session
