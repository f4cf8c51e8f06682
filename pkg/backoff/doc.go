// Package backoff decides how long the stream session waits after an error.
//
// Controller is a small state machine (Healthy, Throttled, Cooling) fed with
// classified errors:
//   - rate limited: alert, cool down for the rate-limit delay plus a safety
//     buffer, or until a vendor reset time when one is signaled
//   - transient: cool down silently for the short delay
//   - fatal: terminate
//
// Delays come from pluggable strategies (constant, linear, exponential with
// jitter) and are capped by Policy.MaxDelay. Retry wraps one-shot calls such
// as rule registration with the same strategies.
package backoff
