// Package upstream talks to the vendor streaming API.
//
// Client opens long-lived HTTP connections that deliver newline-delimited
// records and manages the server-side filter rules. Two modes exist:
//
//   - v2: rules live on the server and are registered through the rules
//     endpoint before the stream is opened
//   - v1: rules travel with each connection as a comma separated track
//     parameter and registration is a no-op
//
// Every failure is returned as a *errors.Error so the session can classify
// it: 420/429 carry the vendor's reset time, 401/403 are auth failures,
// other 4xx are invalid requests, 5xx are server errors and transport
// failures, disconnects and stalls are network errors.
package upstream
