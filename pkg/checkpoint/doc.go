// Package checkpoint persists a snapshot of the running stream session.
//
// The snapshot records the current partition, the session counters, the
// backoff state and the active rules. It is rewritten atomically while the
// session runs and read back by the status command, so an operator can see
// what a detached or crashed process was doing. It is informational only:
// a new session never resumes from it.
//
// Snapshots default to the platform data directory:
//   - Linux: ~/.local/share/streamscraper/
//   - macOS: ~/Library/Application Support/streamscraper/
//   - Windows: %APPDATA%/streamscraper/
package checkpoint
