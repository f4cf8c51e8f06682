// Package partition owns the on-disk representation of ingested records.
//
// Records are appended to one file per date key, named
// <dir>/<prefix><key><ext> (by default streaming_data--2006-01-02.json).
// The key is derived from the wall-clock time handed to Append, formatted
// in the writer's configured location.
//
// Features:
//   - Create-if-absent, append-only opens, so a restart on the same day
//     resumes the existing file rather than truncating it
//   - One write call per record, newline terminated
//   - Rollover detection with exactly one RolloverEvent per key transition
//   - Scanning of existing partitions (plain and zstd-archived)
//
// Usage:
//
//	w, err := partition.NewWriter(partition.Options{Dir: "data"})
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	event, err := w.Append(line, time.Now())
//	if event != nil && !event.Initial() {
//	    // previous day is complete
//	}
package partition
