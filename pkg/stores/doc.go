// Package stores persists macforge state.
//
// Two stores live side by side in the state directory:
//
//   - FileStore holds the setup session: detected environment facts as
//     key=value pairs in session.env and the ordered list of completed
//     modules in completed. Both are rewritten atomically (temp file then
//     rename) after every module completion, and are only read back when
//     owned by the invoking user.
//   - SQLiteStore keeps the run history: pipeline runs, per-module results,
//     the event log, verification passes and their check results, and the
//     environment facts observed on each run. It runs in WAL mode and
//     migrates its schema from embedded SQL files.
//
// The session is what resume decisions are based on; the history is for
// reporting only and is never consulted by the pipeline.
package stores
