// Package queue persists chapter translation jobs in SQLite and exposes
// helpers for driving their lifecycle.
//
// The Store manages database connections, embedded migrations, stats queries,
// heartbeat tracking, and stuck-job recovery. Jobs capture the book, source
// file, model spec, and queue position so a run can resume exactly where it
// stopped after a crash or interrupt.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new statuses or fields, add a migration under migrations/.
package queue
