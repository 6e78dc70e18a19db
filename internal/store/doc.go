// Package store exports the engine's flow logs to a SQLite audit database.
//
// The store is write-only from the engine's point of view: the engine never
// reads a log back. Two tables:
//   - records: every appended action record
//   - firings: every effect a rule emitted, with the record it produced
//
// # Ordering
//
// Reads order by seq ASC, id ASC COLLATE BINARY. Seq is the engine's logical
// clock; wall time is stored for display only.
//
// # Payloads
//
// Inputs and outputs are stored as display JSON (bytes as base64, handles as
// {"$ref": "kind:id"}). Byte values longer than MaxInlineBytes are replaced
// by a "[N bytes]" placeholder so image payloads do not bloat the trace.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
