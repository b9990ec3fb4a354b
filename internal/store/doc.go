// Package store is the SQLite build ledger.
//
// Every build records the program name and hash, the requested target,
// the backend that won dispatch and one row per output file with its
// size and SHA-256. Records are append-only; writing an existing build
// ID is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: build_files rows cascade with their build
//
// Listings are ordered by created_at, then id, so two builds stamped
// with the same instant still come back in a stable order.
package store
