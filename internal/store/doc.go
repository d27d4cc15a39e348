// Package store provides the durable key-value backends behind persisted state.
//
// Every backend satisfies Store: get, set and delete an opaque byte payload by
// string key. Callers own encoding; a store never inspects payloads.
//
// # Backends
//
//   - SQLite: single-file database, the default for the CLI
//   - Memory: process-local map, used by tests and the "memory" backend
//   - S3: one object per key under a bucket prefix
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Concurrent writes to the same key are last-writer-wins. No backend orders
// writes beyond what the underlying engine provides.
package store
