// Package driver provides graph storage backend implementations for memoria.
//
// This package defines the GraphBackend interface and provides two
// implementations with identical observable behavior: an in-memory backend
// for tests and ephemeral workloads, and a SQLite backend for durable
// single-node deployments.
//
// # Backends
//
//   - MemoryBackend: map-based tables guarded by per-table RWMutexes, no
//     persistence
//   - SQLiteBackend: normalized three-table schema with foreign-key
//     cascades, WAL journaling, a single connection behind one lock
//
// # Usage
//
// Create a backend using the appropriate constructor:
//
//	// In-memory
//	backend := driver.NewMemoryBackend(logger)
//
//	// SQLite
//	backend, err := driver.NewSQLiteBackend(dbPath, logger)
//
// # Thread Safety
//
// Both backends are safe for concurrent use from multiple goroutines. Every
// value crossing the API boundary is deep-copied, so callers can never mutate
// stored state through a returned pointer.
//
// # Error Handling
//
// All failures are reported as *OpError wrapping the operation name and the
// underlying cause. Point lookups of absent records return nil without an
// error; operations that target a record that must exist report a miss as an
// error.
package driver
