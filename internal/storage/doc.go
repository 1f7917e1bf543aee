// Package storage persists scheduler samples and workload run summaries.
//
// Backends:
//   - "file": JSON Lines files next to the configured path
//   - "sqlite": SQLite database (build with -tags sqlite)
package storage
