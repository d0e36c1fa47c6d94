// Package storage provides the durable key-value store tabsleep uses to
// shadow its timer registry across process restarts.
//
// Drivers:
//   - "memory": process-local map (tests, ephemeral runs)
//   - "file": snapshot + append-only journal (dependency-free)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
