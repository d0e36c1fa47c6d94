// Package timer owns the per-tab sleep timers.
//
// The Registry is the single source of truth while the process is alive.
// A shadow copy (end times only) is written to the durable store after
// every mutation and read back exactly once at startup by Restore.
//
// # Consistency
//
// Actuator calls are never made while the registry lock is held. Callers
// that act on an entry in several steps (the scheduler loop) take a View,
// do their side effects, and commit with the View's generation; a commit
// against an entry that was replaced, extended, or removed in the meantime
// is rejected.
//
// # Persistence
//
// Every write serializes the registry as it is at write time, and at most one
// write is in flight. Concurrent Flush calls coalesce: a caller whose
// request is already covered by a newer write returns without writing.
package timer
