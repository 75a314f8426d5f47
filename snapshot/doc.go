// Package snapshot provides core.SnapshotStore implementations: a FileStore
// persisting each named snapshot as one JSON file written atomically via
// temp-file + rename, and a volatile MemoryStore for tests and ephemeral
// deployments.
package snapshot
