package core

// SnapshotStore persists named JSON snapshots as whole documents. Writes
// replace the previous snapshot atomically; readers never observe a partial
// document.
//
// Persistence is an availability-over-durability collaborator: managers treat
// write failures as log-and-continue, with in-memory state remaining
// authoritative.
type SnapshotStore interface {
	// Read unmarshals the named snapshot into v. The boolean reports whether
	// the snapshot existed; a missing snapshot is not an error.
	Read(name string, v any) (bool, error)

	// Write marshals v and atomically replaces the named snapshot.
	Write(name string, v any) error
}
