// Package snapshot provides a pluggable, best-effort mirror of committed
// version entries for external readers (analytics jobs, cold-start
// warmers). It is never consulted by the core's read/upload/validate
// path — see DESIGN.md and SPEC_FULL.md's Non-goals.
package snapshot

import "github.com/bobboyms/txn-engine/pkg/version"

// Store is the capability set a caller dispatches against dynamically
// (spec §9 "dynamic dispatch over back ends"): mirror a committed or
// closed entry, and release whatever resources the implementation holds.
// Implementations must be safe for concurrent use.
type Store interface {
	// MirrorEntry records entry's current image under tableID. Called
	// only for entries that have left the UPLOADED_OPEN phase — callers
	// never mirror a version still owned by an in-flight transaction.
	MirrorEntry(tableID string, entry version.Entry) error

	// Close releases the store's resources. Safe to call once.
	Close() error
}
