package snapshot

import "github.com/bobboyms/txn-engine/pkg/version"

// MemStore is the no-op Store: it discards every mirrored entry. It is
// an explicit zero-config option for callers with no durability
// requirement at all; an Executor with no store attached does not
// mirror at all.
type MemStore struct{}

// NewMemStore returns a Store that discards everything it is given.
func NewMemStore() *MemStore { return &MemStore{} }

func (m *MemStore) MirrorEntry(tableID string, entry version.Entry) error {
	return nil
}

func (m *MemStore) Close() error { return nil }
