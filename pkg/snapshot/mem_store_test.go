package snapshot

import (
	"testing"

	"github.com/bobboyms/txn-engine/pkg/version"
)

func TestMemStore_MirrorEntryIsNoop(t *testing.T) {
	s := NewMemStore()
	entry := version.Entry{RecordKey: "a", VersionKey: 1, Payload: []byte("v1")}
	if err := s.MirrorEntry("orders", entry); err != nil {
		t.Fatalf("expected MemStore.MirrorEntry to never fail, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expected MemStore.Close to never fail, got %v", err)
	}
}
