package executor

import (
	"reflect"
	"testing"
	"time"

	"github.com/bobboyms/txn-engine/pkg/version"
	"github.com/bobboyms/txn-engine/pkg/versiondb"
)

// recordingMirror is a snapshot.Store test double that signals on a
// channel so tests can wait for the executor's fire-and-forget mirror
// goroutine without sleeping arbitrarily.
type recordingMirror struct {
	mirrored chan version.Entry
}

func newRecordingMirror() *recordingMirror {
	return &recordingMirror{mirrored: make(chan version.Entry, 8)}
}

func (m *recordingMirror) MirrorEntry(tableID string, entry version.Entry) error {
	m.mirrored <- entry
	return nil
}

func (m *recordingMirror) Close() error { return nil }

func newBuilder() *Builder {
	return NewBuilder(versiondb.DefaultOptions(), nil)
}

// Scenario 1: insert then read (spec §8).
func TestExecutor_InsertThenRead(t *testing.T) {
	b := newBuilder()
	b.DB().CreateVersionTable("orders")

	reader := b.NewExecutor("w0", nil, nil)
	reader.Begin()
	if _, found, err := reader.Read("orders", "a"); err != nil || found {
		t.Fatalf("expected not-found on an empty table, got found=%v err=%v", found, err)
	}

	writer := b.NewExecutor("w1", nil, nil)
	writer.Begin()
	if err := writer.Insert("orders", "a", []byte("1")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	status, err := writer.Commit()
	if err != nil || status != Committed {
		t.Fatalf("expected commit, got status=%v err=%v", status, err)
	}

	reader2 := b.NewExecutor("w2", nil, nil)
	reader2.Begin()
	val, found, err := reader2.Read("orders", "a")
	if err != nil || !found || string(val) != "1" {
		t.Fatalf("expected to read back \"1\", got val=%q found=%v err=%v", val, found, err)
	}
}

// Scenario 2: overlapping writers, one wins (spec §8).
func TestExecutor_OverlappingInsertsOneWins(t *testing.T) {
	b := newBuilder()
	b.DB().CreateVersionTable("orders")

	e1 := b.NewExecutor("w1", nil, nil)
	e2 := b.NewExecutor("w2", nil, nil)
	e1.Begin()
	e2.Begin()

	if err := e1.Insert("orders", "a", []byte("from-1")); err != nil {
		t.Fatal(err)
	}
	if err := e2.Insert("orders", "a", []byte("from-2")); err != nil {
		t.Fatal(err)
	}

	s1, _ := e1.Commit()
	s2, _ := e2.Commit()

	if s1 == s2 {
		t.Fatalf("expected exactly one writer to commit, got s1=%v s2=%v", s1, s2)
	}

	table, _ := b.DB().GetTable("orders")
	list := table.GetVersionList("a")
	committedCount := 0
	for _, e := range list {
		if e.TxID == version.NoTx && !e.IsSentinel() {
			committedCount++
		}
	}
	if committedCount != 1 {
		t.Fatalf("expected exactly one committed entry, got %d (list=%+v)", committedCount, list)
	}
}

// Scenario 3: update + reader starvation avoided (spec §8).
func TestExecutor_ReaderDoesNotBlockOnOngoingWriter(t *testing.T) {
	b := newBuilder()
	b.DB().CreateVersionTable("orders")

	setup := b.NewExecutor("setup", nil, nil)
	setup.Begin()
	setup.Insert("orders", "a", []byte("v0"))
	if status, _ := setup.Commit(); status != Committed {
		t.Fatal("setup insert should commit")
	}

	writer := b.NewExecutor("w1", nil, nil)
	writer.Begin()
	if err := writer.Write("orders", "a", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	// writer is still ONGOING: no Commit() yet.

	reader := b.NewExecutor("w2", nil, nil)
	reader.Begin()
	val, found, err := reader.Read("orders", "a")
	if err != nil || !found || string(val) != "v0" {
		t.Fatalf("expected reader to observe v0 regardless of writer's pending outcome, got val=%q found=%v err=%v", val, found, err)
	}

	if status, _ := writer.Commit(); status != Committed {
		t.Fatal("expected writer to commit cleanly (no conflicting writers)")
	}
}

// A committed write is mirrored to the attached snapshot.Store without
// the caller's Commit() having to wait on it.
func TestExecutor_CommitMirrorsToAttachedStore(t *testing.T) {
	b := newBuilder()
	b.DB().CreateVersionTable("orders")

	mirror := newRecordingMirror()
	writer := b.NewExecutor("w1", nil, nil)
	writer.SetMirrorStore(mirror)

	writer.Begin()
	if err := writer.Insert("orders", "a", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if status, err := writer.Commit(); status != Committed || err != nil {
		t.Fatalf("expected commit, got status=%v err=%v", status, err)
	}

	select {
	case entry := <-mirror.mirrored:
		if string(entry.Payload) != "v1" {
			t.Fatalf("expected mirrored payload \"v1\", got %q", entry.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the committed entry to be mirrored")
	}
}

// Scenario 5: "T1 inserts k and closes predecessor, then aborts" restores
// the version list byte-for-byte (spec §8).
func TestExecutor_AbortRollbackRestoresVersionList(t *testing.T) {
	b := newBuilder()
	b.DB().CreateVersionTable("orders")

	setup := b.NewExecutor("setup", nil, nil)
	setup.Begin()
	setup.Insert("orders", "a", []byte("v0"))
	setup.Commit()

	table, _ := b.DB().GetTable("orders")
	before := table.GetVersionList("a")

	t1 := b.NewExecutor("t1", nil, nil)
	t1.Begin()
	if err := t1.Write("orders", "a", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if aborted, err := t1.upload(); aborted || err != nil {
		t.Fatalf("expected t1 to close the predecessor cleanly, aborted=%v err=%v", aborted, err)
	}

	b.DB().TxTable().UpdateTxStatus(t1.txID, txStatusFor(Aborted))
	t1.postProcessAbort()

	after := table.GetVersionList("a")
	if len(after) != len(before) {
		t.Fatalf("expected rollback to restore prior list length, before=%d after=%d", len(before), len(after))
	}
	for i := range before {
		if !reflect.DeepEqual(after[i], before[i]) {
			t.Fatalf("expected byte-for-byte restoration at index %d, before=%+v after=%+v", i, before[i], after[i])
		}
	}
}

// Scenario 4: MaxCommitTs push / anti-dependency abort (spec §8). A
// transaction that read a version which a concurrent transaction then
// supersedes (commits a newer version into the gap) must abort at
// validate time rather than commit a stale read.
func TestExecutor_AntiDependencyAbortOnSupersededRead(t *testing.T) {
	b := newBuilder()
	b.DB().CreateVersionTable("orders")

	setup := b.NewExecutor("setup", nil, nil)
	setup.Begin()
	setup.Insert("orders", "a", []byte("v0"))
	setup.Commit()

	t1 := b.NewExecutor("t1", nil, nil)
	t1.Begin()
	if _, found, err := t1.Read("orders", "a"); err != nil || !found {
		t.Fatalf("expected t1 to observe v0, found=%v err=%v", found, err)
	}

	// t2 commits a newer version of "a" entirely between t1's read and
	// t1's own validate call.
	t2 := b.NewExecutor("t2", nil, nil)
	t2.Begin()
	t2.Write("orders", "a", []byte("v2"))
	if status, err := t2.Commit(); status != Committed || err != nil {
		t.Fatalf("expected t2 to commit cleanly, status=%v err=%v", status, err)
	}

	// Force t1's own proposal comfortably past t2's commitTime so the
	// anti-dependency check is exercised deterministically regardless of
	// how the two transactions' independently-derived proposals compare.
	b.DB().TxTable().UpdateCommitLowerBound(t1.txID, t2.commitTime+10)

	ok, err := t1.validate()
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if ok {
		t.Fatal("expected t1 to abort: its read of \"a\" was superseded by t2's commit")
	}
}
