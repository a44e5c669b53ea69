package version

import (
	"reflect"
	"sync"
	"testing"
)

func physicalMod(key RecordKey, n int) int {
	h := 0
	for _, b := range []byte(key) {
		h = h*31 + int(b)
	}
	if h < 0 {
		h = -h
	}
	return h % n
}

func TestTable_UploadThenGet(t *testing.T) {
	tbl := NewTable("orders", 4, physicalMod, "trace-1")

	list := tbl.InitializeAndGetVersionList("a")
	if len(list) != 1 || !list[0].IsSentinel() {
		t.Fatalf("expected a single sentinel entry, got %+v", list)
	}

	ok := tbl.UploadNewVersionEntry("a", 1, Entry{
		BeginTimestamp: PositiveInfinity,
		EndTimestamp:   PositiveInfinity,
		TxID:           7,
		Payload:        []byte("v1"),
	})
	if !ok {
		t.Fatal("expected upload to succeed on empty slot")
	}

	got, found := tbl.GetVersionEntryByKey("a", 1)
	if !found || string(got.Payload) != "v1" {
		t.Fatalf("expected to read back uploaded entry, got %+v found=%v", got, found)
	}
}

func TestTable_UploadConflict(t *testing.T) {
	tbl := NewTable("orders", 4, physicalMod, "trace-1")

	first := tbl.UploadNewVersionEntry("a", 1, Entry{EndTimestamp: PositiveInfinity, TxID: 1})
	second := tbl.UploadNewVersionEntry("a", 1, Entry{EndTimestamp: PositiveInfinity, TxID: 2})

	if !first || second {
		t.Fatalf("expected exactly one writer to win the slot, got first=%v second=%v", first, second)
	}
}

func TestTable_ReplaceVersionEntryCAS(t *testing.T) {
	tbl := NewTable("orders", 4, physicalMod, "trace-1")
	tbl.UploadNewVersionEntry("a", 1, Entry{BeginTimestamp: 0, EndTimestamp: PositiveInfinity, TxID: NoTx})

	// Correct CAS: current TxID == readTxID (NoTx) and EndTimestamp == expected (+inf).
	post, ok := tbl.ReplaceVersionEntry("a", 1, 0, 99, 5, NoTx, PositiveInfinity)
	if !ok || post.EndTimestamp != 99 || post.TxID != 5 {
		t.Fatalf("expected CAS to succeed and close the entry, got ok=%v post=%+v", ok, post)
	}

	// Stale CAS: expectedEndTs no longer matches (it's now 99, not +inf).
	_, ok = tbl.ReplaceVersionEntry("a", 1, 0, 200, 8, NoTx, PositiveInfinity)
	if ok {
		t.Fatal("expected stale CAS to be rejected")
	}
}

func TestTable_DeleteVersionEntryRollback(t *testing.T) {
	tbl := NewTable("orders", 4, physicalMod, "trace-1")

	// A pre-existing committed version, open-ended.
	tbl.UploadNewVersionEntry("a", 1, Entry{BeginTimestamp: 0, EndTimestamp: PositiveInfinity, TxID: NoTx})
	before := tbl.GetVersionList("a")

	// Upload phase: close the predecessor with T (=9) as an end-timestamp
	// placeholder, then upload the new provisional entry.
	if _, ok := tbl.ReplaceVersionEntry("a", 1, 0, 9, NoTx, NoTx, PositiveInfinity); !ok {
		t.Fatal("expected predecessor close CAS to succeed")
	}
	if ok := tbl.UploadNewVersionEntry("a", 2, Entry{BeginTimestamp: PositiveInfinity, EndTimestamp: PositiveInfinity, TxID: 9}); !ok {
		t.Fatal("expected new-version upload to succeed")
	}

	// Abort rollback: delete the new entry, reopen the predecessor.
	if removed := tbl.DeleteVersionEntry("a", 2); !removed {
		t.Fatal("expected delete to report removal")
	}
	if _, ok := tbl.ReplaceVersionEntry("a", 1, 0, PositiveInfinity, NoTx, NoTx, 9); !ok {
		t.Fatal("expected predecessor reopen CAS to succeed")
	}

	after := tbl.GetVersionList("a")
	if len(after) != len(before) {
		t.Fatalf("expected rollback to restore prior list length, before=%d after=%d", len(before), len(after))
	}
	if !reflect.DeepEqual(after[0], before[0]) {
		t.Fatalf("expected byte-for-byte restoration, before=%+v after=%+v", before[0], after[0])
	}
}

func TestTable_PartitionFIFO(t *testing.T) {
	tbl := NewTable("orders", 1, physicalMod, "trace-1")

	const n = 1000
	for i := int64(1); i <= n; i++ {
		ok := tbl.UploadNewVersionEntry("hot-key", i, Entry{EndTimestamp: PositiveInfinity, TxID: i})
		if !ok {
			t.Fatalf("upload %d should not conflict", i)
		}
	}

	list := tbl.GetVersionList("hot-key")
	if int64(len(list)) != n {
		t.Fatalf("expected %d entries, got %d", n, len(list))
	}
	for i, e := range list {
		if e.VersionKey != int64(i+1) {
			t.Fatalf("expected submission-order versionKeys, entry %d has versionKey %d", i, e.VersionKey)
		}
	}
}

func TestTable_ConcurrentUploadsDistinctKeysAllSucceed(t *testing.T) {
	tbl := NewTable("orders", 8, physicalMod, "trace-1")

	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := RecordKey(string(rune('a' + i%26)))
			tbl.UploadNewVersionEntry(key, int64(i/26)+1, Entry{EndTimestamp: PositiveInfinity, TxID: int64(i + 1)})
		}(i)
	}
	wg.Wait()

	total := 0
	for c := 'a'; c <= 'z'; c++ {
		total += len(tbl.GetVersionList(RecordKey(c)))
	}
	if total != n {
		t.Fatalf("expected %d total entries across keys, got %d", n, total)
	}
}

func TestTable_Clear(t *testing.T) {
	tbl := NewTable("orders", 2, physicalMod, "trace-1")
	tbl.UploadNewVersionEntry("a", 1, Entry{EndTimestamp: PositiveInfinity, TxID: 1})
	tbl.Clear()

	if list := tbl.GetVersionList("a"); len(list) != 0 {
		t.Fatalf("expected empty list after Clear, got %v", list)
	}
}

func TestTable_GetVersionEntryByKeyBatch(t *testing.T) {
	tbl := NewTable("orders", 4, physicalMod, "trace-1")
	tbl.UploadNewVersionEntry("a", 1, Entry{EndTimestamp: PositiveInfinity, TxID: 1, Payload: []byte("a1")})
	tbl.UploadNewVersionEntry("b", 1, Entry{EndTimestamp: PositiveInfinity, TxID: 2, Payload: []byte("b1")})

	out := tbl.GetVersionEntryByKeyBatch([]BatchKey{
		{RecordKey: "a", VersionKey: 1},
		{RecordKey: "b", VersionKey: 1},
		{RecordKey: "c", VersionKey: 1}, // not found
	})

	if len(out) != 2 {
		t.Fatalf("expected 2 found entries, got %d", len(out))
	}
	if string(out[BatchKey{"a", 1}].Payload) != "a1" {
		t.Fatalf("unexpected payload for a: %+v", out[BatchKey{"a", 1}])
	}
}

func TestTable_PartitionIndexFor(t *testing.T) {
	tbl := NewTable("orders", 4, physicalMod, "trace-1")

	for _, key := range []RecordKey{"alpha", "bravo", "charlie", "delta", "echo"} {
		want := physicalMod(key, 4)
		got := tbl.PartitionIndexFor(key)
		if got != want {
			t.Fatalf("PartitionIndexFor(%q) = %d, want %d", key, got, want)
		}
	}
}
