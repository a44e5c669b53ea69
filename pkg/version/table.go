package version

import (
	"sync"

	coreerrors "github.com/bobboyms/txn-engine/pkg/errors"
)

// BatchKey identifies one (recordKey, versionKey) slot for the batch read
// form of GetVersionEntryByKey.
type BatchKey struct {
	RecordKey  RecordKey
	VersionKey int64
}

// opKind tags the operation a request carries.
type opKind int

const (
	opGetList opKind = iota
	opInitList
	opUpload
	opReplace
	opReplaceWhole
	opUpdateMaxCommitTs
	opGetByKey
	opGetByKeyBatch
	opDelete
	opClear
)

// request is one reified VersionEntryRequest (spec §4.2): an operation
// plus its arguments, enqueued onto a partition and resolved by that
// partition's visitor.
type request struct {
	kind opKind

	recordKey  RecordKey
	versionKey int64
	entry      Entry

	// ReplaceVersionEntry arguments.
	beginTs, endTs, txID, readTxID, expectedEndTs int64

	// UpdateVersionMaxCommitTs argument.
	ts int64

	// GetVersionEntryByKey(batch) argument. Batches are split per partition
	// by the Table before being enqueued, so each partition's request holds
	// only that partition's keys (see GetVersionEntryByKeyBatch).
	batchKeys []BatchKey

	resultCh chan result
}

// result is the visitor's answer to one request.
type result struct {
	list    []Entry
	entry   Entry
	found   bool
	ok      bool
	batch   map[BatchKey]Entry
}

// partition owns one shard of a VersionTable's key space: its own request
// queue, flush queue, lock, and lists. Per spec §4.2 it is the unit of
// serialization — all operations on a given key land on the same
// partition and are therefore strictly ordered with respect to each other.
type partition struct {
	mu           sync.Mutex // guards requestQueue; spec's "spin lock" (see DESIGN.md)
	requestQueue []*request

	visiting sync.Mutex // held by whichever goroutine is currently the visitor

	lists map[RecordKey]*List

	depth int // approximate queue depth, for metrics/backpressure introspection
}

func newPartition() *partition {
	return &partition{lists: make(map[RecordKey]*List)}
}

// enqueue pushes req onto the request queue under the partition lock.
func (p *partition) enqueue(req *request) {
	p.mu.Lock()
	p.requestQueue = append(p.requestQueue, req)
	p.depth = len(p.requestQueue)
	p.mu.Unlock()
}

// queueDepth reports the last observed request queue length. Best-effort;
// racy by design, intended for metrics only.
func (p *partition) queueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.depth
}

// drain implements the cooperative-visitor mode spec §4.2 allows as an
// alternative to a dedicated partition worker goroutine: the first caller
// to observe the visiting lock free becomes the visitor for every request
// currently queued, including requests enqueued by other goroutines while
// it works, until the queue runs dry. Callers that lose the race to become
// the visitor simply return — their own request is guaranteed to be
// picked up by the active visitor's loop, since that loop only stops once
// the request queue it observes is empty, and which re-checks the queue
// after releasing the visiting lock.
func (p *partition) drain() {
	for {
		if !p.visiting.TryLock() {
			return
		}
		for {
			p.mu.Lock()
			if len(p.requestQueue) == 0 {
				p.depth = 0
				p.mu.Unlock()
				break
			}
			flush := p.requestQueue
			p.requestQueue = nil
			p.depth = 0
			p.mu.Unlock()

			for _, req := range flush {
				req.resultCh <- p.visit(req)
			}
		}
		p.visiting.Unlock()

		p.mu.Lock()
		pending := len(p.requestQueue) > 0
		p.mu.Unlock()
		if !pending {
			return
		}
	}
}

// visit is the single-threaded mutator: the only code in the package that
// ever reads or writes partition.lists directly.
func (p *partition) visit(req *request) result {
	switch req.kind {
	case opGetList:
		list, ok := p.lists[req.recordKey]
		if !ok {
			return result{list: nil}
		}
		return result{list: list.Snapshot()}

	case opInitList:
		list, ok := p.lists[req.recordKey]
		if !ok {
			list = newList()
			p.lists[req.recordKey] = list
		}
		list.ensureSentinel(req.recordKey)
		return result{list: list.Snapshot()}

	case opUpload:
		list, ok := p.lists[req.recordKey]
		if !ok {
			list = newList()
			p.lists[req.recordKey] = list
		}
		if list.find(req.versionKey) != -1 {
			return result{ok: false}
		}
		list.insert(req.entry)
		return result{ok: true, entry: req.entry}

	case opReplace:
		list, ok := p.lists[req.recordKey]
		if !ok {
			return result{ok: false}
		}
		i := list.find(req.versionKey)
		if i == -1 {
			return result{ok: false}
		}
		current := list.entries[i]
		if current.TxID != req.readTxID || current.EndTimestamp != req.expectedEndTs {
			return result{ok: false, entry: current}
		}
		next := current
		next.BeginTimestamp = req.beginTs
		next.EndTimestamp = req.endTs
		next.TxID = req.txID
		list.replaceAt(i, next)
		return result{ok: true, entry: next}

	case opReplaceWhole:
		list, ok := p.lists[req.recordKey]
		if !ok {
			return result{ok: false}
		}
		i := list.find(req.versionKey)
		if i == -1 {
			return result{ok: false}
		}
		list.replaceAt(i, req.entry)
		return result{ok: true, entry: req.entry}

	case opUpdateMaxCommitTs:
		list, ok := p.lists[req.recordKey]
		if !ok {
			return result{ok: false}
		}
		i := list.find(req.versionKey)
		if i == -1 {
			return result{ok: false}
		}
		e := list.entries[i]
		if req.ts > e.MaxCommitTs {
			e.MaxCommitTs = req.ts
			list.replaceAt(i, e)
		}
		return result{ok: true, entry: e}

	case opGetByKey:
		list, ok := p.lists[req.recordKey]
		if !ok {
			return result{found: false}
		}
		i := list.find(req.versionKey)
		if i == -1 {
			return result{found: false}
		}
		return result{found: true, entry: list.entries[i]}

	case opGetByKeyBatch:
		out := make(map[BatchKey]Entry, len(req.batchKeys))
		for _, bk := range req.batchKeys {
			list, ok := p.lists[bk.RecordKey]
			if !ok {
				continue
			}
			if i := list.find(bk.VersionKey); i != -1 {
				out[bk] = list.entries[i]
			}
		}
		return result{batch: out}

	case opDelete:
		list, ok := p.lists[req.recordKey]
		if !ok {
			return result{ok: false}
		}
		i := list.find(req.versionKey)
		if i == -1 {
			return result{ok: false}
		}
		list.removeAt(i)
		return result{ok: true}

	case opClear:
		for _, list := range p.lists {
			list.clear()
		}
		p.lists = make(map[RecordKey]*List)
		return result{ok: true}

	default:
		return result{}
	}
}

// Table is the storage for the version chains of one relation (spec §4.2):
// storage for every key's version list, partitioned into P independent
// shards, each serializing its own operations.
//
// Table deliberately does not hold a pointer back to its owning VersionDb
// — §9's cyclic-ownership note resolves that by having VersionDb own
// Tables and Tables carry only an opaque identifier of their owner, never
// a live reference back into it.
type Table struct {
	TableID     string
	ownerTraceID string

	partitionFn func(RecordKey, int) int
	partitions  []*partition
}

// NewTable installs a Table with the given partition count and physical
// partition function. ownerTraceID is the owning VersionDb's opaque trace
// id, recorded for diagnostics only.
func NewTable(tableID string, partitionCount int, partitionFn func(RecordKey, int) int, ownerTraceID string) *Table {
	if partitionCount < 1 {
		partitionCount = 1
	}
	t := &Table{
		TableID:      tableID,
		ownerTraceID: ownerTraceID,
		partitionFn:  partitionFn,
		partitions:   make([]*partition, partitionCount),
	}
	for i := range t.partitions {
		t.partitions[i] = newPartition()
	}
	return t
}

// PartitionCount returns the number of partitions this table was built with.
func (t *Table) PartitionCount() int { return len(t.partitions) }

// PartitionQueueDepth reports the current backlog on the partition that
// owns key — a supplemented introspection operation (see SPEC_FULL.md)
// whose value a caller can pass to metrics.Recorder.SetPartitionQueueDepth
// to surface backpressure.
func (t *Table) PartitionQueueDepth(key RecordKey) int {
	return t.partitionFor(key).queueDepth()
}

// PartitionIndexFor reports which partition owns key, so a caller that
// wants to label a queue-depth gauge by partition doesn't have to
// recompute the partition function itself.
func (t *Table) PartitionIndexFor(key RecordKey) int {
	return t.partitionFn(key, len(t.partitions))
}

func (t *Table) partitionFor(key RecordKey) *partition {
	idx := t.partitionFn(key, len(t.partitions))
	return t.partitions[idx]
}

// submit enqueues req onto the partition owning req.recordKey, nudges the
// cooperative visitor, and blocks for this request's own result — §5's
// "operations are synchronous from the caller's perspective".
func (t *Table) submit(req *request) result {
	p := t.partitionFor(req.recordKey)
	req.resultCh = make(chan result, 1)
	p.enqueue(req)
	p.drain()
	return <-req.resultCh
}

// GetVersionList returns the (possibly empty) version chain for key.
func (t *Table) GetVersionList(key RecordKey) []Entry {
	res := t.submit(&request{kind: opGetList, recordKey: key})
	return res.list
}

// InitializeAndGetVersionList returns key's version chain, first installing
// the sentinel empty head if the chain has never been touched, so that
// newVersionKey = largestVersionKey + 1 is computable uniformly.
func (t *Table) InitializeAndGetVersionList(key RecordKey) []Entry {
	res := t.submit(&request{kind: opInitList, recordKey: key})
	return res.list
}

// UploadNewVersionEntry installs entry at (key, versionKey) if that slot is
// still empty. Returns true if this caller won the race.
func (t *Table) UploadNewVersionEntry(key RecordKey, versionKey int64, entry Entry) bool {
	entry.RecordKey = key
	entry.VersionKey = versionKey
	res := t.submit(&request{kind: opUpload, recordKey: key, versionKey: versionKey, entry: entry})
	return res.ok
}

// ReplaceVersionEntry is the primary CAS used during upload and
// post-process: it replaces the entry at (key, versionKey) with
// (beginTs, endTs, txID) only if the current entry's TxID == readTxID and
// EndTimestamp == expectedEndTs. It returns the post-image — the new one
// on success, the (unchanged) current one on a CAS mismatch, a zero Entry
// if the slot does not exist — and a boolean reporting whether the CAS
// took effect.
func (t *Table) ReplaceVersionEntry(key RecordKey, versionKey, beginTs, endTs, txID, readTxID, expectedEndTs int64) (Entry, bool) {
	res := t.submit(&request{
		kind:          opReplace,
		recordKey:     key,
		versionKey:    versionKey,
		beginTs:       beginTs,
		endTs:         endTs,
		txID:          txID,
		readTxID:      readTxID,
		expectedEndTs: expectedEndTs,
	})
	return res.entry, res.ok
}

// ReplaceWholeVersionEntry unconditionally overwrites an entry the caller
// already owns (used in commit post-processing once the transaction holds
// the slot via TxID).
func (t *Table) ReplaceWholeVersionEntry(key RecordKey, versionKey int64, entry Entry) (Entry, bool) {
	entry.RecordKey = key
	entry.VersionKey = versionKey
	res := t.submit(&request{kind: opReplaceWhole, recordKey: key, versionKey: versionKey, entry: entry})
	return res.entry, res.ok
}

// UpdateVersionMaxCommitTs atomically sets MaxCommitTs := max(current, ts)
// and returns the updated entry.
func (t *Table) UpdateVersionMaxCommitTs(key RecordKey, versionKey, ts int64) (Entry, bool) {
	res := t.submit(&request{kind: opUpdateMaxCommitTs, recordKey: key, versionKey: versionKey, ts: ts})
	return res.entry, res.ok
}

// GetVersionEntryByKey returns the single entry at (key, versionKey).
func (t *Table) GetVersionEntryByKey(key RecordKey, versionKey int64) (Entry, bool) {
	res := t.submit(&request{kind: opGetByKey, recordKey: key, versionKey: versionKey})
	return res.entry, res.found
}

// GetVersionEntryByKeyBatch returns every found entry among batch, keyed
// by (RecordKey, VersionKey). Requests are split by the partition each key
// belongs to so each partition's visitor only ever sees its own keys.
func (t *Table) GetVersionEntryByKeyBatch(batch []BatchKey) map[BatchKey]Entry {
	byPartition := make(map[int][]BatchKey)
	for _, bk := range batch {
		idx := t.partitionFn(bk.RecordKey, len(t.partitions))
		byPartition[idx] = append(byPartition[idx], bk)
	}

	out := make(map[BatchKey]Entry, len(batch))
	for idx, keys := range byPartition {
		p := t.partitions[idx]
		req := &request{kind: opGetByKeyBatch, batchKeys: keys, resultCh: make(chan result, 1)}
		p.enqueue(req)
		p.drain()
		res := <-req.resultCh
		for k, v := range res.batch {
			out[k] = v
		}
	}
	return out
}

// DeleteVersionEntry removes (key, versionKey), rolling back an upload.
// Returns whether an entry was actually removed.
func (t *Table) DeleteVersionEntry(key RecordKey, versionKey int64) bool {
	res := t.submit(&request{kind: opDelete, recordKey: key, versionKey: versionKey})
	return res.ok
}

// Clear empties every partition's lists. Test-only, per spec §4.2.
func (t *Table) Clear() {
	for _, p := range t.partitions {
		req := &request{kind: opClear, resultCh: make(chan result, 1)}
		p.enqueue(req)
		p.drain()
		<-req.resultCh
	}
}

// NewTableNotFoundError is a convenience for higher layers that need a
// typed TableNotFoundError without importing the errors package.
func NewTableNotFoundError(tableID string) error {
	return &coreerrors.TableNotFoundError{TableID: tableID}
}
