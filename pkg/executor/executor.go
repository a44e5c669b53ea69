// Package executor drives one transaction end-to-end through the
// read/upload/validate/commit-decision/post-process protocol (spec §4.5).
// An Executor is bound to one worker: callers Begin a transaction, issue
// any number of Read/Write/Insert/Delete calls, then Commit it. The
// executor is never re-entered from another goroutine for the same
// transaction (spec §5's "one thread per logical worker").
package executor

import (
	"log/slog"

	coreerrors "github.com/bobboyms/txn-engine/pkg/errors"
	"github.com/bobboyms/txn-engine/pkg/snapshot"
	"github.com/bobboyms/txn-engine/pkg/txtable"
	"github.com/bobboyms/txn-engine/pkg/version"
	"github.com/bobboyms/txn-engine/pkg/versiondb"
)

// TxFinalStatus is the terminal outcome a transaction's Commit call
// returns (spec §4.5: "Return TxFinalStatus ∈ {COMMITTED, ABORTED}").
type TxFinalStatus uint8

const (
	Committed TxFinalStatus = iota
	Aborted
)

func (s TxFinalStatus) String() string {
	if s == Committed {
		return "COMMITTED"
	}
	return "ABORTED"
}

// log returns e.logger, defaulting to slog.Default() for an Executor built
// without going through Builder.NewExecutor (e.g. a zero-value literal in
// a test).
func (e *Executor) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

// MetricsRecorder is the narrow capability the executor needs from a
// metrics backend: per-worker commit/abort counting (spec §6 workload
// harness interface). pkg/metrics implements this against
// prometheus/client_golang; it is optional — a nil recorder is a no-op.
type MetricsRecorder interface {
	RecordCommit(workerID string)
	RecordAbort(workerID string)
}

// FaultRecorder is the narrow capability the executor needs from a
// diagnostics backend: reporting RETURN_ERROR_CODE protocol faults (spec
// §7's "escalates to caller as protocol fault"). Optional — nil is a no-op.
type FaultRecorder interface {
	CaptureProtocolFault(op string, txID int64)
}

// readRecord is one entry in a transaction's read set (spec §4.5).
type readRecord struct {
	tableID             string
	key                 version.RecordKey
	versionKey          int64
	observedMaxCommitTs int64
	effectiveBegin      int64
}

// writeRecord is one entry in a transaction's write set (spec §4.5). It
// also carries the bookkeeping post-process needs to patch or roll back
// exactly what upload touched.
type writeRecord struct {
	tableID       string
	key           version.RecordKey
	priorHead     version.Entry
	newVersionKey int64
	payload       []byte

	uploaded          bool
	closedPredecessor bool
}

// Executor drives a single worker's transactions against one DB.
type Executor struct {
	db       *versiondb.DB
	workerID string
	metrics  MetricsRecorder
	faults   FaultRecorder
	mirror   snapshot.Store
	logger   *slog.Logger

	active     bool
	txID       int64
	rts        int64
	commitTime int64
	readSet    []readRecord
	writeSet   []*writeRecord
}

// Begin allocates a fresh transaction and assigns its snapshot read
// timestamp, returning the txId. Any prior transaction on this Executor
// must already have been committed — Begin resets all staged state.
func (e *Executor) Begin() int64 {
	e.txID = e.db.TxTable().InsertNewTx()
	e.rts = e.db.NextTimestamp()
	e.readSet = e.readSet[:0]
	e.writeSet = nil
	e.active = true
	return e.txID
}

// TxID returns the identifier of the transaction currently in flight.
func (e *Executor) TxID() int64 { return e.txID }

// SetMirrorStore attaches a snapshot.Store this Executor mirrors its
// committed writes to, off the hot commit path (spec §9 "dynamic
// dispatch over back ends"). A nil store (the default) disables
// mirroring entirely; pass snapshot.NewMemStore() for an explicit no-op.
func (e *Executor) SetMirrorStore(s snapshot.Store) {
	e.mirror = s
}

// resolveVisibility reports whether entry is visible to rts under the
// writer-resolution rule in spec §4.5 step 2, and the effective begin
// timestamp to record in the read set.
func resolveVisibility(entry version.Entry, rts int64, tx *txtable.Table) (visible bool, effectiveBegin int64) {
	if entry.IsSentinel() {
		return false, 0
	}
	if entry.TxID == version.NoTx {
		return entry.BeginTimestamp <= rts && rts < entry.EndTimestamp, entry.BeginTimestamp
	}

	status, commitTime, _, ok := tx.GetTxTableEntry(entry.TxID)
	if !ok {
		return false, 0
	}
	switch status {
	case txtable.Committed:
		if commitTime > rts {
			return false, 0
		}
		return rts < entry.EndTimestamp, commitTime
	default: // ONGOING or ABORTED: a reader never waits for, or sees, a writer
		return false, 0
	}
}

// Read implements the read phase for one key (spec §4.5). It returns the
// visible version's payload and whether a visible (non-tombstone) version
// was found. A visible tombstone is still recorded in the read set, but
// reported to the caller as not found.
func (e *Executor) Read(tableID string, key version.RecordKey) ([]byte, bool, error) {
	table, err := e.db.GetTable(tableID)
	if err != nil {
		return nil, false, err
	}

	list := table.GetVersionList(key)
	for _, entry := range list {
		visible, effectiveBegin := resolveVisibility(entry, e.rts, e.db.TxTable())
		if !visible {
			continue
		}
		e.readSet = append(e.readSet, readRecord{
			tableID:             tableID,
			key:                 key,
			versionKey:          entry.VersionKey,
			observedMaxCommitTs: entry.MaxCommitTs,
			effectiveBegin:      effectiveBegin,
		})
		if entry.IsTombstone() {
			return nil, false, nil
		}
		return entry.Payload, true, nil
	}
	return nil, false, nil
}

// stageWrite is the common path for Write, Insert, and Delete: it places
// a new version one slot past whatever head this executor currently
// observes (spec §4.5 "Write phase (staged locally)").
func (e *Executor) stageWrite(tableID string, key version.RecordKey, payload []byte) error {
	table, err := e.db.GetTable(tableID)
	if err != nil {
		return err
	}
	list := table.InitializeAndGetVersionList(key)
	head := list[len(list)-1]

	e.writeSet = append(e.writeSet, &writeRecord{
		tableID:       tableID,
		key:           key,
		priorHead:     head,
		newVersionKey: head.VersionKey + 1,
		payload:       payload,
	})
	return nil
}

// Write stages an update to an existing key.
func (e *Executor) Write(tableID string, key version.RecordKey, value []byte) error {
	return e.stageWrite(tableID, key, value)
}

// Insert stages a brand-new key (spec §4.5: "Inserts call
// InitializeAndGetVersionList to ensure a sentinel head exists").
func (e *Executor) Insert(tableID string, key version.RecordKey, value []byte) error {
	return e.stageWrite(tableID, key, value)
}

// Delete stages a tombstone write (spec §9 Open question — tombstones).
func (e *Executor) Delete(tableID string, key version.RecordKey) error {
	return e.stageWrite(tableID, key, version.Tombstone())
}

// Commit runs the upload, validate, and commit-decision phases, then
// post-processes the write set accordingly, and returns the terminal
// status (spec §4.5).
func (e *Executor) Commit() (TxFinalStatus, error) {
	aborted, err := e.upload()
	if !aborted {
		if ok, verr := e.validate(); !ok {
			aborted = true
			err = verr
		}
	}

	status := Committed
	if aborted {
		status = Aborted
	}
	e.db.TxTable().UpdateTxStatus(e.txID, txStatusFor(status))

	if status == Committed {
		e.postProcessCommit()
		e.log().Info("transaction committed", "workerId", e.workerID, "txId", e.txID, "commitTime", e.commitTime)
		if e.metrics != nil {
			e.metrics.RecordCommit(e.workerID)
		}
	} else {
		e.postProcessAbort()
		e.log().Info("transaction aborted", "workerId", e.workerID, "txId", e.txID, "err", err)
		if e.metrics != nil {
			e.metrics.RecordAbort(e.workerID)
		}
	}

	e.active = false
	return status, err
}

func txStatusFor(s TxFinalStatus) txtable.Status {
	if s == Committed {
		return txtable.Committed
	}
	return txtable.Aborted
}

// upload implements spec §4.5's "Upload phase". It returns aborted=true
// and a nil error on an ordinary CAS-loss abort (no error to surface —
// conflicts are expected traffic), and a non-nil error only for a missing
// table, which the caller (Commit) still treats as an abort.
func (e *Executor) upload() (aborted bool, err error) {
	for _, w := range e.writeSet {
		table, terr := e.db.GetTable(w.tableID)
		if terr != nil {
			return true, terr
		}

		entry := version.Entry{
			BeginTimestamp: version.PositiveInfinity,
			EndTimestamp:   version.PositiveInfinity,
			TxID:           e.txID,
			MaxCommitTs:    0,
			Payload:        w.payload,
		}
		if !table.UploadNewVersionEntry(w.key, w.newVersionKey, entry) {
			return true, nil
		}
		w.uploaded = true

		_, ok := table.ReplaceVersionEntry(
			w.key, w.priorHead.VersionKey,
			w.priorHead.BeginTimestamp, e.txID, version.NoTx,
			w.priorHead.TxID, w.priorHead.EndTimestamp,
		)
		if !ok {
			return true, nil
		}
		w.closedPredecessor = true
	}
	return false, nil
}

// validate implements spec §4.5's "Validate phase". Returns ok=false on
// abort; err is non-nil only when the transaction table itself reports a
// protocol fault (RETURN_ERROR_CODE), which the caller escalates.
func (e *Executor) validate() (ok bool, err error) {
	propose := int64(0)
	for _, r := range e.readSet {
		if c := r.observedMaxCommitTs + 1; c > propose {
			propose = c
		}
	}
	for _, w := range e.writeSet {
		if c := w.priorHead.MaxCommitTs + 1; c > propose {
			propose = c
		}
	}
	_, _, lowerBound, found := e.db.TxTable().GetTxTableEntry(e.txID)
	if !found {
		return false, coreerrors.Wrap(txtable.NotFoundError(e.txID), "validate: own transaction entry vanished")
	}
	if lowerBound > propose {
		propose = lowerBound
	}

	commitTime := e.db.TxTable().SetAndGetCommitTime(e.txID, propose)
	if commitTime == versiondb.ReturnErrorCode {
		e.log().Error("protocol fault", "op", "SetAndGetCommitTime", "txId", e.txID)
		if e.faults != nil {
			e.faults.CaptureProtocolFault("SetAndGetCommitTime", e.txID)
		}
		return false, coreerrors.Newf("protocol fault: SetAndGetCommitTime(%d)", e.txID)
	}
	if commitTime < 0 {
		return false, nil // proposal rejected, ordinary abort
	}
	e.commitTime = commitTime
	e.db.Observe(commitTime)

	for _, r := range e.readSet {
		table, terr := e.db.GetTable(r.tableID)
		if terr != nil {
			return false, nil
		}
		table.UpdateVersionMaxCommitTs(r.key, r.versionKey, commitTime)

		list := table.GetVersionList(r.key)
		for _, other := range list {
			if other.TxID != version.NoTx {
				continue
			}
			if other.BeginTimestamp > r.effectiveBegin && other.BeginTimestamp <= commitTime {
				return false, nil // superseded by a version committed in between
			}
		}
	}

	for _, w := range e.writeSet {
		table, terr := e.db.GetTable(w.tableID)
		if terr != nil {
			return false, nil
		}
		for _, other := range table.GetVersionList(w.key) {
			if other.TxID == version.NoTx || other.TxID == e.txID {
				continue
			}
			status, _, _, found := e.db.TxTable().GetTxTableEntry(other.TxID)
			if !found || status != txtable.Ongoing {
				continue
			}
			ret := e.db.TxTable().UpdateCommitLowerBound(other.TxID, commitTime+1)
			if ret == versiondb.ReturnErrorCode {
				e.log().Error("protocol fault", "op", "UpdateCommitLowerBound", "txId", other.TxID)
				if e.faults != nil {
					e.faults.CaptureProtocolFault("UpdateCommitLowerBound", other.TxID)
				}
				return false, coreerrors.Newf("protocol fault: UpdateCommitLowerBound(%d)", other.TxID)
			}
			if ret >= 0 && ret <= commitTime {
				return false, nil
			}
		}
	}

	return true, nil
}

// postProcessCommit patches the write set's provisional entries to their
// final committed image (spec §4.5 "Post-process", commit branch).
//
// If a later writer has already built on top of one of this transaction's
// still-open entries and closed it before this patch runs, the CAS below
// loses silently: commit-decision has already been recorded for both
// transactions by this point, and there is no well-defined way to
// reconcile two transactions' post-process patches on a shared chain
// slot. The entry is left for that later writer's own post-process to
// account for.
func (e *Executor) postProcessCommit() {
	for _, w := range e.writeSet {
		table, err := e.db.GetTable(w.tableID)
		if err != nil {
			continue
		}
		final, ok := table.ReplaceVersionEntry(
			w.key, w.newVersionKey,
			e.commitTime, version.PositiveInfinity, version.NoTx,
			e.txID, version.PositiveInfinity,
		)
		if ok {
			// A committed version's MaxCommitTs is at least its begin
			// timestamp, so a later writer building on it proposes a
			// commitTime past this one.
			if raised, found := table.UpdateVersionMaxCommitTs(w.key, w.newVersionKey, e.commitTime); found {
				final = raised
			}
			e.mirrorAsync(w.tableID, final)
		}

		if !w.closedPredecessor {
			continue
		}
		current, found := table.GetVersionEntryByKey(w.key, w.priorHead.VersionKey)
		if !found || current.TxID != version.NoTx || current.EndTimestamp != e.txID {
			continue // already moved on; nothing of ours left to patch
		}
		patched := current
		patched.EndTimestamp = e.commitTime
		table.ReplaceWholeVersionEntry(w.key, w.priorHead.VersionKey, patched)
	}
}

// mirrorAsync hands entry off to the attached snapshot.Store without
// blocking the committing worker. A mirror failure never aborts or
// retries the transaction that already committed; it is only reported
// to the diagnostics backend, if one is attached.
func (e *Executor) mirrorAsync(tableID string, entry version.Entry) {
	if e.mirror == nil {
		return
	}
	mirror, faults, txID, logger := e.mirror, e.faults, e.txID, e.log()
	go func() {
		if err := mirror.MirrorEntry(tableID, entry); err != nil {
			logger.Error("snapshot mirror write failed", "tableId", tableID, "txId", txID, "err", err)
			if faults != nil {
				faults.CaptureProtocolFault("MirrorEntry", txID)
			}
		}
	}()
}

// postProcessAbort rolls back whatever upload managed to do before the
// abort was triggered (spec §4.5 "Post-process", abort branch).
func (e *Executor) postProcessAbort() {
	for _, w := range e.writeSet {
		table, err := e.db.GetTable(w.tableID)
		if err != nil {
			continue
		}
		if w.uploaded {
			table.DeleteVersionEntry(w.key, w.newVersionKey)
		}
		if w.closedPredecessor {
			table.ReplaceVersionEntry(
				w.key, w.priorHead.VersionKey,
				w.priorHead.BeginTimestamp, version.PositiveInfinity, version.NoTx,
				version.NoTx, e.txID,
			)
		}
	}
}
