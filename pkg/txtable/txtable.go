// Package txtable holds the metadata for every in-flight transaction: its
// identifier, status, commit timestamp, and commit lower bound (spec §4.3).
// It is the one piece of shared, mutable state multiple executors touch
// directly (every other component is partition-local), so each entry gets
// its own narrow mutex — the design notes (§9) call this out as an
// acceptable alternative to a lock-free structure.
package txtable

import (
	"sync"
	"sync/atomic"

	coreerrors "github.com/bobboyms/txn-engine/pkg/errors"
)

// Status is a transaction's position in the two-outcome state machine
// spec.md describes: ONGOING -> COMMITTED or ONGOING -> ABORTED, terminal
// either way. No resurrection.
type Status uint8

const (
	Ongoing Status = iota
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Ongoing:
		return "ONGOING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

const (
	// unsetCommitTime is the sentinel meaning "commitTime not yet proposed".
	unsetCommitTime int64 = -1

	// ReturnErrorCode is the sentinel reserved across the protocol's
	// numeric return paths to distinguish "internal error" from "-1 means
	// not-yet-set" (spec §5, §6).
	ReturnErrorCode int64 = -2
)

// Entry is one transaction's mutable record. All mutation happens through
// Table methods, which take the entry's mutex; callers never see a raw
// *Entry they could race on.
type Entry struct {
	mu sync.Mutex

	txID             int64
	status           Status
	commitTime       int64
	commitLowerBound int64
}

// TxID returns the transaction's identifier.
func (e *Entry) TxID() int64 {
	return e.txID
}

// Snapshot returns a consistent point-in-time copy of the entry's fields.
func (e *Entry) Snapshot() (status Status, commitTime int64, commitLowerBound int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.commitTime, e.commitLowerBound
}

// Table tracks every transaction ever allocated by InsertNewTx (spec §3:
// "retained at least until all post-processing referring to it
// completes"). Entries are never removed.
type Table struct {
	mu      sync.Mutex
	entries map[int64]*Entry
	nextID  atomic.Int64
}

// NewTable returns an empty transaction table.
func NewTable() *Table {
	t := &Table{entries: make(map[int64]*Entry)}
	t.nextID.Store(0)
	return t
}

// InsertNewTx allocates a unique, positive txId with status ONGOING,
// commitTime unset, and commitLowerBound 0.
func (t *Table) InsertNewTx() int64 {
	id := t.nextID.Add(1)
	e := &Entry{
		txID:             id,
		status:           Ongoing,
		commitTime:       unsetCommitTime,
		commitLowerBound: 0,
	}
	t.mu.Lock()
	t.entries[id] = e
	t.mu.Unlock()
	return id
}

func (t *Table) get(txID int64) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[txID]
}

// GetTxTableEntry returns txId's current snapshot, or ok=false if txId was
// never allocated.
func (t *Table) GetTxTableEntry(txID int64) (status Status, commitTime int64, commitLowerBound int64, ok bool) {
	e := t.get(txID)
	if e == nil {
		return 0, 0, 0, false
	}
	status, commitTime, commitLowerBound = e.Snapshot()
	return status, commitTime, commitLowerBound, true
}

// UpdateTxStatus applies one of the two permitted transitions,
// ONGOING->COMMITTED or ONGOING->ABORTED. Any other requested transition
// (including from a terminal state, or for an unknown txId) is a no-op.
func (t *Table) UpdateTxStatus(txID int64, status Status) {
	if status != Committed && status != Aborted {
		return
	}
	e := t.get(txID)
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.status == Ongoing {
		e.status = status
	}
	e.mu.Unlock()
}

// SetAndGetCommitTime atomically proposes a commit timestamp. If the
// entry's commitTime is still unset and proposed >= commitLowerBound, it
// is set to max(proposed, commitLowerBound) and returned. If commitTime is
// already set, the existing value is returned unchanged (the call is
// idempotent). Otherwise -1 is returned: the proposal was invalid. An
// unknown txId returns ReturnErrorCode (-2).
func (t *Table) SetAndGetCommitTime(txID int64, proposed int64) int64 {
	e := t.get(txID)
	if e == nil {
		return ReturnErrorCode
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.commitTime != unsetCommitTime {
		return e.commitTime
	}
	if proposed < e.commitLowerBound {
		return unsetCommitTime
	}
	commitTime := proposed
	if e.commitLowerBound > commitTime {
		commitTime = e.commitLowerBound
	}
	e.commitTime = commitTime
	return commitTime
}

// UpdateCommitLowerBound pushes txId's minimum future commitTime forward.
// Returns ReturnErrorCode (-2) if txId is unknown; -1 if the transaction
// has not yet committed and the bound was accepted (stored value becomes
// max(current, lowerBound)); or the transaction's already-set commitTime,
// unchanged, otherwise.
func (t *Table) UpdateCommitLowerBound(txID int64, lowerBound int64) int64 {
	e := t.get(txID)
	if e == nil {
		return ReturnErrorCode
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.commitTime != unsetCommitTime {
		return e.commitTime
	}
	if lowerBound > e.commitLowerBound {
		e.commitLowerBound = lowerBound
	}
	return unsetCommitTime
}

// NotFoundError builds the typed error executors surface when a txId
// resolves to nothing in this table.
func NotFoundError(txID int64) error {
	return &coreerrors.TxNotFoundError{TxID: txID}
}
