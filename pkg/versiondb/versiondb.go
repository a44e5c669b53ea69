// Package versiondb is the root coordinator (spec §4.4): it owns every
// named VersionTable, the single process-wide TxTable, and the pair of
// partition functions that route record operations to the right shard and
// workers to their affinity group.
package versiondb

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	coreerrors "github.com/bobboyms/txn-engine/pkg/errors"
	"github.com/bobboyms/txn-engine/pkg/txtable"
	"github.com/bobboyms/txn-engine/pkg/version"
)

// ReturnErrorCode re-exports txtable.ReturnErrorCode at the façade boundary,
// so executor code never needs to import txtable directly for the sentinel.
const ReturnErrorCode = txtable.ReturnErrorCode

// DB is the process-scoped root coordinator. Its lifecycle is bound to
// engine start/stop: callers construct one DB, create tables against it,
// and tear it down once.
type DB struct {
	opts Options

	mu     sync.RWMutex // registry lock; read-mostly per spec §5
	tables map[string]*version.Table

	txTable *txtable.Table

	traceID string // opaque identifier, minted once, surfaced to diagnostics/logging

	logicalSealed bool // true once any table has been created

	clock atomic.Int64 // hybrid logical clock: snapshot timestamps and observed commit times

	logger *slog.Logger
}

// New builds a DB from opts, logging table lifecycle events to logger. A
// nil logger defaults to slog.Default().
func New(opts Options, logger *slog.Logger) *DB {
	if opts.PartitionCount < 1 {
		opts.PartitionCount = 1
	}
	if opts.PhysicalPartitionByKey == nil {
		opts.PhysicalPartitionByKey = fnvPartition
	}
	if opts.LogicalPartitionByKey == nil {
		opts.LogicalPartitionByKey = LogicalPartitionFunc(fnvPartition)
	}
	if logger == nil {
		logger = slog.Default()
	}
	db := &DB{
		opts:    opts,
		tables:  make(map[string]*version.Table),
		txTable: txtable.NewTable(),
		traceID: uuid.NewString(),
		logger:  logger,
	}
	db.logger.Info("versiondb opened", "traceId", db.traceID, "partitionCount", opts.PartitionCount)
	return db
}

// TraceID returns this DB instance's opaque identifier, used by version
// tables' ownerTraceID and by diagnostics events.
func (db *DB) TraceID() string {
	return db.traceID
}

// TxTable exposes the shared transaction table the executor needs to
// allocate and update transactions.
func (db *DB) TxTable() *txtable.Table {
	return db.txTable
}

// CreateVersionTable installs a new VersionTable for tableId, or returns
// the existing one if tableId is already registered (spec §4.4: "DDL ...
// idempotent"). The first call sets logicalSealed; nothing reads that
// flag. LogicalPartitionByKey is fixed from New onward because the DB
// keeps its own copy of Options and this package exposes no setter.
func (db *DB) CreateVersionTable(tableID string) *version.Table {
	db.mu.Lock()
	defer db.mu.Unlock()

	if t, ok := db.tables[tableID]; ok {
		return t
	}
	t := version.NewTable(tableID, db.opts.PartitionCount, db.opts.PhysicalPartitionByKey, db.traceID)
	db.tables[tableID] = t
	db.logicalSealed = true
	db.logger.Info("version table created", "tableId", tableID, "partitionCount", db.opts.PartitionCount)
	return t
}

// DeleteTable removes tableId's VersionTable. Concurrent operations already
// holding a *version.Table reference are unaffected by the registry
// deletion (they simply keep operating on an orphaned table); new lookups
// via GetTable fail with a TableNotFoundError, per spec §4.4's "concurrent
// operations on a deleted table fail".
func (db *DB) DeleteTable(tableID string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.tables, tableID)
	db.logger.Info("version table deleted", "tableId", tableID)
}

// GetTable returns tableId's VersionTable, or a TableNotFoundError if it
// has never been created or has since been deleted.
func (db *DB) GetTable(tableID string) (*version.Table, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[tableID]
	if !ok {
		return nil, &coreerrors.TableNotFoundError{TableID: tableID}
	}
	return t, nil
}

// LogicalPartitionFor returns the worker affinity group for key, using the
// configured LogicalPartitionByKey and WorkerCount (spec §4.4).
func (db *DB) LogicalPartitionFor(key version.RecordKey) int {
	if db.opts.WorkerCount < 1 {
		return 0
	}
	return db.opts.LogicalPartitionByKey(key, db.opts.WorkerCount)
}

// NextTimestamp hands out a fresh, monotonically increasing logical
// timestamp, used to assign a transaction's snapshot read timestamp at
// Begin. The protocol itself (spec §4.5) never names where rts comes from
// beyond "snapshot-read timestamp"; this DB keeps a single hybrid logical
// clock so that rts values handed out after a commit are guaranteed to
// exceed that commit's commitTime (see Observe).
func (db *DB) NextTimestamp() int64 {
	return db.clock.Add(1)
}

// Observe advances the clock to at least ts, a no-op if the clock is
// already ahead. The executor calls this once a transaction's commitTime
// is finalized, so that a later Begin's rts is never behind a commit that
// already happened.
func (db *DB) Observe(ts int64) {
	for {
		cur := db.clock.Load()
		if ts <= cur {
			return
		}
		if db.clock.CompareAndSwap(cur, ts) {
			return
		}
	}
}
