package executor

import (
	"log/slog"

	"github.com/bobboyms/txn-engine/pkg/versiondb"
)

// Builder constructs the shared VersionDb and hands out per-worker
// Executor handles bound to it (spec §6: "An opaque execution handle
// bound to one worker is created by a builder that also produces the
// VersionDb").
type Builder struct {
	db     *versiondb.DB
	logger *slog.Logger
}

// NewBuilder creates the VersionDb from opts and returns a Builder over
// it. Call opts := versiondb.DefaultOptions() and override fields before
// passing it in. logger is threaded into the VersionDb and into every
// Executor this Builder hands out; a nil logger defaults to
// slog.Default().
func NewBuilder(opts versiondb.Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{db: versiondb.New(opts, logger), logger: logger}
}

// DB returns the VersionDb this builder's executors share.
func (b *Builder) DB() *versiondb.DB {
	return b.db
}

// NewExecutor returns a fresh, idle Executor for workerID. metrics and
// faults may both be nil; a nil recorder is a no-op.
func (b *Builder) NewExecutor(workerID string, metrics MetricsRecorder, faults FaultRecorder) *Executor {
	return &Executor{
		db:       b.db,
		workerID: workerID,
		metrics:  metrics,
		faults:   faults,
		logger:   b.logger,
	}
}
