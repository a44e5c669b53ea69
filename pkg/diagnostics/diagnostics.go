// Package diagnostics reports protocol faults and persistent-backend
// faults to Sentry (spec §7: "escalates to caller as protocol fault").
// It never influences control flow — a Reporter with no configured DSN
// still satisfies executor.FaultRecorder, it just drops events locally.
package diagnostics

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter implements executor.FaultRecorder and snapshot-backend fault
// reporting against a Sentry client.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter initializes a Sentry client bound to dsn and returns a
// Reporter using it. An empty dsn is valid — sentry-go no-ops without one,
// so tests and offline runs never need network access.
func NewReporter(dsn string) (*Reporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{Dsn: dsn})
	if err != nil {
		return nil, fmt.Errorf("init sentry client: %w", err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// CaptureProtocolFault implements executor.FaultRecorder: op names the
// operation that hit the RETURN_ERROR_CODE sentinel (spec §5), txID the
// transaction that observed it.
func (r *Reporter) CaptureProtocolFault(op string, txID int64) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("op", op)
		scope.SetExtra("txId", txID)
		r.hub.CaptureMessage(fmt.Sprintf("protocol fault: %s (tx %d)", op, txID))
	})
}

// CaptureBackendFault reports a persistent-backend failure (e.g. a
// snapshot.Store write error) that does not itself abort a transaction
// but is worth surfacing to an operator.
func (r *Reporter) CaptureBackendFault(op string, err error) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("op", op)
		r.hub.CaptureException(err)
	})
}

// Flush blocks until buffered events are sent or timeout elapses,
// returning whether it flushed cleanly. Call it before process exit.
func (r *Reporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
