// Package errors defines the typed failure values the core surfaces, and a
// thin wrapping layer on top of github.com/cockroachdb/errors so abort paths
// can attach context without losing the caller's ability to check error
// identity with errors.Is.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// TableNotFoundError is returned when a VersionDb operation names a tableId
// that has never been created, or has since been deleted.
type TableNotFoundError struct {
	TableID string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("version table %q not found", e.TableID)
}

// TableAlreadyExistsError documents the idempotent-create path (spec §4.4).
// CreateVersionTable does not return it (it returns the existing table
// instead, per spec), but it is kept available for callers that want to
// distinguish "created" from "already existed".
type TableAlreadyExistsError struct {
	TableID string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("version table %q already exists", e.TableID)
}

// TxNotFoundError is returned when a txId has never been allocated by
// InsertNewTx.
type TxNotFoundError struct {
	TxID int64
}

func (e *TxNotFoundError) Error() string {
	return fmt.Sprintf("transaction %d not found", e.TxID)
}

// UploadConflictError records that UploadNewVersionEntry lost its race: some
// other writer already occupies the (recordKey, versionKey) slot.
type UploadConflictError struct {
	RecordKey  string
	VersionKey int64
}

func (e *UploadConflictError) Error() string {
	return fmt.Sprintf("upload conflict: key %q version %d already occupied", e.RecordKey, e.VersionKey)
}

// ReplaceConflictError records that a conditional replace (ReplaceVersionEntry)
// observed a current image that did not match the caller's expected
// (txId, endTimestamp) pair.
type ReplaceConflictError struct {
	RecordKey  string
	VersionKey int64
}

func (e *ReplaceConflictError) Error() string {
	return fmt.Sprintf("replace conflict: key %q version %d was concurrently modified", e.RecordKey, e.VersionKey)
}

// CommitRejectedError records that the transaction table refused a proposed
// commit timestamp (SetAndGetCommitTime returned -1).
type CommitRejectedError struct {
	TxID     int64
	Proposed int64
}

func (e *CommitRejectedError) Error() string {
	return fmt.Sprintf("commit time %d rejected for transaction %d", e.Proposed, e.TxID)
}

// ProtocolFaultError wraps the RETURN_ERROR_CODE (-2) sentinel described in
// spec §5/§7: an internal error distinct from "value not yet set".
type ProtocolFaultError struct {
	Op string
}

func (e *ProtocolFaultError) Error() string {
	return fmt.Sprintf("protocol fault in %s: internal error (RETURN_ERROR_CODE)", e.Op)
}

// Wrap annotates err with msg using cockroachdb/errors, preserving the
// original error for errors.Is/As. Returns nil if err is nil.
func Wrap(err error, msg string) error {
	return cockroacherrors.Wrap(err, msg)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	return cockroacherrors.Wrapf(err, format, args...)
}

// Newf builds a new annotated error, mirroring fmt.Errorf but with
// cockroachdb/errors' stack capture.
func Newf(format string, args ...any) error {
	return cockroacherrors.Newf(format, args...)
}

// Is delegates to cockroachdb/errors.Is, which understands wrapped chains
// produced by both this package and the standard library.
func Is(err, target error) bool {
	return cockroacherrors.Is(err, target)
}

// As delegates to cockroachdb/errors.As, unwrapping err's chain until it
// finds a value assignable to target.
func As(err error, target any) bool {
	return cockroacherrors.As(err, target)
}
