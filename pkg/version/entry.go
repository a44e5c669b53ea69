// Package version holds the version chain for one relation: the immutable
// VersionEntry, the per-key VersionList, and the partitioned VersionTable
// that serializes concurrent access to it.
package version

import "math"

// RecordKey is an opaque key identifying one logical record within a
// relation. The core never interprets its contents; it only hashes it for
// partitioning and compares it for equality.
type RecordKey string

const (
	// NoTx is the sentinel writer identity meaning "no transaction holds
	// this version" (spec §6 NONE_TX).
	NoTx int64 = 0

	// PositiveInfinity represents the "still open" end timestamp (spec §6).
	PositiveInfinity int64 = math.MaxInt64

	// SentinelVersionKey is the versionKey of the lazily-installed empty
	// head a list starts with, so InitializeAndGetVersionList lets callers
	// compute newVersionKey = largestVersionKey + 1 uniformly even for a
	// never-written key.
	SentinelVersionKey int64 = 0
)

// tombstone is the reserved payload marking a committed deletion. Spec §9
// (Open question — tombstones) commits to representing deletes this way
// rather than physically removing list entries.
var tombstone = []byte("\x00tombstone\x00")

// Tombstone returns the payload used to mark a deleted record.
func Tombstone() []byte { return tombstone }

// Entry is one immutable version of one key, valid over [BeginTimestamp,
// EndTimestamp). It provides no mutators: an "update" is expressed as
// "replace entry E with E'" at the owning VersionTable (spec §4.1).
type Entry struct {
	RecordKey      RecordKey
	VersionKey     int64
	BeginTimestamp int64
	EndTimestamp   int64
	TxID           int64
	MaxCommitTs    int64
	Payload        []byte
}

// Equal compares entries by (RecordKey, VersionKey) identity, as spec §4.1
// prescribes, not by full value.
func (e Entry) Equal(other Entry) bool {
	return e.RecordKey == other.RecordKey && e.VersionKey == other.VersionKey
}

// IsSentinel reports whether e is the lazily-installed empty head of a
// version list rather than a real uploaded version.
func (e Entry) IsSentinel() bool {
	return e.VersionKey == SentinelVersionKey && e.TxID == NoTx
}

// IsOpen reports whether this is the single version in its list still
// eligible to be overwritten (spec §3 invariant: at most one open entry).
func (e Entry) IsOpen() bool {
	return e.EndTimestamp == PositiveInfinity
}

// IsTombstone reports whether this entry's payload marks a committed
// deletion.
func (e Entry) IsTombstone() bool {
	return string(e.Payload) == string(tombstone)
}

// Phase names the entry's position in the per-slot state machine spec.md
// describes under "State machines": UPLOADED_OPEN, CLOSED_PENDING, or
// CLOSED_COMMITTED, plus SENTINEL for a list's empty head. It exists
// purely for debuggability and tests.
func (e Entry) Phase() string {
	switch {
	case e.IsSentinel():
		return "SENTINEL"
	case e.EndTimestamp == PositiveInfinity && e.TxID != NoTx:
		return "UPLOADED_OPEN"
	case e.TxID != NoTx:
		return "CLOSED_PENDING"
	default:
		return "CLOSED_COMMITTED"
	}
}

// sentinelEntry builds the empty head installed by InitializeAndGetVersionList.
func sentinelEntry(key RecordKey) Entry {
	return Entry{
		RecordKey:      key,
		VersionKey:     SentinelVersionKey,
		BeginTimestamp: 0,
		EndTimestamp:   PositiveInfinity,
		TxID:           NoTx,
		MaxCommitTs:    0,
	}
}
