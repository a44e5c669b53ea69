package versiondb

import "github.com/bobboyms/txn-engine/pkg/version"

// PhysicalPartitionFunc chooses the partition within one VersionTable that
// serializes operations on recordKey (spec §4.1/§4.4).
type PhysicalPartitionFunc func(key version.RecordKey, partitionCount int) int

// LogicalPartitionFunc chooses the process-wide worker affinity group for
// recordKey, used by the executor to place transactions on a worker that
// has affinity for a set of keys (spec §4.4). A DB copies it from Options
// in New and exposes no setter, so it cannot change for the life of that
// DB and already-placed work is never re-routed.
type LogicalPartitionFunc func(key version.RecordKey, workerCount int) int

// Options configures a DB: a plain struct built functionally, never
// global state.
type Options struct {
	// PartitionCount is the per-table partition count handed to every
	// version.Table this DB creates.
	PartitionCount int

	// PhysicalPartitionByKey determines, within a table, which partition
	// serializes operations on a given key.
	PhysicalPartitionByKey PhysicalPartitionFunc

	// LogicalPartitionByKey determines which worker affinity group a key
	// belongs to, process-wide. See LogicalPartitionFunc.
	LogicalPartitionByKey LogicalPartitionFunc

	// WorkerCount is the domain LogicalPartitionByKey's output is taken
	// modulo/mapped into; it is meaningful only to callers of
	// LogicalPartitionFor.
	WorkerCount int
}

// fnvPartition is a small, dependency-free string hash used as the default
// partition function when the caller does not supply one. It is not meant
// to be cryptographically strong, only well-distributed for short keys.
func fnvPartition(key version.RecordKey, n int) int {
	if n <= 1 {
		return 0
	}
	var h uint32 = 2166136261
	for _, b := range []byte(key) {
		h ^= uint32(b)
		h *= 16777619
	}
	return int(h % uint32(n))
}

// DefaultOptions returns a safe configuration: 16 partitions per table, an
// FNV-based physical partition function, and a logical partition function
// that reuses the same hash over a single worker-affinity domain.
func DefaultOptions() Options {
	return Options{
		PartitionCount:         16,
		PhysicalPartitionByKey: fnvPartition,
		LogicalPartitionByKey:  LogicalPartitionFunc(fnvPartition),
		WorkerCount:            1,
	}
}
