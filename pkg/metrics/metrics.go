// Package metrics exposes the transaction engine's workload-harness
// counters and gauges (spec §6) as prometheus collectors, registered
// against whatever registry the embedding process already runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder implements executor.MetricsRecorder against prometheus
// collectors. It also exposes a queue-depth gauge callers feed from
// version.Table.PartitionQueueDepth, since that number isn't pushed by
// the executor itself.
type Recorder struct {
	commits      *prometheus.CounterVec
	aborts       *prometheus.CounterVec
	queueDepth   *prometheus.GaugeVec
	commitTimeUs prometheus.Histogram
}

// NewRecorder builds a Recorder with its own collectors. Call
// MustRegister(reg) to expose them on a registry.
func NewRecorder() *Recorder {
	return &Recorder{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txnengine",
			Name:      "commits_total",
			Help:      "Number of transactions committed, by worker.",
		}, []string{"worker"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txnengine",
			Name:      "aborts_total",
			Help:      "Number of transactions aborted, by worker.",
		}, []string{"worker"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "txnengine",
			Name:      "partition_queue_depth",
			Help:      "Last observed request queue depth, by table and partition.",
		}, []string{"table", "partition"}),
		commitTimeUs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txnengine",
			Name:      "commit_latency_microseconds",
			Help:      "End-to-end Commit() call latency.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 16),
		}),
	}
}

// MustRegister registers every collector this Recorder owns against reg.
func (r *Recorder) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.commits, r.aborts, r.queueDepth, r.commitTimeUs)
}

// RecordCommit implements executor.MetricsRecorder.
func (r *Recorder) RecordCommit(workerID string) {
	r.commits.WithLabelValues(workerID).Inc()
}

// RecordAbort implements executor.MetricsRecorder.
func (r *Recorder) RecordAbort(workerID string) {
	r.aborts.WithLabelValues(workerID).Inc()
}

// ObserveCommitLatencyMicros records one Commit() call's wall-clock cost.
func (r *Recorder) ObserveCommitLatencyMicros(micros float64) {
	r.commitTimeUs.Observe(micros)
}

// SetPartitionQueueDepth records the last observed backlog for one
// table/partition pair, fed by version.Table.PartitionQueueDepth.
func (r *Recorder) SetPartitionQueueDepth(tableID, partition string, depth int) {
	r.queueDepth.WithLabelValues(tableID, partition).Set(float64(depth))
}
