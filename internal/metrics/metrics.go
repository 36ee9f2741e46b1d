// Package metrics is the ambient observability surface carried across every
// pipeline regardless of the spec's Non-goals around the query API, the
// same way the teacher's metrics package registers process-wide
// prometheus collectors independent of any particular subsystem.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// StoreUpserts counts successful document upserts per collection.
	StoreUpserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kobe",
		Subsystem: "store",
		Name:      "upserts_total",
		Help:      "Number of documents upserted, by collection.",
	}, []string{"collection"})

	// StoreWriteErrors counts failed writes per collection.
	StoreWriteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kobe",
		Subsystem: "store",
		Name:      "write_errors_total",
		Help:      "Number of failed document writes, by collection.",
	}, []string{"collection"})

	// RPCRetries counts ChainGateway retry attempts per method.
	RPCRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kobe",
		Subsystem: "rpc",
		Name:      "retries_total",
		Help:      "Number of retried RPC calls, by method.",
	}, []string{"method"})

	// RPCLatency observes per-method RPC call latency in seconds.
	RPCLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kobe",
		Subsystem: "rpc",
		Name:      "latency_seconds",
		Help:      "ChainGateway call latency, by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	// PipelineRuns counts completed pipeline runs by name and outcome.
	PipelineRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kobe",
		Subsystem: "scheduler",
		Name:      "pipeline_runs_total",
		Help:      "Completed pipeline runs, by pipeline and outcome.",
	}, []string{"pipeline", "outcome"})

	// LastRunEpoch records the last epoch a pipeline completed for.
	LastRunEpoch = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kobe",
		Subsystem: "scheduler",
		Name:      "last_run_epoch",
		Help:      "Most recent epoch a pipeline completed processing for.",
	}, []string{"pipeline"})
)

func init() {
	prometheus.MustRegister(
		StoreUpserts,
		StoreWriteErrors,
		RPCRetries,
		RPCLatency,
		PipelineRuns,
		LastRunEpoch,
	)
}
