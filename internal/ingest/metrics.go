package ingest

import "github.com/prometheus/client_golang/prometheus"

var ingestionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "ingestions_total",
	Help:      "Number of ingestions attempted, partitioned by upload kind and outcome",
}, []string{"kind", "outcome"})
var recordsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "ingested_records_total",
	Help:      "Number of media records committed to the catalog",
})
var rollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "ingest_rollbacks_total",
	Help:      "Number of compensating actions performed after a failed ingestion",
}, []string{"action", "outcome"})
var deletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lumen",
	Name:      "deletions_total",
	Help:      "Number of media deletions, partitioned by outcome",
}, []string{"outcome"})
var ingestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "lumen",
	Name:      "ingest_duration_seconds",
	Help:      "Time taken to complete an ingestion",
	Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
}, []string{"kind"})

func init() {
	prometheus.MustRegister(ingestionsTotal, recordsCommitted, rollbacksTotal, deletionsTotal, ingestDuration)
}
