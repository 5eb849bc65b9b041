// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/starford/infrawiki/internal/apperr"
)

const namespace = "infrawiki"

var (
	StoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "store_operations_total", Help: "Node store operations by operation and result code."},
		[]string{"op", "code"},
	)
	StoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "store_operation_seconds", Help: "Node store operation latency.", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)
	LockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "lock_wait_seconds", Help: "Time spent acquiring node locks.", Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5}},
	)
	LockBusy = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "lock_busy_total", Help: "Lock acquisitions that timed out."},
	)
	IndexRebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "index_rebuilds_total", Help: "Search index rebuilds by result."},
		[]string{"result"},
	)
	IndexRebuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "index_rebuild_seconds", Help: "Search index rebuild latency.", Buckets: prometheus.DefBuckets},
	)
	IndexDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "index_documents", Help: "Nodes in the search index after the last rebuild."},
	)
	RateLimitAllowed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Requests admitted by the API rate limiter."},
	)
	RateLimitRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Requests rejected by the API rate limiter."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(StoreOps)
	reg.MustRegister(StoreOpDuration)
	reg.MustRegister(LockWait)
	reg.MustRegister(LockBusy)
	reg.MustRegister(IndexRebuilds)
	reg.MustRegister(IndexRebuildDuration)
	reg.MustRegister(IndexDocuments)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}

// ObserveOp records one node store operation. A nil err is counted as "ok".
func ObserveOp(op string, start time.Time, err error) {
	code := "ok"
	if err != nil {
		code = apperr.KindOf(err).Code()
	}
	StoreOps.WithLabelValues(op, code).Inc()
	StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveLock matches lock.WithObserver.
func ObserveLock(wait time.Duration, busy bool) {
	LockWait.Observe(wait.Seconds())
	if busy {
		LockBusy.Inc()
	}
}

// ObserveRebuild matches index.WithRebuildObserver.
func ObserveRebuild(d time.Duration, docs int, err error) {
	IndexRebuildDuration.Observe(d.Seconds())
	if err != nil {
		IndexRebuilds.WithLabelValues("error").Inc()
		return
	}
	IndexRebuilds.WithLabelValues("ok").Inc()
	IndexDocuments.Set(float64(docs))
}
