package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hierarchyOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "service",
		Name:      "operations_total",
		Help:      "Total number of hierarchy service operations broken down by operation and result code.",
	}, []string{"operation", "result"})

	hierarchyOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hierarchy",
		Subsystem: "service",
		Name:      "operation_duration_seconds",
		Help:      "Latency of hierarchy service operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	hierarchyCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Total number of effective-permission cache lookups broken down by hit/miss.",
	}, []string{"result"})

	hierarchyCacheInvalidate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "cache",
		Name:      "invalidate_total",
		Help:      "Total number of effective-permission cache invalidations broken down by reason.",
	}, []string{"reason"})

	hierarchyWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of database constraint conflicts broken down by kind.",
	}, []string{"kind"})

	hierarchyIntegrityFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hierarchy",
		Subsystem: "integrity",
		Name:      "findings_total",
		Help:      "Total number of audit findings broken down by code.",
	}, []string{"code"})
)

func recordOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = Code(err)
	}
	hierarchyOperations.WithLabelValues(operation, result).Inc()
}

func recordCacheRequest(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	hierarchyCacheRequests.WithLabelValues(result).Inc()
}

func recordCacheInvalidate(reason string) {
	if reason == "" {
		reason = "manual"
	}
	hierarchyCacheInvalidate.WithLabelValues(reason).Inc()
}

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	hierarchyWriteConflicts.WithLabelValues(kind).Inc()
}

func recordFindings(findings []Finding) {
	for _, f := range findings {
		hierarchyIntegrityFindings.WithLabelValues(f.Code).Inc()
	}
}
