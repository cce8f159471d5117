package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "matches_added_total",
		Help:      "Total number of match entries added to face records",
	})

	PhotosUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "photos_updated_total",
		Help:      "Total number of photo records that gained a matched user",
	})

	ReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "reconcile_failures_total",
		Help:      "Total number of per-item failures during reconciliation",
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facefinder",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of single reconciliation runs",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	AuditsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "audits_total",
		Help:      "Total number of per-user audits by outcome",
	}, []string{"status"})

	AuditDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facefinder",
		Name:      "audit_duration_seconds",
		Help:      "Duration of per-user audits",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	InflightAudits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facefinder",
		Name:      "inflight_audits",
		Help:      "Number of audits currently running",
	})

	FacesRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefinder",
		Name:      "faces_registered_total",
		Help:      "Total number of face descriptors registered",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facefinder",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
