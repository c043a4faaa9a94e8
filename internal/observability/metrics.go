package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics, labelled where an outcome dimension exists.
var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentryhub",
		Name:      "events_ingested_total",
		Help:      "Accepted events by event type and risk level.",
	}, []string{"event_type", "risk_level"})

	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentryhub",
		Name:      "events_duplicates_total",
		Help:      "Deliveries resolved to an already-stored event via the idempotency key.",
	})

	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentryhub",
		Name:      "signature_failures_total",
		Help:      "Ingest requests rejected for a missing or invalid signature.",
	})

	ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentryhub",
		Name:      "validation_failures_total",
		Help:      "Ingest requests rejected for malformed bodies or unknown devices.",
	})

	IncidentsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentryhub",
		Name:      "incidents_opened_total",
		Help:      "New incidents opened by the correlator.",
	})

	IncidentsEscalated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentryhub",
		Name:      "incidents_escalated_total",
		Help:      "Open incidents raised to a higher risk level.",
	})

	AlertsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentryhub",
		Name:      "alerts_enqueued_total",
		Help:      "Alerts queued for delivery, by channel.",
	}, []string{"channel"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentryhub",
		Name:      "ingest_duration_seconds",
		Help:      "End-to-end ingest pipeline latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentryhub",
		Name:      "ingest_rate_limited_total",
		Help:      "Ingest requests rejected by the rate limiter.",
	})
)
