package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscribe_events_total",
		Help: "Filesystem events consumed by the dispatch loop, by outcome",
	}, []string{"outcome"})

	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callscribe_sessions_open",
		Help: "Sessions currently tracked in the registry",
	})

	SessionsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscribe_sessions_finalized_total",
		Help: "Finalized sessions, by completeness",
	}, []string{"complete"})

	AnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscribe_session_anomalies_total",
		Help: "Per-session anomalies that never abort the engine, by reason",
	}, []string{"reason"})

	HandoffRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callscribe_handoff_retries_total",
		Help: "Retried finalized-session hand-off attempts",
	})

	HandoffFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callscribe_handoff_failures_total",
		Help: "Hand-offs abandoned after retry exhaustion (failure marker persisted)",
	})

	ExpiryRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callscribe_expiry_requeued_total",
		Help: "Idle expiries re-armed because the hand-off queue was saturated",
	})
)

// IncEvent records one consumed filesystem event.
func IncEvent(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	EventsTotal.WithLabelValues(outcome).Inc()
}

// IncAnomaly records a single-session anomaly.
func IncAnomaly(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	AnomaliesTotal.WithLabelValues(reason).Inc()
}

// RecordFinalized records one emitted finalized session.
func RecordFinalized(complete bool) {
	if complete {
		SessionsFinalizedTotal.WithLabelValues("true").Inc()
	} else {
		SessionsFinalizedTotal.WithLabelValues("false").Inc()
	}
}
