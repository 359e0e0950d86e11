package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callscribe_bus_dropped_total",
		Help: "Finalized-session hand-offs abandoned on the in-memory bus, by reason",
	}, []string{"reason"})
)

// IncBusDrop records one abandoned hand-off.
func IncBusDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(reason).Inc()
}
