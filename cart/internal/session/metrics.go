package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	transitions   *prometheus.CounterVec
	staleDiscards prometheus.Counter
	fetchFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartsync",
			Subsystem: "reconciler",
			Name:      "events_total",
			Help:      "Authentication events consumed by session reconcilers.",
		}, []string{"event"}),
		staleDiscards: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cartsync",
			Subsystem: "reconciler",
			Name:      "stale_fetches_total",
			Help:      "Cart fetches discarded because a newer authentication event arrived.",
		}),
		fetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cartsync",
			Subsystem: "reconciler",
			Name:      "fetch_failures_total",
			Help:      "Cart fetches that failed and fell back to an empty cart.",
		}),
	}
}

func (m *Metrics) event(e Event) {
	if m != nil {
		m.transitions.WithLabelValues(e.Type.String()).Inc()
	}
}

func (m *Metrics) stale() {
	if m != nil {
		m.staleDiscards.Inc()
	}
}

func (m *Metrics) fetchFailed() {
	if m != nil {
		m.fetchFailures.Inc()
	}
}
