package persistence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	inErrors "github.com/Alturino/cartsync/internal/errors"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

type Metrics struct {
	syncs         *prometheus.CounterVec
	schemaMissing prometheus.Counter
	addFallbacks  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartsync",
			Subsystem: "persistence",
			Name:      "operations_total",
			Help:      "Remote cart operations by operation, result and failure kind.",
		}, []string{"operation", "result", "kind"}),
		schemaMissing: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cartsync",
			Subsystem: "persistence",
			Name:      "schema_missing_total",
			Help:      "Remote cart operations that hit a missing table; pending migrations need to run.",
		}),
		addFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cartsync",
			Subsystem: "persistence",
			Name:      "add_conflicts_total",
			Help:      "Inserts that lost a race to another writer and were applied as increments.",
		}),
	}
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.syncs.WithLabelValues(op, resultSuccess, "").Inc()
		return
	}
	kind := inErrors.KindOf(err)
	m.syncs.WithLabelValues(op, resultFailure, kind.String()).Inc()
	if kind == inErrors.KindSchemaMissing {
		m.schemaMissing.Inc()
	}
}

func (m *Metrics) addConflict() {
	if m == nil {
		return
	}
	m.addFallbacks.Inc()
}
