package queueadmin

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "indexq"
	metricsSubsystem = "admin"
)

// Metrics counts administrative operations by outcome.
type Metrics struct {
	operations *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "operations_total",
			Help:      "Total number of queue administration operations by result.",
		}, []string{"operation", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "initializations_total",
			Help:      "Total number of configuration initializations by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.outcomes)
	}
	return m
}

const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultRefused = "refused"
)

func (m *Metrics) observe(operation, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) observeInitialization(outcomes []InitializationOutcome) {
	if m == nil {
		return
	}
	for _, o := range outcomes {
		if o.Succeeded {
			m.outcomes.WithLabelValues(resultSuccess).Inc()
		} else {
			m.outcomes.WithLabelValues(resultFailure).Inc()
		}
	}
}
