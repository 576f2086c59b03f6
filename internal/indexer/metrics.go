package indexer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "indexq"
	metricsSubsystem = "indexing"
)

type Metrics struct {
	items        *prometheus.CounterVec
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
}

var (
	defaultMetricsOnce sync.Once
	defaultMetricsInst *Metrics
)

// DefaultMetrics returns metrics registered with the default prometheus registerer.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetricsInst = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetricsInst
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "items_total",
			Help:      "Total number of queue items processed by result.",
		}, []string{"site", "result"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "passes_total",
			Help:      "Total number of incremental indexing passes by result.",
		}, []string{"site", "result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pass_duration_seconds",
			Help:      "Duration of incremental indexing passes in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.items, m.passes, m.passDuration)
	}
	return m
}

func (m *Metrics) observeItem(siteID, result string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(siteID, result).Inc()
}

func (m *Metrics) observePass(siteID string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.passes.WithLabelValues(siteID, result).Inc()
	m.passDuration.Observe(seconds)
}
