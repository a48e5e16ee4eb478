package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type PromiseMetrics struct {
	events       *prometheus.CounterVec
	openPromises prometheus.Gauge
	feesAccrued  *prometheus.CounterVec
}

var (
	promiseOnce     sync.Once
	promiseRegistry *PromiseMetrics
)

func Promise() *PromiseMetrics {
	promiseOnce.Do(func() {
		promiseRegistry = &PromiseMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "promise_events_total",
				Help: "Count of emitted ledger events by type.",
			}, []string{"type"}),
			openPromises: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "promise_open_positions",
				Help: "Number of promises currently open on the ledger.",
			}),
			feesAccrued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "promise_fees_accrued_total",
				Help: "Cumulative settlement fees collected per asset, in base units.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			promiseRegistry.events,
			promiseRegistry.openPromises,
			promiseRegistry.feesAccrued,
		)
	})
	return promiseRegistry
}

func (m *PromiseMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *PromiseMetrics) IncOpenPromises() {
	if m == nil {
		return
	}
	m.openPromises.Inc()
}

func (m *PromiseMetrics) DecOpenPromises() {
	if m == nil {
		return
	}
	m.openPromises.Dec()
}

func (m *PromiseMetrics) AddFees(asset string, amount float64) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.feesAccrued.WithLabelValues(asset).Add(amount)
}
