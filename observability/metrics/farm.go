package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type FarmMetrics struct {
	events      *prometheus.CounterVec
	poolWeight  *prometheus.GaugeVec
	rewardsPaid prometheus.Counter
}

var (
	farmOnce     sync.Once
	farmRegistry *FarmMetrics
)

func Farm() *FarmMetrics {
	farmOnce.Do(func() {
		farmRegistry = &FarmMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "farm_events_total",
				Help: "Count of emitted farming events by type.",
			}, []string{"type"}),
			poolWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "farm_pool_weight",
				Help: "Total staked weight per pool, in base units.",
			}, []string{"pool"}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "farm_rewards_paid_total",
				Help: "Cumulative harvested rewards, in base units.",
			}),
		}
		prometheus.MustRegister(
			farmRegistry.events,
			farmRegistry.poolWeight,
			farmRegistry.rewardsPaid,
		)
	})
	return farmRegistry
}

func (m *FarmMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *FarmMetrics) SetPoolWeight(pid uint64, weight float64) {
	if m == nil {
		return
	}
	m.poolWeight.WithLabelValues(fmt.Sprintf("%d", pid)).Set(weight)
}

func (m *FarmMetrics) AddRewardsPaid(amount float64) {
	if m == nil {
		return
	}
	m.rewardsPaid.Add(amount)
}
