// Package metrics exposes Prometheus collectors for betting and settlement.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records game activity. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry           *prometheus.Registry
	betsTotal          *prometheus.CounterVec
	pointsWagered      prometheus.Counter
	settlementsTotal   *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	settledBets        prometheus.Counter
	pointsCredited     prometheus.Counter
	notificationsTotal *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		betsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastbot_bets_total",
				Help: "Bet placement attempts by answer kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		pointsWagered: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecastbot_points_wagered_total",
			Help: "Net points moved from balances into live bets.",
		}),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastbot_settlements_total",
				Help: "Settlement attempts by outcome.",
			},
			[]string{"outcome"},
		),
		settlementDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecastbot_settlement_duration_seconds",
			Help:    "Time spent in the settlement transaction.",
			Buckets: prometheus.DefBuckets,
		}),
		settledBets: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecastbot_settled_bets_total",
			Help: "Bets scored by committed settlements.",
		}),
		pointsCredited: factory.NewCounter(prometheus.CounterOpts{
			Name: "forecastbot_points_credited_total",
			Help: "Points credited to balances by settlements.",
		}),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastbot_result_notifications_total",
				Help: "Settlement result notifications by delivery status.",
			},
			[]string{"status"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BetPlaced(kind, outcome string, delta int64) {
	if m == nil {
		return
	}
	m.betsTotal.WithLabelValues(kind, outcome).Inc()
	if delta > 0 {
		m.pointsWagered.Add(float64(delta))
	}
}

func (m *Metrics) Settlement(outcome string, bets int, credited int64, took time.Duration) {
	if m == nil {
		return
	}
	m.settlementsTotal.WithLabelValues(outcome).Inc()
	if outcome != "ok" {
		return
	}
	m.settlementDuration.Observe(took.Seconds())
	m.settledBets.Add(float64(bets))
	m.pointsCredited.Add(float64(credited))
}

func (m *Metrics) Notification(delivered bool) {
	if m == nil {
		return
	}
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}
