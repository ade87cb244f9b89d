package uow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records transaction outcomes. A nil *Metrics records nothing.
type Metrics struct {
	transactions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	active       prometheus.Gauge
	statements   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uow_transactions_total",
				Help: "Total number of closed unit-of-work transactions by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uow_transaction_duration_seconds",
				Help:    "Time between begin and commit or rollback",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uow_transactions_active",
			Help: "Number of open unit-of-work transactions",
		}),
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uow_statements_total",
				Help: "Raw SQL statements executed through sessions",
			},
			[]string{"kind", "status"},
		),
	}

	for _, c := range []prometheus.Collector{m.transactions, m.duration, m.active, m.statements} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) begun() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) closed(state TxState, started time.Time) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.transactions.WithLabelValues(state.String()).Inc()
	m.duration.WithLabelValues(state.String()).Observe(time.Since(started).Seconds())
}

func (m *Metrics) statement(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.statements.WithLabelValues(kind, status).Inc()
}
