// Package metrics exposes Prometheus collectors for the treasury.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pool's Prometheus collectors.
type Metrics struct {
	AllocationsTotal  prometheus.Counter
	DepositsTotal     prometheus.Counter
	EpochsFinalized   prometheus.Counter
	AssetsDistributed prometheus.Counter
	EscrowBalance     prometheus.Gauge
	PendingPayouts    prometheus.Gauge
	RequestDuration   *prometheus.HistogramVec
}

// New registers the treasury collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AllocationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "givepool_allocations_total",
			Help: "Number of vote allocations recorded.",
		}),
		DepositsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "givepool_deposits_total",
			Help: "Number of donor deposits.",
		}),
		EpochsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "givepool_epochs_finalized_total",
			Help: "Number of epochs settled.",
		}),
		AssetsDistributed: factory.NewCounter(prometheus.CounterOpts{
			Name: "givepool_assets_distributed_total",
			Help: "Base units delivered to beneficiary vaults.",
		}),
		EscrowBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "givepool_escrow_balance",
			Help: "Base units currently held in escrow.",
		}),
		PendingPayouts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "givepool_pending_payouts",
			Help: "Payouts waiting on a retry.",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "givepool_request_duration_seconds",
			Help:    "HTTP request latency by path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}
}

// Instrument wraps a handler so its latency is observed under the given path
// label. Register the wrapped handler, not the original.
func (m *Metrics) Instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		m.RequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}
