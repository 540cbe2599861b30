package metrics

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ledger collects counters for ledger writes and their external effects.
// A nil *Ledger is valid and records nothing.
type Ledger struct {
	postings  *prometheus.CounterVec
	effects   *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	reconcile prometheus.Counter
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *Ledger
)

// Default returns the process-wide collectors, registering them on first use.
func Default() *Ledger {
	ledgerOnce.Do(func() {
		ledgerRegistry = &Ledger{
			postings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "greenseed",
				Subsystem: "ledger",
				Name:      "postings_total",
				Help:      "Ledger postings by entry kind and outcome.",
			}, []string{"kind", "outcome"}),
			effects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "greenseed",
				Subsystem: "effects",
				Name:      "attempts_total",
				Help:      "External effect attempts by effect kind and resulting status.",
			}, []string{"effect", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "greenseed",
				Subsystem: "effects",
				Name:      "duration_seconds",
				Help:      "Latency of external effect calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"effect"}),
			reconcile: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "greenseed",
				Subsystem: "reconcile",
				Name:      "retries_total",
				Help:      "Effects retried by the reconciliation sweep.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.postings,
			ledgerRegistry.effects,
			ledgerRegistry.latency,
			ledgerRegistry.reconcile,
		)
	})
	return ledgerRegistry
}

// ObservePosting counts one ledger write attempt.
func (m *Ledger) ObservePosting(kind, outcome string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(kind, outcome).Inc()
}

// ObserveEffect counts one effect call and its latency.
func (m *Ledger) ObserveEffect(effect, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.effects.WithLabelValues(effect, status).Inc()
	m.latency.WithLabelValues(effect).Observe(elapsed.Seconds())
}

// ObserveReconcile counts effects retried by one sweep.
func (m *Ledger) ObserveReconcile(retried int) {
	if m == nil || retried <= 0 {
		return
	}
	m.reconcile.Add(float64(retried))
}

// Handler serves the default Prometheus registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
