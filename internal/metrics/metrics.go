// Package metrics exports Prometheus collectors for purchases, donations,
// persistence writes and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kiniela"

// Engine records purchase and persistence outcomes. A nil *Engine is a
// valid no-op recorder.
type Engine struct {
	purchases     *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	amount        prometheus.Histogram
	donations     *prometheus.CounterVec
	donatedAmount *prometheus.CounterVec

	writes        *prometheus.CounterVec
	writeRetries  *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
	superseded    *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
}

// NewEngine registers the engine collectors on reg.
func NewEngine(reg prometheus.Registerer) *Engine {
	if reg == nil {
		return nil
	}
	e := &Engine{
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Completed purchases.",
		}, []string{"option", "bootstrap"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_rejections_total",
			Help:      "Rejected purchases by reason.",
		}, []string{"reason"}),
		amount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "purchase_amount",
			Help:      "Purchase amounts in play money.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		donations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donations_total",
			Help:      "Donation records created per cause.",
		}, []string{"cause"}),
		donatedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "donated_amount_total",
			Help:      "Play money donated per cause.",
		}, []string{"cause"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_writes_total",
			Help:      "Successful store writes.",
		}, []string{"store"}),
		writeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_write_retries_total",
			Help:      "Store write attempts that were retried.",
		}, []string{"store"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_write_failures_total",
			Help:      "Store writes that exhausted their retries.",
		}, []string{"store"}),
		superseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_writes_superseded_total",
			Help:      "Pending writes dropped in favour of a newer snapshot.",
		}, []string{"store"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_write_duration_seconds",
			Help:      "Store write latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store"}),
	}
	reg.MustRegister(
		e.purchases, e.rejections, e.amount, e.donations, e.donatedAmount,
		e.writes, e.writeRetries, e.writeFailures, e.superseded, e.writeDuration,
	)
	return e
}

func (e *Engine) PurchaseCompleted(option string, amount float64, bootstrap bool) {
	if e == nil {
		return
	}
	e.purchases.WithLabelValues(normalizeLabel(option), strconv.FormatBool(bootstrap)).Inc()
	e.amount.Observe(amount)
}

func (e *Engine) PurchaseRejected(reason string) {
	if e == nil {
		return
	}
	e.rejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (e *Engine) DonationRecorded(causeID string, amount float64) {
	if e == nil {
		return
	}
	cause := normalizeLabel(causeID)
	e.donations.WithLabelValues(cause).Inc()
	e.donatedAmount.WithLabelValues(cause).Add(amount)
}

func (e *Engine) WriteCompleted(store string, elapsed time.Duration) {
	if e == nil {
		return
	}
	store = normalizeLabel(store)
	e.writes.WithLabelValues(store).Inc()
	e.writeDuration.WithLabelValues(store).Observe(elapsed.Seconds())
}

func (e *Engine) WriteRetried(store string) {
	if e == nil {
		return
	}
	e.writeRetries.WithLabelValues(normalizeLabel(store)).Inc()
}

func (e *Engine) WriteFailed(store string) {
	if e == nil {
		return
	}
	e.writeFailures.WithLabelValues(normalizeLabel(store)).Inc()
}

func (e *Engine) WriteSuperseded(store string) {
	if e == nil {
		return
	}
	e.superseded.WithLabelValues(normalizeLabel(store)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
