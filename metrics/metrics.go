// Package metrics exposes the ledger engine's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/ledger"
)

// Recorder implements ledger.Metrics and outbox.Observer.
type Recorder struct {
	operations  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	documents   *prometheus.CounterVec
	amountBase  *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

// NewRecorder registers the instruments on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "operations_total",
			Help:      "Coordinator operations by outcome",
		}, []string{"op", "outcome"}),
		durations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Coordinator operation latency",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "documents_total",
			Help:      "Committed documents by kind",
		}, []string{"kind"}),
		amountBase: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "amount_base_total",
			Help:      "Committed document amounts in base currency",
		}, []string{"kind"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "outbox_deliveries_total",
			Help:      "Outbox publish attempts by topic and result",
		}, []string{"topic", "result"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (r *Recorder) ObserveOperation(op, outcome string, elapsed time.Duration) {
	r.operations.WithLabelValues(op, outcome).Inc()
	r.durations.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (r *Recorder) DocumentRecorded(kind ledger.Kind, amountBase decimal.Decimal) {
	r.documents.WithLabelValues(string(kind)).Inc()
	r.amountBase.WithLabelValues(string(kind)).Add(amountBase.InexactFloat64())
}

func (r *Recorder) EventDelivered(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.deliveries.WithLabelValues(topic, result).Inc()
}

// ObserveHTTP records one served request.
func (r *Recorder) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	r.httpLatency.WithLabelValues(method, route, statusClass(status)).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
