package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics は通知処理のPrometheusメトリクス。
type Metrics struct {
	events    *prometheus.CounterVec
	envelopes *prometheus.CounterVec
	consumed  prometheus.Counter
	duration  prometheus.Histogram
}

// NewMetrics はregにメトリクスを登録する。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casenotify_events_processed_total",
				Help: "Total business events processed by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		envelopes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casenotify_envelopes_total",
				Help: "Total envelopes handed to delivery by channel.",
			},
			[]string{"channel"},
		),
		consumed: f.NewCounter(prometheus.CounterOpts{
			Name: "casenotify_subscriptions_consumed_total",
			Help: "Total one-shot subscriptions deleted after firing.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "casenotify_process_duration_seconds",
			Help:    "Duration of processing one business event.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}
