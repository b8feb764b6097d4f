// Package metrics exposes the intake pipeline's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the referral pipeline.
type Metrics struct {
	// Outcomes
	ReferralsTotal     *prometheus.CounterVec
	NotReferralsTotal  prometheus.Counter
	DuplicatesTotal    prometheus.Counter
	DownstreamFailures *prometheus.CounterVec

	// Decision quality and latency
	Confidence     *prometheus.HistogramVec
	ProcessingTime prometheus.Histogram

	// Review loop
	ReviewsTotal *prometheus.CounterVec
}

// New returns the process-wide metrics, registering them on first use.
//
// Metrics:
//   - intake_referrals_total{action,urgency}
//   - intake_not_referrals_total
//   - intake_duplicates_total
//   - intake_downstream_failures_total{target}
//   - intake_decision_confidence{action}
//   - intake_processing_time_milliseconds
//   - intake_reviews_total{verdict}
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ReferralsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "intake_referrals_total",
					Help: "Referrals decided, by action and urgency",
				},
				[]string{"action", "urgency"},
			),
			NotReferralsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "intake_not_referrals_total",
				Help: "Inbound messages that were not referrals",
			}),
			DuplicatesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "intake_duplicates_total",
				Help: "Redelivered messages answered from the ledger",
			}),
			DownstreamFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "intake_downstream_failures_total",
					Help: "Failed downstream calls, by target",
				},
				[]string{"target"}, // "notifier", "store", "review"
			),
			Confidence: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "intake_decision_confidence",
					Help:    "Confidence of decisions",
					Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
				},
				[]string{"action"},
			),
			ProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "intake_processing_time_milliseconds",
				Help:    "Extraction and decision time per referral",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			}),
			ReviewsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "intake_reviews_total",
					Help: "Coordinator review verdicts",
				},
				[]string{"verdict"},
			),
		}
	})
	return globalMetrics
}
