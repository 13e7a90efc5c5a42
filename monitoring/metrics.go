package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payfast",
			Name:      "gateway_requests_total",
			Help:      "Gateway calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payfast",
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of gateway calls",
			Buckets:   []float64{0.02, 0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.2, 2, 3, 5, 10},
		},
		[]string{"operation"},
	)

	statusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payfast",
			Name:      "status_polls_total",
			Help:      "Status polls by normalized status",
		},
		[]string{"status"},
	)

	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payfast",
			Name:      "reconciliations_total",
			Help:      "Completed backoff reconciliations by final status",
		},
		[]string{"status"},
	)

	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "payfast",
			Name:      "reconcile_duration_seconds",
			Help:      "Wall-clock time of backoff reconciliations",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payfast",
			Name:      "webhook_events_total",
			Help:      "Webhook events by type and verification result",
		},
		[]string{"type", "verified"},
	)

	initiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payfast",
			Name:      "initiations_total",
			Help:      "Payment initiations by resulting attempt state",
		},
		[]string{"state"},
	)
)

func TrackGatewayCall(operation, outcome string, d time.Duration) {
	gatewayRequests.WithLabelValues(operation, outcome).Inc()
	gatewayDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func TrackStatusPoll(status string) {
	statusPolls.WithLabelValues(status).Inc()
}

func TrackReconciliation(status string, d time.Duration) {
	reconciliations.WithLabelValues(status).Inc()
	reconcileDuration.Observe(d.Seconds())
}

func TrackWebhook(eventType string, verified bool) {
	v := "false"
	if verified {
		v = "true"
	}
	webhookEvents.WithLabelValues(eventType, v).Inc()
}

func TrackInitiation(state string) {
	initiations.WithLabelValues(state).Inc()
}
