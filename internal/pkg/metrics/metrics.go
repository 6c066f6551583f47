// internal/pkg/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "printforge"

var (
	// WebhookEvents 按事件类型、分支和处理结果统计支付回调
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payment",
		Name:      "webhook_events_total",
		Help:      "Payment webhook events by type, branch and outcome.",
	}, []string{"type", "branch", "outcome"})

	// RetryAttempts 统计远程调用的每一次尝试
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Remote call attempts by label, provider and result.",
	}, []string{"label", "provider", "result"})

	// RetryOutcomes 统计一次完整执行的最终结果
	RetryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retry",
		Name:      "outcomes_total",
		Help:      "Final outcome of retry executions by label.",
	}, []string{"label", "outcome"})

	FulfillmentItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fulfillment",
		Name:      "items_total",
		Help:      "Processed order items by path and outcome.",
	}, []string{"path", "outcome"})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fulfillment",
		Name:      "generation_duration_seconds",
		Help:      "Asset generation latency by role.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"role"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notification",
		Name:      "messages_total",
		Help:      "Notification messages by kind and result (sent, failed, dropped).",
	}, []string{"kind", "result"})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alert",
		Name:      "alerts_total",
		Help:      "Operator alerts by type and whether they were sent or debounced.",
	}, []string{"type", "result"})
)

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
