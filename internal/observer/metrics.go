package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for webhook event metrics
	webhookEventLabels = []string{"event_type"}
	// Labels for tracking specific processing actions
	webhookActionLabels = []string{"event_type", "action", "error_type"}

	// Webhook ingestion counters
	WebhookEventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_webhook_events_received_total",
			Help: "Total number of webhook change events received, labeled by event type.",
		},
		webhookEventLabels,
	)
	WebhookEventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_webhook_events_processed_total",
			Help: "Total number of webhook change events successfully processed and acknowledged.",
		},
		webhookEventLabels,
	)
	WebhookEventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_webhook_events_failed_total",
			Help: "Total number of webhook change events that failed processing (resulting in Nak or error).",
		},
		webhookEventLabels,
	)
	WebhookEventsDedupedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_webhook_events_deduped_total",
			Help: "Total number of inbound messages skipped because the provider message id was already stored.",
		},
	)

	// Histogram for event processing duration
	WebhookProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_campaign_engine_webhook_processing_duration_seconds",
			Help:    "Histogram of webhook event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		webhookEventLabels,
	)

	// Counter for specific processing outcomes
	WebhookProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_webhook_processing_actions_total",
			Help: "Total count of specific actions taken after webhook event processing, labeled by error type.",
		},
		webhookActionLabels,
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_campaign_engine_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// Campaign dispatch metrics
var (
	campaignSendLabels = []string{"status"} // sent | failed | skipped

	campaignSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_campaign_sends_total",
			Help: "Total number of campaign send attempts, labeled by outcome.",
		},
		campaignSendLabels,
	)
	campaignSendDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wa_campaign_engine_campaign_send_duration_seconds",
			Help:    "Histogram of individual campaign send durations.",
			Buckets: prometheus.DefBuckets,
		},
	)
	campaignTasksScheduled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_campaign_engine_campaign_tasks_scheduled",
		Help: "Current number of delayed campaign send tasks waiting to fire.",
	})
	campaignsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_campaign_engine_campaigns_completed_total",
		Help: "Total number of campaigns that transitioned to completed.",
	})
)

// Media backfill metrics
var (
	mediaBackfillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_media_backfills_total",
			Help: "Total number of asynchronous media backfills, labeled by outcome.",
		},
		[]string{"status"}, // fetched | transcribed | failed
	)
)

// Provider gateway metrics
var (
	gatewayLabels = []string{"operation", "status"}

	gatewayRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_campaign_engine_gateway_request_duration_seconds",
			Help:    "Histogram of provider gateway request durations, labeled by operation and outcome.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		gatewayLabels,
	)
)

// Chatbot metrics
var (
	chatbotRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_chatbot_replies_total",
			Help: "Total number of chatbot replies sent, labeled by reply kind.",
		},
		[]string{"kind"}, // text | audio
	)
	chatbotStateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_chatbot_state_transitions_total",
			Help: "Total number of chatbot state transitions, labeled by target state.",
		},
		[]string{"to_state"},
	)
	conversationsClosedIdleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_campaign_engine_conversations_closed_idle_total",
		Help: "Total number of conversations closed by the idle sweeper.",
	})
)

// Worker pool metrics
var (
	workerPoolLabels = []string{"pool"}

	workerPoolTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_worker_pool_tasks_submitted_total",
			Help: "Total number of tasks submitted to a worker pool.",
		},
		workerPoolLabels,
	)
	workerPoolTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed by a worker pool, labeled by final status.",
		},
		[]string{"pool", "status"},
	)
	workerPoolQueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wa_campaign_engine_worker_pool_queue_length",
			Help: "Approximate number of tasks waiting in a worker pool queue.",
		},
		workerPoolLabels,
	)
)

// InitMetrics initializes the Prometheus metrics collection flag.
// Call this function during application startup.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncWebhookEventsReceived increments the events received counter.
func IncWebhookEventsReceived(eventType string) {
	if !metricsEnabled {
		return
	}
	WebhookEventsReceivedTotal.WithLabelValues(eventType).Inc()
}

// IncWebhookEventsProcessed increments the events processed counter.
func IncWebhookEventsProcessed(eventType string) {
	if !metricsEnabled {
		return
	}
	WebhookEventsProcessedTotal.WithLabelValues(eventType).Inc()
}

// IncWebhookEventsFailed increments the events failed counter.
func IncWebhookEventsFailed(eventType string) {
	if !metricsEnabled {
		return
	}
	WebhookEventsFailedTotal.WithLabelValues(eventType).Inc()
}

// IncWebhookEventsDeduped increments the dedup-skip counter.
func IncWebhookEventsDeduped() {
	if !metricsEnabled {
		return
	}
	WebhookEventsDedupedTotal.Inc()
}

// ObserveWebhookProcessingDuration records the processing time for a webhook event.
func ObserveWebhookProcessingDuration(eventType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	WebhookProcessingDurationSeconds.WithLabelValues(eventType).Observe(duration.Seconds())
}

// IncWebhookProcessingAction increments the counter for a specific processing outcome.
func IncWebhookProcessingAction(eventType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	WebhookProcessingActionsTotal.WithLabelValues(eventType, action, SanitizeErrorType(errorType)).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

// IncCampaignSend increments the campaign send counter with the given outcome.
func IncCampaignSend(status string) {
	if !metricsEnabled {
		return
	}
	campaignSendsTotal.WithLabelValues(status).Inc()
}

// ObserveCampaignSendDuration records the duration of one campaign send attempt.
func ObserveCampaignSendDuration(duration time.Duration) {
	if !metricsEnabled {
		return
	}
	campaignSendDurationSeconds.Observe(duration.Seconds())
}

// SetCampaignTasksScheduled sets the number of delayed send tasks currently waiting.
func SetCampaignTasksScheduled(count int) {
	if !metricsEnabled {
		return
	}
	campaignTasksScheduled.Set(float64(count))
}

// IncCampaignsCompleted increments the completed campaigns counter.
func IncCampaignsCompleted() {
	if !metricsEnabled {
		return
	}
	campaignsCompletedTotal.Inc()
}

// ObserveGatewayRequestDuration records the duration of one provider gateway call.
func ObserveGatewayRequestDuration(operation string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	gatewayRequestDurationSeconds.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// IncMediaBackfill increments the media backfill counter by outcome.
func IncMediaBackfill(status string) {
	if !metricsEnabled {
		return
	}
	mediaBackfillsTotal.WithLabelValues(status).Inc()
}

// IncChatbotReply increments the chatbot reply counter by reply kind.
func IncChatbotReply(kind string) {
	if !metricsEnabled {
		return
	}
	chatbotRepliesTotal.WithLabelValues(kind).Inc()
}

// IncChatbotStateTransition increments the state transition counter.
func IncChatbotStateTransition(toState string) {
	if !metricsEnabled {
		return
	}
	if toState == "" {
		toState = "idle"
	}
	chatbotStateTransitionsTotal.WithLabelValues(toState).Inc()
}

// IncConversationsClosedIdle increments the idle-close counter.
func IncConversationsClosedIdle() {
	if !metricsEnabled {
		return
	}
	conversationsClosedIdleTotal.Inc()
}

// IncWorkerPoolTasksSubmitted increments the counter for submitted pool tasks.
func IncWorkerPoolTasksSubmitted(pool string) {
	if !metricsEnabled {
		return
	}
	workerPoolTasksSubmittedTotal.WithLabelValues(pool).Inc()
}

// IncWorkerPoolTasksProcessed increments the counter for processed pool tasks by status.
func IncWorkerPoolTasksProcessed(pool, status string) {
	if !metricsEnabled {
		return
	}
	workerPoolTasksProcessedTotal.WithLabelValues(pool, status).Inc()
}

// SetWorkerPoolQueueLength sets the current pool queue length.
func SetWorkerPoolQueueLength(pool string, length int) {
	if !metricsEnabled {
		return
	}
	workerPoolQueueLength.WithLabelValues(pool).Set(float64(length))
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	// If no error (e.g., for success actions), return "none"
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
