package observer

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// --- Webhook metrics ---
var (
	webhookLabels       = []string{"endpoint"}
	webhookResultLabels = []string{"endpoint", "result"}

	webhooksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingestor_webhooks_received_total",
			Help: "Total number of webhook requests received, by endpoint.",
		},
		webhookLabels,
	)
	webhooksHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingestor_webhooks_handled_total",
			Help: "Total number of webhook requests handled, by endpoint and result category.",
		},
		webhookResultLabels,
	)
	webhookDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_ingestor_webhook_duration_seconds",
			Help:    "Histogram of end-to-end webhook handling durations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		webhookLabels,
	)

	pipelineStageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_ingestor_pipeline_stage_duration_seconds",
			Help:    "Histogram of durations of individual pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"stage"},
	)
)

// --- Media relay metrics ---
var (
	mediaRelayTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingestor_media_relay_total",
			Help: "Media relay attempts by origin (request, worker) and outcome.",
		},
		[]string{"origin", "company_id", "outcome"},
	)
	mediaRelayBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingestor_media_relay_bytes_total",
			Help: "Total bytes uploaded to object storage by the media relay.",
		},
		[]string{"company_id"},
	)
	mediaRelayDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_ingestor_media_relay_duration_seconds",
			Help:    "Histogram of media relay durations (download + upload).",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"origin"},
	)
)

// --- Relay worker (JetStream) metrics ---
var (
	relayFetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_ingestor_relay_fetch_requests_total",
		Help: "Total number of fetch requests made to the relay stream.",
	})
	relayFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_ingestor_relay_fetch_errors_total",
		Help: "Total number of errors encountered while fetching relay tasks.",
	})
	relayQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_ingestor_relay_queue_length",
		Help: "Current number of relay tasks waiting in the worker channel.",
	})
	relayWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_ingestor_relay_workers_active",
		Help: "Current number of running relay worker goroutines.",
	})
	relayTaskOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingestor_relay_task_outcomes_total",
			Help: "Relay task outcomes: published, duplicate, ack, retry, term, exhausted, publish_error.",
		},
		[]string{"company_id", "outcome"},
	)
)

// --- Attribution worker metrics ---
var (
	attributionTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingestor_attribution_tasks_submitted_total",
			Help: "Total number of lead attribution tasks submitted to the worker pool.",
		},
		[]string{"company_id", "source"},
	)
	attributionTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingestor_attribution_tasks_processed_total",
			Help: "Total number of lead attribution tasks processed, by final status.",
		},
		[]string{"company_id", "source", "status"},
	)
	attributionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_ingestor_attribution_duration_seconds",
			Help:    "Histogram of lead attribution task durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	attributionQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crm_ingestor_attribution_queue_length",
		Help: "Approximate number of tasks waiting for an attribution worker.",
	})
	engagementScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crm_ingestor_engagement_score",
		Help:    "Distribution of computed visitor engagement scores.",
		Buckets: prometheus.LinearBuckets(0, 1, 11),
	})
	customFieldsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingestor_custom_fields_created_total",
			Help: "Custom field definitions auto-created, by inferred type.",
		},
		[]string{"company_id", "field_type"},
	)
)

// --- Sweeper metrics ---
var (
	sweeperRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingestor_sweeper_runs_total",
			Help: "Media sweeper runs by status.",
		},
		[]string{"status"},
	)
	sweeperTasksEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crm_ingestor_sweeper_tasks_enqueued_total",
		Help: "Relay tasks enqueued by the media sweeper.",
	})
)

// --- Database metrics ---
var (
	dbOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_ingestor_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"operation", "entity", "company_id", "status"},
	)
)

// InitMetrics toggles metric collection. Collectors are registered by promauto at package init.
func InitMetrics(enabled bool) {
	metricsEnabled.Store(enabled)
}

func enabled() bool {
	return metricsEnabled.Load()
}

// sanitizeTenant ensures the tenant label is never empty.
func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

// IncWebhookReceived counts an inbound webhook request.
func IncWebhookReceived(endpoint string) {
	if !enabled() {
		return
	}
	webhooksReceivedTotal.WithLabelValues(endpoint).Inc()
}

// IncWebhookHandled counts a handled webhook by result category (see apperrors.Category).
func IncWebhookHandled(endpoint, result string) {
	if !enabled() {
		return
	}
	webhooksHandledTotal.WithLabelValues(endpoint, result).Inc()
}

// ObserveWebhookDuration records how long a webhook took end to end.
func ObserveWebhookDuration(endpoint string, d time.Duration) {
	if !enabled() {
		return
	}
	webhookDurationSeconds.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveStageDuration records a single pipeline stage.
func ObserveStageDuration(stage string, d time.Duration) {
	if !enabled() {
		return
	}
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// IncMediaRelay counts a media relay attempt.
func IncMediaRelay(origin, companyID, outcome string) {
	if !enabled() {
		return
	}
	mediaRelayTotal.WithLabelValues(origin, sanitizeTenant(companyID), outcome).Inc()
}

// AddMediaRelayBytes adds uploaded bytes for a tenant.
func AddMediaRelayBytes(companyID string, n int64) {
	if !enabled() || n <= 0 {
		return
	}
	mediaRelayBytes.WithLabelValues(sanitizeTenant(companyID)).Add(float64(n))
}

// ObserveMediaRelayDuration records a relay's duration.
func ObserveMediaRelayDuration(origin string, d time.Duration) {
	if !enabled() {
		return
	}
	mediaRelayDurationSeconds.WithLabelValues(origin).Observe(d.Seconds())
}

// IncRelayFetchRequest counts a pull request against the relay stream.
func IncRelayFetchRequest() {
	if enabled() {
		relayFetchRequestsTotal.Inc()
	}
}

// IncRelayFetchError counts a failed pull request.
func IncRelayFetchError() {
	if enabled() {
		relayFetchErrorsTotal.Inc()
	}
}

// SetRelayQueueLength sets the relay worker channel depth.
func SetRelayQueueLength(n int) {
	if enabled() {
		relayQueueLength.Set(float64(n))
	}
}

// SetRelayWorkersActive sets the number of running relay workers.
func SetRelayWorkersActive(n int) {
	if enabled() {
		relayWorkersActive.Set(float64(n))
	}
}

// IncRelayTaskOutcome counts a relay task transition.
func IncRelayTaskOutcome(companyID, outcome string) {
	if enabled() {
		relayTaskOutcomesTotal.WithLabelValues(sanitizeTenant(companyID), outcome).Inc()
	}
}

// IncAttributionSubmitted counts a submitted attribution task.
func IncAttributionSubmitted(companyID, source string) {
	if enabled() {
		attributionTasksSubmittedTotal.WithLabelValues(sanitizeTenant(companyID), source).Inc()
	}
}

// IncAttributionProcessed counts a finished attribution task by status.
func IncAttributionProcessed(companyID, source, status string) {
	if enabled() {
		attributionTasksProcessedTotal.WithLabelValues(sanitizeTenant(companyID), source, status).Inc()
	}
}

// ObserveAttributionDuration records an attribution task's duration.
func ObserveAttributionDuration(source string, d time.Duration) {
	if enabled() {
		attributionDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
	}
}

// SetAttributionQueueLength sets the number of blocked attribution submitters.
func SetAttributionQueueLength(n int) {
	if enabled() {
		attributionQueueLength.Set(float64(n))
	}
}

// ObserveEngagementScore records a computed engagement score.
func ObserveEngagementScore(score int) {
	if enabled() {
		engagementScore.Observe(float64(score))
	}
}

// IncCustomFieldCreated counts an auto-created custom field definition.
func IncCustomFieldCreated(companyID, fieldType string) {
	if enabled() {
		customFieldsCreatedTotal.WithLabelValues(sanitizeTenant(companyID), fieldType).Inc()
	}
}

// IncSweeperRun counts a sweeper run by status.
func IncSweeperRun(status string) {
	if enabled() {
		sweeperRunsTotal.WithLabelValues(status).Inc()
	}
}

// AddSweeperEnqueued adds the number of tasks a sweeper run enqueued.
func AddSweeperEnqueued(n int) {
	if enabled() && n > 0 {
		sweeperTasksEnqueuedTotal.Add(float64(n))
	}
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, companyID string, duration time.Duration, err error) {
	if !enabled() {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	dbOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(companyID), status).Observe(duration.Seconds())
}
