package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesila_events_published_total",
			Help: "Total number of outbox events published, by topic.",
		},
		[]string{"topic"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesila_deliveries_total",
			Help: "Total number of webhook delivery outcomes by status and integration.",
		},
		[]string{"status", "integration_id"},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onesila_delivery_latency_seconds",
			Help:    "Latency of outbound webhook HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"integration_id"},
	)

	TopicDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesila_topic_deliveries_total",
			Help: "Delivery outcomes by topic, for per-topic success rates.",
		},
		[]string{"topic", "status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesila_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_429, timeout, network
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesila_tasks_total",
			Help: "Task-queue entry outcomes by task name and terminal status.",
		},
		[]string{"task", "outcome"},
	)

	TasksDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onesila_tasks_dispatched_total",
			Help: "Total number of task-queue entries claimed and dispatched.",
		},
	)

	BudgetDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onesila_budget_deferred_total",
			Help: "Entries left pending by a sweep because of the integration rate budget.",
		},
		[]string{"integration_id"},
	)

	PrunedDeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onesila_pruned_deliveries_total",
			Help: "Delivered webhook deliveries removed by the retention pruner.",
		},
	)

	PrunedOutboxTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onesila_pruned_outbox_total",
			Help: "Outbox rows removed after all their deliveries were pruned.",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onesila_task_queue_depth",
			Help: "Task-queue entries by status.",
		},
		[]string{"status"},
	)

	NSQTopicDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onesila_nsq_topic_depth",
			Help: "NSQ topic/channel backlog depth.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsPublishedTotal,
		DeliveriesTotal,
		DeliveryLatencySeconds,
		TopicDeliveriesTotal,
		RetriesTotal,
		TasksTotal,
		TasksDispatchedTotal,
		BudgetDeferredTotal,
		PrunedDeliveriesTotal,
		PrunedOutboxTotal,
		QueueDepth,
		NSQTopicDepth,
	)
}

// RecordEventPublished increments the published-events counter for a topic.
func RecordEventPublished(topic string) {
	EventsPublishedTotal.WithLabelValues(topic).Inc()
}

// RecordDelivery records one delivery outcome with its latency.
func RecordDelivery(status, integrationID string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status, integrationID).Inc()
	if latency > 0 {
		DeliveryLatencySeconds.WithLabelValues(integrationID).Observe(latency.Seconds())
	}
}

// RecordTopicDelivery records a delivery outcome under its topic.
func RecordTopicDelivery(topic, status string) {
	TopicDeliveriesTotal.WithLabelValues(topic, status).Inc()
}

// RecordRetry increments the retry counter for a classified reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordTask records a terminal task-queue outcome.
func RecordTask(task, outcome string) {
	TasksTotal.WithLabelValues(task, outcome).Inc()
}

// RecordDispatched increments the dispatched-entries counter.
func RecordDispatched() {
	TasksDispatchedTotal.Inc()
}

// RecordBudgetDeferred counts an entry deferred by the rate budget.
func RecordBudgetDeferred(integrationID string) {
	BudgetDeferredTotal.WithLabelValues(integrationID).Inc()
}

// RecordPruned adds retention pruner results to the counters.
func RecordPruned(deliveries, outboxes int64) {
	PrunedDeliveriesTotal.Add(float64(deliveries))
	PrunedOutboxTotal.Add(float64(outboxes))
}

// UpdateQueueDepth sets the task-queue depth gauge for a status.
func UpdateQueueDepth(status string, depth float64) {
	QueueDepth.WithLabelValues(status).Set(depth)
}

// UpdateNSQTopicDepth sets the NSQ backlog gauge for a topic/channel.
func UpdateNSQTopicDepth(topic, channel string, depth float64) {
	NSQTopicDepth.WithLabelValues(topic, channel).Set(depth)
}
