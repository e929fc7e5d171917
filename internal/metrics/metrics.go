// Package metrics tracks the small set of in-process counters §7 and the
// hygiene/fanout sections of the spec call out by name: swallowed
// embedding failures, webhook DLQ depth, and fanout lag. No third-party
// metrics registry is wired anywhere in the example pack, so these are
// plain atomic counters exposed as JSON by GET /metrics.
package metrics

import "sync/atomic"

var (
	embeddingFailures  int64
	webhookDLQDepth    int64
	fanoutEventsTotal  int64
	fanoutLagMillis    int64
	authRejectedTotal  int64
)

// IncEmbeddingFailure records a skipped best-effort embedding.
func IncEmbeddingFailure() { atomic.AddInt64(&embeddingFailures, 1) }

// IncAuthRejected records a provider chain rejection (a registered
// provider returned an error rather than passing the request along).
func IncAuthRejected() { atomic.AddInt64(&authRejectedTotal, 1) }

// SetWebhookDLQDepth records the current dead-letter queue size.
func SetWebhookDLQDepth(n int64) { atomic.StoreInt64(&webhookDLQDepth, n) }

// IncFanoutEvent records one event published through the fanout engine.
func IncFanoutEvent() { atomic.AddInt64(&fanoutEventsTotal, 1) }

// ObserveFanoutLag records the delay between a breadcrumb's updated_at
// and the moment its event reached the fanout engine.
func ObserveFanoutLag(millis int64) { atomic.StoreInt64(&fanoutLagMillis, millis) }

// Snapshot is the JSON shape served by GET /metrics.
type Snapshot struct {
	EmbeddingFailuresTotal int64 `json:"embedding_failures_total"`
	WebhookDLQDepth        int64 `json:"webhook_dlq_depth"`
	FanoutEventsTotal      int64 `json:"fanout_events_total"`
	FanoutLagMillis        int64 `json:"fanout_lag_millis"`
	AuthRejectedTotal      int64 `json:"auth_rejected_total"`
}

// Current reads all counters as a point-in-time snapshot.
func Current() Snapshot {
	return Snapshot{
		EmbeddingFailuresTotal: atomic.LoadInt64(&embeddingFailures),
		WebhookDLQDepth:        atomic.LoadInt64(&webhookDLQDepth),
		FanoutEventsTotal:      atomic.LoadInt64(&fanoutEventsTotal),
		FanoutLagMillis:        atomic.LoadInt64(&fanoutLagMillis),
		AuthRejectedTotal:      atomic.LoadInt64(&authRejectedTotal),
	}
}
