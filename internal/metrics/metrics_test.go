package metrics

import "testing"

func TestCurrent_ReflectsCounterUpdates(t *testing.T) {
	before := Current()

	IncEmbeddingFailure()
	IncFanoutEvent()
	ObserveFanoutLag(42)
	SetWebhookDLQDepth(7)

	after := Current()
	if after.EmbeddingFailuresTotal != before.EmbeddingFailuresTotal+1 {
		t.Fatalf("expected embedding failures to increment by 1")
	}
	if after.FanoutEventsTotal != before.FanoutEventsTotal+1 {
		t.Fatalf("expected fanout events to increment by 1")
	}
	if after.FanoutLagMillis != 42 {
		t.Fatalf("expected fanout lag to be set to 42, got %d", after.FanoutLagMillis)
	}
	if after.WebhookDLQDepth != 7 {
		t.Fatalf("expected dlq depth to be set to 7, got %d", after.WebhookDLQDepth)
	}
}
