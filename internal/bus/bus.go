// Package bus provides the durable pub/sub transport the fanout engine
// publishes committed events on (spec §4.7), each consumer tracking its
// own replay position. The fanout engine publishes on the
// "bc.{id}.{kind}" subject only; AgentSubject builds
// "agents.{agent_id}.events" names, but no event is published on them.
package bus

import (
	"context"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
)

// Message wraps a published event with the subject it was published on
// and a durable position a consumer can resume from.
type Message struct {
	Subject  string
	Event    models.Event
	Position string
}

// Consumer reads messages from one or more subjects starting at a given
// position ("" means "from now").
type Consumer interface {
	// Next blocks until a message is available or ctx is canceled.
	Next(ctx context.Context) (Message, error)
	// Ack advances this consumer's durable position past msg. Until
	// acked, a redelivery on reconnect is possible (at-least-once).
	Ack(ctx context.Context, msg Message) error
	Close() error
}

// Bus is the durable pub/sub transport. Publish never blocks on slow
// consumers; each consumer's own queue absorbs backpressure.
type Bus interface {
	Publish(ctx context.Context, subject string, event models.Event) error
	// Subscribe opens a named, durable consumer on subject starting at
	// position. An empty string means "from now" in both drivers;
	// RedisBus also accepts "beginning" to start a new consumer group at
	// the start of the stream, and MemoryBus ignores position.
	Subscribe(ctx context.Context, subject, consumerName, position string) (Consumer, error)
	Close() error
}

// Subjects builds the canonical subject names an event is published on.
func Subjects(e models.Event) []string {
	return []string{
		"bc." + e.BreadcrumbID + "." + string(e.Type),
	}
}

// AgentSubject builds the per-agent events subject.
func AgentSubject(agentID string) string {
	return "agents." + agentID + ".events"
}
