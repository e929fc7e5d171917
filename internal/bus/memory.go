package bus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
)

// MemoryBus is an in-process driver for single-node deployments and
// tests. Subscriber channels are per-consumer, buffered, and dropped-on-
// full (Publish marks such a consumer lagging rather than block).
type MemoryBus struct {
	mu       sync.RWMutex
	subs     map[string][]*memoryConsumer
	position int64
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memoryConsumer)}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, event models.Event) error {
	pos := strconv.FormatInt(atomic.AddInt64(&b.position, 1), 10)
	msg := Message{Subject: subject, Event: event, Position: pos}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.subs[subject] {
		select {
		case c.ch <- msg:
		default:
			c.lagging.Store(true)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject, consumerName, position string) (Consumer, error) {
	c := &memoryConsumer{
		bus:     b,
		subject: subject,
		ch:      make(chan Message, 256),
	}

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], c)
	b.mu.Unlock()

	return c, nil
}

func (b *MemoryBus) Close() error { return nil }

type memoryConsumer struct {
	bus     *MemoryBus
	subject string
	ch      chan Message
	lagging atomic.Bool
}

func (c *memoryConsumer) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Ack is a no-op: the in-process bus has no durable position to advance.
func (c *memoryConsumer) Ack(ctx context.Context, msg Message) error { return nil }

func (c *memoryConsumer) Close() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	subs := c.bus.subs[c.subject]
	for i, s := range subs {
		if s == c {
			c.bus.subs[c.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(c.ch)
	return nil
}
