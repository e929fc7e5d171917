package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis Streams: XADD publishes, consumer
// groups (XREADGROUP/XACK) give every named consumer its own durable
// position without the publisher needing to know who's listening.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects to url (a redis:// or rediss:// URL, per BUS_URL).
func NewRedisBus(ctx context.Context, url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("bus: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: connect redis: %w", err)
	}
	return &RedisBus{client: client}, nil
}

func (b *RedisBus) Publish(ctx context.Context, subject string, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: subject,
		Values: map[string]interface{}{"event": payload},
	}).Err()
}

// Subscribe creates (if absent) a consumer group named consumerName on
// subject and returns a handle reading via XREADGROUP. position only
// matters when the group is created: "beginning" starts it at the first
// stream entry, anything else at new entries ("$"). Once created, Redis
// consumer groups track their own position server-side.
func (b *RedisBus) Subscribe(ctx context.Context, subject, consumerName, position string) (Consumer, error) {
	start := "$"
	if position == "beginning" {
		start = "0"
	}
	err := b.client.XGroupCreateMkStream(ctx, subject, consumerName, start).Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("bus: create consumer group: %w", err)
	}

	return &redisConsumer{
		client:  b.client,
		subject: subject,
		group:   consumerName,
		name:    consumerName + "-reader",
	}, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 4 && err.Error()[:4] == "BUSY"
}

type redisConsumer struct {
	client  *redis.Client
	subject string
	group   string
	name    string
}

func (c *redisConsumer) Next(ctx context.Context) (Message, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.subject, ">"},
		Count:    1,
		Block:    5 * time.Second,
	}).Result()
	if err == redis.Nil {
		return Message{}, context.DeadlineExceeded
	}
	if err != nil {
		return Message{}, fmt.Errorf("bus: xreadgroup: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Message{}, context.DeadlineExceeded
	}

	entry := res[0].Messages[0]
	raw, _ := entry.Values["event"].(string)
	var event models.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Message{}, fmt.Errorf("bus: unmarshal event: %w", err)
	}

	return Message{Subject: c.subject, Event: event, Position: entry.ID}, nil
}

func (c *redisConsumer) Ack(ctx context.Context, msg Message) error {
	return c.client.XAck(ctx, c.subject, c.group, msg.Position).Err()
}

func (c *redisConsumer) Close() error { return nil }
