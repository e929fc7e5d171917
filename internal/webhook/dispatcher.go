// Package webhook implements the signed, retried delivery dispatcher of
// spec §4.8: a bounded worker pool claims due deliveries with a short
// lease, POSTs the signed event body, and moves exhausted deliveries to
// the DLQ.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/crypto"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/Ai-Layer-Labs/breadcrumb-core/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// SecretLookup resolves an agent's webhook signing secret and target URL.
type SecretLookup interface {
	WebhookEndpoint(ctx context.Context, owner, agentID string) (url, secret string, err error)
}

// Dispatcher claims due deliveries and attempts HTTP delivery.
type Dispatcher struct {
	Store       store.Store
	Secrets     SecretLookup
	Client      *http.Client
	WorkerCount int
	MaxRetries  int
	LeaseTime   time.Duration
}

// NewDispatcher builds a dispatcher with teacher-style defaults: a
// timeout-bounded client, a short claim lease, and the spec's retry cap.
func NewDispatcher(s store.Store, secrets SecretLookup, workerCount, maxRetries int) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 4
	}
	if maxRetries <= 0 {
		maxRetries = 12
	}
	return &Dispatcher{
		Store:       s,
		Secrets:     secrets,
		Client:      &http.Client{Timeout: 15 * time.Second},
		WorkerCount: workerCount,
		MaxRetries:  maxRetries,
		LeaseTime:   30 * time.Second,
	}
}

// Run starts WorkerCount claim loops and blocks until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info().Int("workers", d.WorkerCount).Msg("webhook dispatcher started")

	var wg sync.WaitGroup
	for i := 0; i < d.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(ctx)
		}()
	}
	wg.Wait()
	log.Info().Msg("webhook dispatcher stopped")
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.claimAndAttempt(ctx)
		}
	}
}

func (d *Dispatcher) claimAndAttempt(ctx context.Context) {
	deliveries, err := d.Store.ClaimDueDeliveries(ctx, d.WorkerCount, time.Now().Add(d.LeaseTime))
	if err != nil {
		log.Warn().Err(err).Msg("webhook: claim due deliveries failed")
		return
	}
	for i := range deliveries {
		d.attempt(ctx, &deliveries[i])
	}
}

func (d *Dispatcher) attempt(ctx context.Context, delivery *models.Delivery) {
	url, secret, err := d.Secrets.WebhookEndpoint(ctx, delivery.Owner, delivery.AgentID)
	if err != nil || url == "" {
		d.fail(ctx, delivery, fmt.Errorf("webhook: no endpoint configured: %w", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(delivery.Payload))
	if err != nil {
		d.fail(ctx, delivery, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Breadcrumb-Delivery-Id", delivery.ID)
	if secret != "" {
		req.Header.Set("X-RCRT-Signature", crypto.SignWebhook(secret, delivery.Payload))
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		d.fail(ctx, delivery, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		delivery.Status = models.DeliveryDelivered
		delivery.LastStatus = resp.StatusCode
		delivery.UpdatedAt = time.Now()
		if err := d.Store.UpdateDelivery(ctx, delivery); err != nil {
			log.Warn().Err(err).Str("delivery_id", delivery.ID).Msg("webhook: mark delivered failed")
		}
		return
	}
	d.fail(ctx, delivery, fmt.Errorf("webhook: http %d", resp.StatusCode))
}

// fail advances the delivery's retry state or moves it to the DLQ once
// MaxRetries is exhausted.
func (d *Dispatcher) fail(ctx context.Context, delivery *models.Delivery, cause error) {
	delivery.AttemptCount++
	delivery.LastError = cause.Error()
	delivery.UpdatedAt = time.Now()

	if delivery.AttemptCount >= d.MaxRetries {
		delivery.Status = models.DeliveryDeadLettered
		log.Warn().Str("delivery_id", delivery.ID).Int("attempts", delivery.AttemptCount).
			Err(cause).Msg("webhook: delivery dead-lettered")
	} else {
		delivery.Status = models.DeliveryPending
		delivery.NextAttemptAt = time.Now().Add(nextBackoff(delivery.AttemptCount))
	}

	if err := d.Store.UpdateDelivery(ctx, delivery); err != nil {
		log.Warn().Err(err).Str("delivery_id", delivery.ID).Msg("webhook: update delivery failed")
	}
}

// nextBackoff computes the spec §4.8 schedule: exponential from 1s,
// capped at 5 minutes, ±20% jitter, by replaying ExponentialBackOff
// attempt times (cheap — this is an in-memory generator, not an I/O wait).
func nextBackoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Minute
	b.RandomizationFactor = 0.2
	b.Multiplier = 2.0
	b.MaxElapsedTime = 0

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	if d <= 0 {
		d = b.MaxInterval
	}
	return d
}

// Retry re-queues a dead-lettered delivery for immediate retry (the
// curator-role DLQ endpoint of spec §6.1).
func Retry(ctx context.Context, s store.Store, deliveryID string) error {
	d, err := s.GetDelivery(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("webhook: get delivery: %w", err)
	}
	if d.Status != models.DeliveryDeadLettered {
		return fmt.Errorf("webhook: delivery %s is not dead-lettered", deliveryID)
	}
	d.Status = models.DeliveryPending
	d.NextAttemptAt = time.Now()
	d.AttemptCount = 0
	return s.UpdateDelivery(ctx, d)
}
