// Package hygiene implements the periodic sweep of spec §4.9: TTL expiry,
// idle subscription pruning, history compaction, and fanout watermark
// advance. Adapted from the teacher's tenant-by-tenant janitor loop —
// ticker-driven, immediate first run, per-owner error isolation so one
// bad tenant never blocks the rest.
package hygiene

import (
	"context"
	"time"

	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/retention"
	"github.com/Ai-Layer-Labs/breadcrumb-core/internal/store"
	"github.com/rs/zerolog/log"
)

// Loop runs the periodic sweep over every tenant known to the store.
type Loop struct {
	Store               store.Store
	Interval            time.Duration
	IdleSubscriptionTTL time.Duration
	HistoryTTL          time.Duration
	HistoryMaxVersions  int
	BatchSize           int
	Archiver            retention.HistoryArchiver // optional; nil skips archival
}

// NewLoop applies spec defaults: 5 minute interval, 50-row batches.
func NewLoop(s store.Store, interval, idleTTL, historyTTL time.Duration, historyMaxVersions int) *Loop {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Loop{
		Store:               s,
		Interval:            interval,
		IdleSubscriptionTTL: idleTTL,
		HistoryTTL:          historyTTL,
		HistoryMaxVersions:  historyMaxVersions,
		BatchSize:           50,
	}
}

// RunOnce executes a single sweep cycle immediately, for the curator-role
// POST /hygiene/run endpoint.
func (l *Loop) RunOnce(ctx context.Context) {
	l.runCycle(ctx)
}

// Run ticks until ctx is canceled, running one cycle immediately.
func (l *Loop) Run(ctx context.Context) {
	l.runCycle(ctx)

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runCycle(ctx)
		}
	}
}

// runCycle sweeps every tenant in turn. A failing tenant is logged and
// skipped rather than aborting the whole cycle.
func (l *Loop) runCycle(ctx context.Context) {
	tenants, err := l.Store.ListTenants(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("hygiene: list tenants failed")
		return
	}

	var expired, idled, pruned int
	for _, t := range tenants {
		expired += l.sweepExpired(ctx, t.ID)
		idled += l.sweepIdleSubscriptions(ctx, t.ID)
		pruned += l.compactHistory(ctx, t.ID)
		l.resyncWatermark(ctx, t.ID)
	}

	if expired+idled+pruned > 0 {
		log.Info().
			Int("tenants", len(tenants)).
			Int("expired_breadcrumbs", expired).
			Int("idle_subscriptions", idled).
			Int("history_rows_pruned", pruned).
			Msg("hygiene cycle complete")
	}
}

// sweepExpired deletes breadcrumbs whose TTL policy has lapsed, in
// bounded batches so no single cycle holds a long-running transaction
// (spec §4.9: "chunked deletes, no long transactions").
func (l *Loop) sweepExpired(ctx context.Context, owner string) int {
	count := 0
	for {
		ids, err := l.Store.ExpiredBreadcrumbs(ctx, owner, time.Now(), l.BatchSize)
		if err != nil {
			log.Warn().Err(err).Str("owner", owner).Msg("hygiene: list expired breadcrumbs failed")
			return count
		}
		if len(ids) == 0 {
			return count
		}
		for _, id := range ids {
			if _, err := l.Store.DeleteBreadcrumb(ctx, owner, id, 0); err != nil {
				log.Warn().Err(err).Str("breadcrumb_id", id).Msg("hygiene: expire breadcrumb failed")
				continue
			}
			count++
		}
		if len(ids) < l.BatchSize {
			return count
		}
	}
}

// sweepIdleSubscriptions drops subscriptions that have received no
// matching event in longer than IdleSubscriptionTTL.
func (l *Loop) sweepIdleSubscriptions(ctx context.Context, owner string) int {
	if l.IdleSubscriptionTTL <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-l.IdleSubscriptionTTL)
	idle, err := l.Store.IdleSubscriptions(ctx, owner, cutoff, l.BatchSize)
	if err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("hygiene: list idle subscriptions failed")
		return 0
	}
	count := 0
	for _, sub := range idle {
		if err := l.Store.CancelDeliveriesForSubscription(ctx, sub.ID); err != nil {
			log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("hygiene: cancel deliveries failed")
		}
		if err := l.Store.DeleteSubscription(ctx, owner, sub.ID); err != nil {
			log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("hygiene: drop idle subscription failed")
			continue
		}
		count++
	}
	return count
}

// compactHistory prunes history rows older than HistoryTTL or beyond
// HistoryMaxVersions per breadcrumb. The age bound takes precedence: a
// version within HistoryMaxVersions but older than HistoryTTL is still
// pruned, per the standing decision in the design notes.
func (l *Loop) compactHistory(ctx context.Context, owner string) int {
	if l.HistoryTTL <= 0 && l.HistoryMaxVersions <= 0 {
		return 0
	}
	var olderThan time.Time
	if l.HistoryTTL > 0 {
		olderThan = time.Now().Add(-l.HistoryTTL)
	}
	pruned, err := l.Store.PruneHistory(ctx, owner, olderThan, l.HistoryMaxVersions, l.BatchSize)
	if err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("hygiene: prune history failed")
		return 0
	}
	if l.Archiver != nil && len(pruned) > 0 {
		if _, err := l.Archiver.ArchiveHistory(ctx, owner, pruned); err != nil {
			log.Warn().Err(err).Str("owner", owner).Msg("hygiene: archive pruned history failed")
		}
	}
	return len(pruned)
}

// resyncWatermark advances the fanout watermark past any breadcrumb
// updated since the last recorded mark. It only advances the mark: the
// rows it finds are not re-published through the fanout engine.
func (l *Loop) resyncWatermark(ctx context.Context, owner string) {
	mark, err := l.Store.FanoutWatermark(ctx, owner)
	if err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("hygiene: read fanout watermark failed")
		return
	}
	rows, err := l.Store.BreadcrumbsUpdatedSince(ctx, owner, mark, l.BatchSize)
	if err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("hygiene: watermark resync scan failed")
		return
	}
	if len(rows) == 0 {
		return
	}
	latest := mark
	for _, b := range rows {
		if b.UpdatedAt.After(latest) {
			latest = b.UpdatedAt
		}
	}
	if err := l.Store.AdvanceFanoutWatermark(ctx, owner, latest); err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("hygiene: advance fanout watermark failed")
	}
}
