// Package cleanup runs the periodic background sweeps: expiring stale
// revocation confirmations and purging aged revoked keys. Both sweeps work
// in bounded chunks, one transaction per chunk, and are idempotent: a sweep
// cut short by its time budget simply leaves the remainder for the next run.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/securenotify/keygate/internal/audit"
	"github.com/securenotify/keygate/internal/config"
	"github.com/securenotify/keygate/internal/revocation"
	"github.com/securenotify/keygate/pkg/models"
)

// Store is the slice of the data layer the job needs.
type Store interface {
	ListExpiredPendingRequestIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ExpireRequests(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	ListPurgeableKeyIDs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	PurgeKeys(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// Invalidator evicts cached permission sets for purged keys.
type Invalidator interface {
	Invalidate(ctx context.Context, apiKeyID uuid.UUID) error
}

// Summary reports one sweep invocation. Errors holds sanitized per-chunk
// failure messages; full detail has already been logged.
type Summary struct {
	Expired int64
	Purged  int64
	Errors  []string
}

// Job is the batch cleanup worker. It holds no locks shared with the request
// path; all contention is resolved by the store's conditional updates.
type Job struct {
	store Store
	audit audit.Emitter
	perms Invalidator
	cfg   config.CleanupConfig
	now   func() time.Time
}

func NewJob(s Store, emitter audit.Emitter, perms Invalidator, cfg config.CleanupConfig) *Job {
	return &Job{
		store: s,
		audit: emitter,
		perms: perms,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the job on its configured interval until ctx is cancelled.
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	slog.Info("cleanup job started",
		"interval", j.cfg.Interval, "chunk_size", j.cfg.ChunkSize, "retention", j.cfg.Retention)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup job stopped")
			return
		case <-ticker.C:
			summary := j.Run(ctx)
			slog.Info("cleanup sweep finished",
				"expired", summary.Expired, "purged", summary.Purged, "errors", len(summary.Errors))
		}
	}
}

// Run performs one full sweep: expire stale confirmations, then purge aged
// revoked keys. The time budget is checked between chunks only; a chunk in
// flight always runs to completion.
func (j *Job) Run(ctx context.Context) Summary {
	deadline := j.now().Add(j.cfg.TimeBudget)
	var summary Summary

	j.expireSweep(ctx, deadline, &summary)
	j.purgeSweep(ctx, deadline, &summary)

	return summary
}

func (j *Job) expireSweep(ctx context.Context, deadline time.Time, summary *Summary) {
	now := j.now()
	ids, err := j.store.ListExpiredPendingRequestIDs(ctx, now)
	if err != nil {
		slog.Error("expire sweep: listing failed", "error", err)
		summary.Errors = append(summary.Errors, "Failed to list expired requests: Operation failed")
		return
	}

	for _, chunk := range chunks(ids, j.cfg.ChunkSize) {
		if j.now().After(deadline) {
			slog.Warn("expire sweep: time budget exhausted", "remaining", len(ids))
			return
		}

		n, err := j.store.ExpireRequests(ctx, chunk, now)
		if err != nil {
			// This chunk's transaction rolled back on its own; prior
			// chunks are already committed. Keep going.
			summary.Errors = append(summary.Errors,
				revocation.SanitizeRecordError(chunk[0], err))
			continue
		}
		summary.Expired += n
		j.audit.Emit(ctx, audit.Event{
			Action:  models.AuditActionCleanupExpire,
			Outcome: models.AuditOutcomeAllowed,
			Detail:  chunkDetail(n, chunk),
		})
	}
}

func (j *Job) purgeSweep(ctx context.Context, deadline time.Time, summary *Summary) {
	cutoff := j.now().Add(-j.cfg.Retention)
	ids, err := j.store.ListPurgeableKeyIDs(ctx, cutoff)
	if err != nil {
		slog.Error("purge sweep: listing failed", "error", err)
		summary.Errors = append(summary.Errors, "Failed to list purgeable keys: Operation failed")
		return
	}

	for _, chunk := range chunks(ids, j.cfg.ChunkSize) {
		if j.now().After(deadline) {
			slog.Warn("purge sweep: time budget exhausted", "remaining", len(ids))
			return
		}

		n, err := j.store.PurgeKeys(ctx, chunk)
		if err != nil {
			summary.Errors = append(summary.Errors,
				revocation.SanitizeRecordError(chunk[0], err))
			continue
		}
		summary.Purged += n

		for _, id := range chunk {
			if err := j.perms.Invalidate(ctx, id); err != nil {
				slog.Warn("purge sweep: cache invalidation failed", "api_key_id", id, "error", err)
			}
		}

		// One audit entry per chunk, not per row, to bound log volume.
		j.audit.Emit(ctx, audit.Event{
			Action:  models.AuditActionCleanupPurge,
			Outcome: models.AuditOutcomeAllowed,
			Detail:  chunkDetail(n, chunk),
		})
	}
}

func chunkDetail(n int64, chunk []uuid.UUID) string {
	return fmt.Sprintf("%d records, ids %s..%s", n, chunk[0], chunk[len(chunk)-1])
}

func chunks(ids []uuid.UUID, size int) [][]uuid.UUID {
	var out [][]uuid.UUID
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
