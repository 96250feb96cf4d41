package jobs

import (
	"context"
	"log/slog"
	"time"

	"requestanalytics/internal/metrics"
	"requestanalytics/internal/requests"
)

// PruneJob deletes request events older than the retention period.
type PruneJob struct {
	store         *requests.Store
	logger        *slog.Logger
	metrics       *metrics.Metrics
	retentionDays int
	batchSize     int
	now           func() time.Time
}

func NewPruneJob(store *requests.Store, logger *slog.Logger, m *metrics.Metrics, retentionDays, batchSize int) *PruneJob {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &PruneJob{
		store:         store,
		logger:        logger,
		metrics:       m,
		retentionDays: retentionDays,
		batchSize:     batchSize,
		now:           time.Now,
	}
}

// WithClock replaces the job's clock; used by tests.
func (j *PruneJob) WithClock(now func() time.Time) *PruneJob {
	j.now = now
	return j
}

// Cutoff is the newest visited_at that will be deleted.
func (j *PruneJob) Cutoff() time.Time {
	return j.now().UTC().AddDate(0, 0, -j.retentionDays)
}

// Run deletes everything visited at or before the cutoff. Running it again
// right away deletes nothing.
func (j *PruneJob) Run(ctx context.Context) (int64, error) {
	if j.retentionDays <= 0 {
		j.logger.Debug("Pruning skipped - retention is unlimited")
		return 0, nil
	}

	cutoff := j.Cutoff()
	j.logger.Info("Starting prune of old request events",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoff))

	deleted, err := j.store.Prune(ctx, cutoff, j.batchSize)
	if deleted > 0 {
		j.metrics.Pruned(deleted)
	}
	if err != nil {
		j.logger.Error("Failed to prune request events",
			slog.Int64("deleted_so_far", deleted),
			slog.Any("error", err))
		return deleted, err
	}

	j.logger.Info("Pruned old request events",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.retentionDays))
	return deleted, nil
}
