package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/kioskops/kioskops/internal/jobs"
)

// Expirer moves overdue records to EXPIRED and reports how many changed.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// ExpirySweepJob runs one Expirer on a schedule.
type ExpirySweepJob struct {
	Name    string
	Entity  string
	Target  Expirer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpirySweepJob wires dependencies for a sweep handler.
func NewExpirySweepJob(name, entity string, target Expirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweepJob{
		Name:    name,
		Entity:  entity,
		Target:  target,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes sweep tasks.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Target == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	var payload SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.clock()
	}

	tracker := j.Metrics.Track(j.Name)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.Logger.With(slog.String("job", j.Name), slog.Time("as_of", asOf))
	n, err := j.Target.ExpireDue(ctx, asOf)
	if err != nil {
		logger.Error("expiry sweep failed", slog.Int("expired", n), slog.Any("error", err))
		return err
	}
	j.Metrics.AddExpired(j.Entity, n)
	logger.Info("expiry sweep completed", slog.Int("expired", n))
	return nil
}

// KeyPruner deletes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes the idempotency key table.
type IdempotencyCleanupJob struct {
	Store  KeyPruner
	Logger *slog.Logger
}

// Handle processes TaskIdempotencyCleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention <= 0 {
		payload.Retention = 7 * 24 * time.Hour
	}
	n, err := j.Store.Cleanup(ctx, payload.Retention)
	if err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("idempotency keys pruned", slog.Int64("deleted", n))
	}
	return nil
}
