package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/hafbau/fastflow-sub001/internal/jobs"
)

// GrantExpirer is the slice of the grants service the sweep needs.
type GrantExpirer interface {
	ExpireTemporary(ctx context.Context, now time.Time) (int, error)
}

// ExpirySweepJob flips isActive off on TEMPORARY grants whose end time has
// passed. Idempotent and safe to run from multiple instances concurrently.
type ExpirySweepJob struct {
	Grants  GrantExpirer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpirySweepJob initialises the expiry sweep handler.
func NewExpirySweepJob(grants GrantExpirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	return &ExpirySweepJob{
		Grants:  grants,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep.
func (j *ExpirySweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Grants == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	tracker := j.metrics().Track(TaskExpireTemporary)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	affected, err := j.Grants.ExpireTemporary(ctx, now)
	if err != nil {
		resultErr = err
		j.logger().Error("expiry sweep failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddExpiredGrants(affected)
	if affected > 0 {
		j.logger().Info("expired temporary grants",
			slog.Int("users_affected", affected),
			slog.Time("as_of", now))
	}
	return nil
}

func (j *ExpirySweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *ExpirySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ExpirySweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}
