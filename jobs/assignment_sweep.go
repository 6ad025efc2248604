package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-rbac/internal/jobs"
)

// Sweeper removes assignments that point at untracked objects.
type Sweeper interface {
	SweepDanglingAssignments(ctx context.Context) (int, error)
}

// AssignmentSweepJob runs the dangling assignment sweep.
type AssignmentSweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAssignmentSweepJob initialises the sweep handler.
func NewAssignmentSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *AssignmentSweepJob {
	return &AssignmentSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep.
func (j *AssignmentSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("assignment sweep: handler not configured")
	}
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskAssignmentSweep)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.String("reason", payload.Reason))
	subjects, err := j.Sweeper.SweepDanglingAssignments(ctx)
	if err != nil {
		logger.Error("assignment sweep failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddSwept(subjects)
	logger.Info("assignment sweep finished", slog.Int("subjects", subjects))
	return nil
}

func (j *AssignmentSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
