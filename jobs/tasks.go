package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAssignmentSweep removes role assignments whose target object no longer exists.
	TaskAssignmentSweep = "rbac:assignments:sweep"
)

// SweepPayload describes one sweep request.
type SweepPayload struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewSweepTask constructs an Asynq task for the assignment sweep.
func NewSweepTask(reason string) (*asynq.Task, error) {
	if reason == "" {
		reason = "manual"
	}
	data, err := json.Marshal(SweepPayload{Reason: reason, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAssignmentSweep, data, asynq.Queue(QueueDefault), asynq.Unique(time.Minute)), nil
}
