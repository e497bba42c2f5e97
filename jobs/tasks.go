package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hospitium/hospitium/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit entries escalated by the API.
	QueueAudit = "audit"
	// TaskAuditReplay re-inserts an audit entry whose synchronous write failed.
	TaskAuditReplay = "audit:replay"

	auditReplayMaxRetry  = 25
	auditReplayRetention = 7 * 24 * time.Hour
)

// AuditReplayPayload carries a fully prepared entry. The ID is fixed, so
// replaying it more than once stores it once.
type AuditReplayPayload struct {
	Entry audit.Entry `json:"entry"`
	Cause string      `json:"cause,omitempty"`
}

// NewAuditReplayTask constructs an asynq task for entry.
func NewAuditReplayTask(entry audit.Entry, cause error) (*asynq.Task, error) {
	payload := AuditReplayPayload{Entry: entry}
	if cause != nil {
		payload.Cause = cause.Error()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode audit replay: %w", err)
	}
	return asynq.NewTask(TaskAuditReplay, data,
		asynq.Queue(QueueAudit),
		asynq.MaxRetry(auditReplayMaxRetry),
		asynq.TaskID(entry.ID.String()),
		asynq.Retention(auditReplayRetention),
	), nil
}
