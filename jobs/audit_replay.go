package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/hospitium/hospitium/internal/audit"
	"github.com/hospitium/hospitium/internal/observability"
)

// AuditWriter is the write side of the audit repository.
type AuditWriter interface {
	Insert(ctx context.Context, e audit.Entry) error
}

// AuditReplayJob writes escalated audit entries.
type AuditReplayJob struct {
	Writer  AuditWriter
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewAuditReplayJob constructs the job handler.
func NewAuditReplayJob(writer AuditWriter, logger *slog.Logger, metrics *observability.Metrics) *AuditReplayJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditReplayJob{Writer: writer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditReplay tasks. Malformed payloads are not retried.
func (j *AuditReplayJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AuditReplayPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.Metrics.JobProcessed(TaskAuditReplay, "invalid")
		return fmt.Errorf("jobs: decode audit replay: %v: %w", err, asynq.SkipRetry)
	}
	e := payload.Entry
	if e.ID == uuid.Nil || e.Action == "" || e.Resource == "" || e.CreatedAt.IsZero() {
		j.Metrics.JobProcessed(TaskAuditReplay, "invalid")
		return fmt.Errorf("jobs: incomplete audit entry %s: %w", e.ID, asynq.SkipRetry)
	}
	if err := j.Writer.Insert(ctx, e); err != nil {
		j.Metrics.JobProcessed(TaskAuditReplay, "error")
		j.Metrics.AuditWriteFailed("replay")
		j.Logger.Error("audit replay", slog.String("entry_id", e.ID.String()), slog.Any("error", err))
		return err
	}
	j.Metrics.JobProcessed(TaskAuditReplay, "ok")
	j.Logger.Info("audit entry replayed",
		slog.String("entry_id", e.ID.String()),
		slog.String("action", e.Action),
		slog.String("cause", payload.Cause),
	)
	return nil
}
