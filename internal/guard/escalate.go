package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/hospitium/hospitium/internal/audit"
	"github.com/hospitium/hospitium/internal/observability"
)

// Escalator receives audit entries whose write failed. Implementations must
// not block the request for long and must not return errors to it.
type Escalator interface {
	Escalate(ctx context.Context, entry audit.Entry, cause error)
}

// LogEscalator logs the full entry and counts the failure.
type LogEscalator struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewLogEscalator constructs a LogEscalator.
func NewLogEscalator(logger *slog.Logger, metrics *observability.Metrics) *LogEscalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEscalator{logger: logger, metrics: metrics}
}

// Escalate implements Escalator.
func (l *LogEscalator) Escalate(_ context.Context, entry audit.Entry, cause error) {
	l.metrics.AuditWriteFailed("write")
	l.logger.Error("audit write failed",
		slog.String("entry_id", entry.ID.String()),
		slog.String("actor", entry.Actor),
		slog.String("action", entry.Action),
		slog.String("resource", entry.Resource),
		slog.String("tenant", entry.TenantID),
		slog.Time("created_at", entry.CreatedAt),
		slog.Any("metadata", entry.Metadata),
		slog.Any("error", cause),
	)
}

// Enqueuer schedules an entry for asynchronous replay.
type Enqueuer interface {
	EnqueueAuditReplay(ctx context.Context, entry audit.Entry, cause error) error
}

// QueueEscalator hands failed entries to a replay queue. When the queue is
// unreachable too, it falls back to its log escalator.
type QueueEscalator struct {
	queue    Enqueuer
	fallback *LogEscalator
	logger   *slog.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
}

// NewQueueEscalator constructs a QueueEscalator.
func NewQueueEscalator(queue Enqueuer, logger *slog.Logger, metrics *observability.Metrics) *QueueEscalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueEscalator{
		queue:    queue,
		fallback: NewLogEscalator(logger, metrics),
		logger:   logger,
		metrics:  metrics,
		timeout:  time.Second,
	}
}

// Escalate implements Escalator.
func (q *QueueEscalator) Escalate(ctx context.Context, entry audit.Entry, cause error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.queue.EnqueueAuditReplay(ctx, entry, cause); err != nil {
		q.metrics.AuditWriteFailed("enqueue")
		q.logger.Error("audit replay enqueue failed", slog.String("entry_id", entry.ID.String()), slog.Any("error", err))
		q.fallback.Escalate(ctx, entry, cause)
		return
	}
	q.metrics.AuditWriteFailed("write")
	q.logger.Warn("audit write escalated to replay queue",
		slog.String("entry_id", entry.ID.String()),
		slog.String("action", entry.Action),
		slog.Any("error", cause),
	)
}

// Escalators fans an entry out to every escalator in order.
type Escalators []Escalator

// Escalate implements Escalator.
func (es Escalators) Escalate(ctx context.Context, entry audit.Entry, cause error) {
	for _, e := range es {
		if e != nil {
			e.Escalate(ctx, entry, cause)
		}
	}
}
