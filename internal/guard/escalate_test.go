package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/hospitium/hospitium/internal/audit"
	"github.com/hospitium/hospitium/internal/observability"
)

type stubEnqueuer struct {
	err      error
	enqueued []audit.Entry
}

func (s *stubEnqueuer) EnqueueAuditReplay(_ context.Context, e audit.Entry, _ error) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, e)
	return nil
}

func TestQueueEscalatorEnqueues(t *testing.T) {
	q := &stubEnqueuer{}
	esc := NewQueueEscalator(q, nil, observability.NewMetrics())
	entry := audit.Entry{ID: uuid.Must(uuid.NewV7()), Action: "roles.assign", Resource: "assignment:u-1"}

	esc.Escalate(context.Background(), entry, errors.New("timeout"))
	assert.Equal(t, []audit.Entry{entry}, q.enqueued)
}

func TestQueueEscalatorFallsBackToLog(t *testing.T) {
	q := &stubEnqueuer{err: errors.New("redis down")}
	esc := NewQueueEscalator(q, nil, nil)

	assert.NotPanics(t, func() {
		esc.Escalate(context.Background(), audit.Entry{Action: "a", Resource: "r"}, errors.New("timeout"))
	})
	assert.Empty(t, q.enqueued)
}

func TestEscalatorsFanOut(t *testing.T) {
	a, b := &captureEscalator{}, &captureEscalator{}
	fan := Escalators{a, nil, b}
	fan.Escalate(context.Background(), audit.Entry{Action: "x", Resource: "y"}, errors.New("e"))
	assert.Len(t, a.entries, 1)
	assert.Len(t, b.entries, 1)
}
