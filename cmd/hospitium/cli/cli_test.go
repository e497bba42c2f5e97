package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospitium/hospitium/internal/audit"
	"github.com/hospitium/hospitium/internal/catalog"
	"github.com/hospitium/hospitium/internal/rbac"
	"github.com/hospitium/hospitium/jobs"
)

func newAdminCLI(t *testing.T) (*AdminCLI, *rbac.Engine, *audit.MemoryRepository) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	engine := rbac.NewEngine(cat, rbac.NewMemoryRepository())
	repo := audit.NewMemoryRepository()
	admin, err := NewAdminCLI(engine, audit.NewTrail(repo))
	require.NoError(t, err)
	return admin, engine, repo
}

func TestGrantCommandJSON(t *testing.T) {
	admin, engine, repo := newAdminCLI(t)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	code := admin.GrantCommand(context.Background(), GrantOptions{
		Principal:  "root-1",
		Role:       "Superadmin",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	require.Equal(t, 0, code, stderr.String())

	var summary grantSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	assert.Equal(t, "superadmin", summary.Role)
	assert.False(t, summary.AlreadyAssigned)
	assert.Equal(t, 1, repo.Len())

	ok, err := engine.HasPermission(context.Background(), rbac.Principal{ID: "root-1"}, "anything.at-all", "t1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGrantCommandAlreadyAssigned(t *testing.T) {
	admin, _, repo := newAdminCLI(t)
	opts := GrantOptions{Principal: "u1", Role: "auditor", Tenant: "t1", Stdout: new(bytes.Buffer), Stderr: new(bytes.Buffer)}
	require.Equal(t, 0, admin.GrantCommand(context.Background(), opts))

	stdout := new(bytes.Buffer)
	opts.Stdout = stdout
	require.Equal(t, 0, admin.GrantCommand(context.Background(), opts))
	assert.Contains(t, stdout.String(), "already holds auditor in tenant t1")
	assert.Equal(t, 1, repo.Len())
}

func TestGrantCommandRejectsInput(t *testing.T) {
	admin, _, repo := newAdminCLI(t)

	stderr := new(bytes.Buffer)
	code := admin.GrantCommand(context.Background(), GrantOptions{Role: "auditor", Stdout: new(bytes.Buffer), Stderr: stderr})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "--principal and --role are required")

	stderr.Reset()
	code = admin.GrantCommand(context.Background(), GrantOptions{Principal: "u1", Role: "janitor", Stdout: new(bytes.Buffer), Stderr: stderr})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown role")
	assert.Equal(t, 0, repo.Len())
}

func TestRevokeCommand(t *testing.T) {
	admin, engine, repo := newAdminCLI(t)
	ctx := context.Background()
	_, err := engine.AssignRole(ctx, "u1", "auditor", "t1")
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	opts := GrantOptions{Principal: "u1", Role: "auditor", Tenant: "t1", Stdout: stdout, Stderr: new(bytes.Buffer)}
	require.Equal(t, 0, admin.RevokeCommand(ctx, opts))
	assert.Contains(t, stdout.String(), "revoked auditor from u1 in tenant t1")
	assert.Equal(t, 1, repo.Len())

	assert.Equal(t, 2, admin.RevokeCommand(ctx, opts))
}

func TestNewAdminCLIRequiresAssigner(t *testing.T) {
	_, err := NewAdminCLI(nil, nil)
	require.Error(t, err)
}

type stubInspector struct {
	info     *asynq.QueueInfo
	err      error
	requeued int
	closed   bool
}

func (s *stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.info, nil
}

func (s *stubInspector) RunAllArchivedTasks(queue string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.requeued, nil
}

func (s *stubInspector) Close() error {
	s.closed = true
	return nil
}

func TestJobsCLIInspectQueue(t *testing.T) {
	stub := &stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueAudit, Pending: 2, Retry: 1, Archived: 3}}
	c := &JobsCLI{inspector: stub}

	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Queue: jobs.QueueAudit, Pending: 2, Retry: 1, Archived: 3}, stats)

	require.NoError(t, c.Close())
	assert.True(t, stub.closed)
}

func TestJobsCLIMissingQueue(t *testing.T) {
	c := &JobsCLI{inspector: &stubInspector{err: asynq.ErrQueueNotFound}}

	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.QueueAudit, stats.Queue)

	n, err := c.RequeueArchived(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJobsCLIRequeueArchived(t *testing.T) {
	c := &JobsCLI{inspector: &stubInspector{requeued: 4}}
	n, err := c.RequeueArchived(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	c = &JobsCLI{inspector: &stubInspector{err: errors.New("redis down")}}
	_, err = c.RequeueArchived(context.Background())
	require.Error(t, err)
}
