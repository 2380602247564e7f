package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialflow/internal/clock"
	"socialflow/internal/domain"
	"socialflow/internal/sqlitedb"
)

func newTestRepo(t *testing.T, opts ...Option) (Repository, *clock.Fake) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, EnsureSchema(ctx, db))
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewSQLiteRepo(db, clk, opts...), clk
}

func TestEnqueueDefaults(t *testing.T) {
	repo, clk := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Contains(t, id, "tsk_")

	task, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskQueued, task.State)
	assert.Equal(t, DefaultPriority, task.Priority)
	assert.Equal(t, DefaultMaxAttempts, task.MaxAttempts)
	assert.True(t, task.RunAt.Equal(clk.Now()))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConfiguredDefaults(t *testing.T) {
	repo, _ := newTestRepo(t, WithMaxAttempts(2), WithVisibilityTimeout(30*time.Second))
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, domain.Task{Type: "x"})
	require.NoError(t, err)
	task, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, task.MaxAttempts)
	assert.Equal(t, 30, task.VisibilityTimeout)

	id, err = repo.Enqueue(ctx, domain.Task{Type: "x", MaxAttempts: 9})
	require.NoError(t, err)
	task, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 9, task.MaxAttempts)
}

func TestLeaseNextHonoursRunAt(t *testing.T) {
	repo, clk := newTestRepo(t)
	ctx := context.Background()

	runAt := clk.Now().Add(time.Hour)
	id, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`1`), RunAt: runAt})
	require.NoError(t, err)

	_, _, err = repo.LeaseNext(ctx, clk.Now())
	require.ErrorIs(t, err, ErrEmpty)

	_, _, err = repo.LeaseNext(ctx, runAt.Add(-time.Millisecond))
	require.ErrorIs(t, err, ErrEmpty)

	task, lease, err := repo.LeaseNext(ctx, runAt)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, domain.TaskRunning, task.State)
	assert.True(t, lease.Until.After(runAt))

	// A leased task is not handed out twice.
	_, _, err = repo.LeaseNext(ctx, runAt)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestLeaseNextSubMillisecondRunAt(t *testing.T) {
	repo, clk := newTestRepo(t)
	ctx := context.Background()
	base := clk.Now()

	id, err := repo.Enqueue(ctx, domain.Task{Type: "x", RunAt: base.Add(900 * time.Microsecond)})
	require.NoError(t, err)

	_, _, err = repo.LeaseNext(ctx, base.Add(100*time.Microsecond))
	assert.ErrorIs(t, err, ErrEmpty)
	_, _, err = repo.LeaseNext(ctx, base.Add(999*time.Microsecond))
	assert.ErrorIs(t, err, ErrEmpty)

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, stored.RunAt.Before(base.Add(900*time.Microsecond)))

	task, _, err := repo.LeaseNext(ctx, base.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
}

func TestLeaseNextOrdering(t *testing.T) {
	repo, clk := newTestRepo(t)
	ctx := context.Background()

	low, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`1`), Priority: 1})
	require.NoError(t, err)
	high, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`2`), Priority: 9})
	require.NoError(t, err)

	task, _, err := repo.LeaseNext(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, high, task.ID)

	task, _, err = repo.LeaseNext(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, low, task.ID)
}

func TestIdempotencyKey(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	key := "k1"
	first, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`1`), IdempotencyKey: &key})
	require.NoError(t, err)
	second, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`2`), IdempotencyKey: &key})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	tasks, err := repo.ListRecentTasks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestRetryThenFail(t *testing.T) {
	repo, clk := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`1`), MaxAttempts: 2})
	require.NoError(t, err)

	_, _, err = repo.LeaseNext(ctx, clk.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Retry(ctx, id, "boom", 10*time.Second))

	task, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskQueued, task.State)
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, "boom", task.LastError)
	assert.True(t, task.RunAt.Equal(clk.Now().Add(10*time.Second)))

	clk.Advance(10 * time.Second)
	_, _, err = repo.LeaseNext(ctx, clk.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Retry(ctx, id, "boom again", time.Second))

	task, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, task.State)
	assert.Equal(t, 2, task.Attempts)
}

func TestSucceedAndFail(t *testing.T) {
	repo, clk := newTestRepo(t)
	ctx := context.Background()

	ok, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`1`)})
	require.NoError(t, err)
	bad, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`2`)})
	require.NoError(t, err)

	require.NoError(t, repo.Succeed(ctx, ok))
	require.NoError(t, repo.Fail(ctx, bad, "gone"))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[domain.TaskSucceeded])
	assert.Equal(t, 1, stats[domain.TaskFailed])
	assert.Equal(t, 0, stats[domain.TaskQueued])

	clk.Advance(time.Hour)
	n, err := repo.PurgeFinished(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats[domain.TaskSucceeded])
	assert.Equal(t, 0, stats[domain.TaskFailed])
}

func TestRecoverStale(t *testing.T) {
	repo, clk := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Enqueue(ctx, domain.Task{Type: "x", Payload: []byte(`1`), VisibilityTimeout: 30})
	require.NoError(t, err)
	_, _, err = repo.LeaseNext(ctx, clk.Now())
	require.NoError(t, err)

	n, err := repo.RecoverStale(ctx, clk.Now().Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = repo.RecoverStale(ctx, clk.Now().Add(31*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskQueued, task.State)
}
