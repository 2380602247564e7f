package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"socialflow/internal/clock"
	"socialflow/internal/domain"
)

var ErrEmpty = errors.New("no tasks ready")

// Defaults applied by Enqueue when a task leaves them unset.
const (
	DefaultPriority          = 5
	DefaultMaxAttempts       = 5
	DefaultVisibilityTimeout = 60
)

// EnsureSchema creates tables if they don't exist. Times are stored as unix
// milliseconds so that range comparisons stay numeric.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  payload BLOB NOT NULL,
  priority INTEGER NOT NULL DEFAULT 5,
  state TEXT NOT NULL CHECK(state IN ('queued','running','succeeded','failed')) DEFAULT 'queued',
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  run_at INTEGER NOT NULL,
  lease_until INTEGER,
  visibility_timeout INTEGER NOT NULL DEFAULT 60,
  idempotency_key TEXT,
  last_error TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_run_at ON tasks(state, run_at, priority DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_idem ON tasks(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE TABLE IF NOT EXISTS task_attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id TEXT NOT NULL,
  finished_at INTEGER NOT NULL,
  success INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  FOREIGN KEY(task_id) REFERENCES tasks(id) ON DELETE CASCADE
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

type Repository interface {
	Enqueue(ctx context.Context, t domain.Task) (string, error)
	LeaseNext(ctx context.Context, now time.Time) (domain.Task, Lease, error)
	Retry(ctx context.Context, id, err string, delay time.Duration) error
	Succeed(ctx context.Context, id string) error
	Fail(ctx context.Context, id, err string) error
	RecoverStale(ctx context.Context, now time.Time) (int, error)
	PurgeFinished(ctx context.Context, before time.Time) (int, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	ListRecentTasks(ctx context.Context, limit int) ([]domain.Task, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
}

type sqliteRepo struct {
	db                *sql.DB
	clock             clock.Clock
	maxAttempts       int
	visibilityTimeout int
}

type Option func(*sqliteRepo)

// WithMaxAttempts sets the attempt budget of tasks enqueued without one.
func WithMaxAttempts(n int) Option {
	return func(r *sqliteRepo) { r.maxAttempts = n }
}

// WithVisibilityTimeout sets the lease length of tasks enqueued without one.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(r *sqliteRepo) { r.visibilityTimeout = int(d / time.Second) }
}

func NewSQLiteRepo(db *sql.DB, clk clock.Clock, opts ...Option) Repository {
	r := &sqliteRepo{
		db:                db,
		clock:             clk,
		maxAttempts:       DefaultMaxAttempts,
		visibilityTimeout: DefaultVisibilityTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type Lease struct{ Until time.Time }

// ceilMilli rounds t up to whole milliseconds so that a stored run_at is
// never earlier than the requested time.
func ceilMilli(t time.Time) int64 {
	return t.Add(time.Millisecond - time.Nanosecond).UnixMilli()
}

const taskColumns = `id,type,payload,priority,attempts,max_attempts,state,run_at,visibility_timeout,idempotency_key,last_error,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                           domain.Task
		idem                        sql.NullString
		runAt, createdAt, updatedAt int64
	)
	err := row.Scan(&t.ID, &t.Type, &t.Payload, &t.Priority, &t.Attempts, &t.MaxAttempts, &t.State,
		&runAt, &t.VisibilityTimeout, &idem, &t.LastError, &createdAt, &updatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	if idem.Valid {
		s := idem.String
		t.IdempotencyKey = &s
	}
	t.RunAt = time.UnixMilli(runAt).UTC()
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return t, nil
}

// Enqueue stores t as queued. A zero RunAt means runnable immediately. A task
// whose idempotency key is already present is not inserted again; the
// existing id is returned instead.
func (r *sqliteRepo) Enqueue(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if t.Priority == 0 {
		t.Priority = DefaultPriority
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = r.maxAttempts
	}
	if t.VisibilityTimeout == 0 {
		t.VisibilityTimeout = r.visibilityTimeout
	}
	now := r.clock.Now()
	runAt := t.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	if t.IdempotencyKey != nil {
		row := r.db.QueryRowContext(ctx, "SELECT id FROM tasks WHERE idempotency_key = ?", *t.IdempotencyKey)
		var existingID string
		if err := row.Scan(&existingID); err == nil {
			return existingID, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (id,type,payload,priority,state,attempts,max_attempts,run_at,visibility_timeout,idempotency_key,created_at,updated_at)
VALUES (?,?,?,?,'queued',0,?,?,?,?,?,?)
`, id, t.Type, t.Payload, t.Priority, t.MaxAttempts, ceilMilli(runAt), t.VisibilityTimeout, t.IdempotencyKey, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// LeaseNext claims the highest priority queued task whose run_at is not after
// now. It returns ErrEmpty when nothing is due.
func (r *sqliteRepo) LeaseNext(ctx context.Context, now time.Time) (task domain.Task, lease Lease, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, Lease{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	task, err = scanTask(tx.QueryRowContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE state='queued' AND run_at <= ?
ORDER BY priority DESC, run_at ASC, created_at ASC
LIMIT 1
`, now.UnixMilli()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, Lease{}, ErrEmpty
	}
	if err != nil {
		return domain.Task{}, Lease{}, err
	}

	leaseUntil := now.Add(time.Duration(task.VisibilityTimeout) * time.Second)
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET state='running', lease_until=?, updated_at=? WHERE id=?`,
		leaseUntil.UnixMilli(), now.UnixMilli(), task.ID)
	if err != nil {
		return domain.Task{}, Lease{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Task{}, Lease{}, err
	}
	task.State = domain.TaskRunning
	return task, Lease{Until: leaseUntil}, nil
}

func (r *sqliteRepo) recordAttempt(ctx context.Context, tx *sql.Tx, id string, success bool, errStr string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_attempts(task_id, finished_at, success, error) VALUES (?,?,?,?)`,
		id, now.UnixMilli(), success, errStr)
	return err
}

func (r *sqliteRepo) finish(ctx context.Context, id string, success bool, errStr, update string, args ...any) error {
	now := r.clock.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.recordAttempt(ctx, tx, id, success, errStr, now); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, update, append(args, now.UnixMilli(), id)...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Retry requeues the task delay from now, or fails it once max_attempts is
// reached.
func (r *sqliteRepo) Retry(ctx context.Context, id, errStr string, delay time.Duration) error {
	next := r.clock.Now().Add(delay)
	return r.finish(ctx, id, false, errStr, `
UPDATE tasks
SET attempts = attempts + 1,
    state = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
    run_at = ?,
    lease_until = NULL,
    last_error = ?,
    updated_at = ?
WHERE id = ?`, ceilMilli(next), errStr)
}

func (r *sqliteRepo) Succeed(ctx context.Context, id string) error {
	return r.finish(ctx, id, true, "",
		`UPDATE tasks SET state='succeeded', attempts = attempts + 1, lease_until=NULL, updated_at=? WHERE id=?`)
}

// Fail moves the task to failed without further attempts.
func (r *sqliteRepo) Fail(ctx context.Context, id, errStr string) error {
	return r.finish(ctx, id, false, errStr,
		`UPDATE tasks SET state='failed', attempts = attempts + 1, lease_until=NULL, last_error=?, updated_at=? WHERE id=?`, errStr)
}

// RecoverStale requeues running tasks whose lease expired before now, which
// covers workers that died mid-task.
func (r *sqliteRepo) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET state='queued', lease_until=NULL, updated_at=?
WHERE state='running' AND (lease_until IS NULL OR lease_until < ?)`, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeFinished deletes succeeded and failed tasks last touched before the
// cutoff.
func (r *sqliteRepo) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	const finished = `SELECT id FROM tasks WHERE state IN ('succeeded','failed') AND updated_at < ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_attempts WHERE task_id IN (`+finished+`)`, before.UnixMilli()); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE state IN ('succeeded','failed') AND updated_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *sqliteRepo) Get(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, err
}

func (r *sqliteRepo) ListRecentTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *sqliteRepo) Stats(ctx context.Context) (domain.QueueStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := domain.QueueStats{
		domain.TaskQueued:    0,
		domain.TaskRunning:   0,
		domain.TaskSucceeded: 0,
		domain.TaskFailed:    0,
	}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		stats[state] = n
	}
	return stats, rows.Err()
}
