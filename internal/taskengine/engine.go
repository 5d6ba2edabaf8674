// Package taskengine implements the durable, SQLite-backed multi-step
// task queue: submit, claim-with-lease, checkpoint, retry with backoff,
// and subtask trees bounded to a fixed depth.
package taskengine

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sorrel-ai/hearth/internal/daemon"
	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
	"github.com/sorrel-ai/hearth/internal/kernelerrors"
	"github.com/sorrel-ai/hearth/internal/metrics"
	"github.com/sorrel-ai/hearth/internal/migration"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const MaxSubtaskDepth = 3

// Status is the lifecycle state of a durable task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLeased    Status = "leased"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is a single row of durable, checkpointable work.
type Task struct {
	ID          string
	ParentID    string
	Depth       int
	AgentID     string
	Goal        string
	Status      Status
	Attempts    int
	MaxAttempts int
	Checkpoint  json.RawMessage
	Result      json.RawMessage
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Executor performs one claimed task, checkpointing as it makes
// progress via ckpt. Returning ErrRetryable's category requeues the
// task with exponential backoff until MaxAttempts is exhausted; any
// other error fails it permanently at once.
type Executor interface {
	Execute(ctx context.Context, t *Task, ckpt CheckpointFunc) (json.RawMessage, error)
}

// CheckpointFunc persists incremental progress so a crash mid-task
// resumes from the last checkpoint instead of starting over.
type CheckpointFunc func(ctx context.Context, state json.RawMessage) error

// Engine is the durable task queue.
type Engine struct {
	db       *sql.DB
	executor Executor
	workerID string

	leaseDuration     time.Duration
	pollInterval      time.Duration
	maxConcurrent     int
	baseBackoff       time.Duration
	maxBackoff        time.Duration
	renewalFraction   time.Duration

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures engine behavior at construction.
type Options struct {
	LeaseDuration  time.Duration
	PollInterval   time.Duration
	MaxConcurrent  int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 2 * time.Minute
	}
	return o
}

// Open creates or attaches to a durable task engine database at path.
func Open(path string, executor Executor, opts Options) (*Engine, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open task engine db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migration.Apply(db, migrationsFS, "migrations", "kernel_tasks"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply task engine schema: %w", err)
	}

	o := opts.withDefaults()
	return &Engine{
		db:              db,
		executor:        executor,
		workerID:        ulid.Make().String(),
		leaseDuration:   o.LeaseDuration,
		pollInterval:    o.PollInterval,
		maxConcurrent:   o.MaxConcurrent,
		baseBackoff:     o.BaseBackoff,
		maxBackoff:      o.MaxBackoff,
		renewalFraction: o.LeaseDuration / 3,
		sem:             make(chan struct{}, o.MaxConcurrent),
	}, nil
}

// Submit enqueues a new task. parentID is empty for a top-level task.
func (e *Engine) Submit(ctx context.Context, parentID, agentID, goal string, maxAttempts int) (*Task, error) {
	depth := 0
	if parentID != "" {
		var parentDepth int
		if err := e.db.QueryRowContext(ctx, `SELECT depth FROM agent_task WHERE id = ?`, parentID).Scan(&parentDepth); err != nil {
			return nil, hearthErrors.NotFound(fmt.Sprintf("parent task %s: %v", parentID, err))
		}
		depth = parentDepth + 1
		if depth > MaxSubtaskDepth {
			return nil, hearthErrors.InvalidInput(fmt.Sprintf("subtask depth %d exceeds max %d", depth, MaxSubtaskDepth))
		}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	now := time.Now().UTC()
	id := ulid.Make().String()
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO agent_task (id, parent_id, depth, agent_id, goal, status, attempts, max_attempts, not_before, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		id, nullableString(parentID), depth, agentID, goal, maxAttempts, now, now, now)
	if err != nil {
		return nil, hearthErrors.Transient(fmt.Sprintf("insert task: %v", err))
	}
	metrics.TasksSubmitted.WithLabelValues(agentID).Inc()

	return e.Get(ctx, id)
}

// Get loads a task by id.
func (e *Engine) Get(ctx context.Context, id string) (*Task, error) {
	return e.scanOne(ctx, `SELECT id, parent_id, depth, agent_id, goal, status, attempts, max_attempts, checkpoint, result, last_error, created_at, updated_at FROM agent_task WHERE id = ?`, id)
}

// ListActive returns tasks in pending or leased state.
func (e *Engine) ListActive(ctx context.Context) ([]*Task, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT id, parent_id, depth, agent_id, goal, status, attempts, max_attempts, checkpoint, result, last_error, created_at, updated_at FROM agent_task WHERE status IN ('pending','leased') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Cancel marks a pending or leased task cancelled. It does not
// interrupt a task already mid-Execute; the next checkpoint or
// completion will observe the cancelled status.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	res, err := e.db.ExecContext(ctx, `UPDATE agent_task SET status = 'cancelled', updated_at = ? WHERE id = ? AND status IN ('pending','leased')`, time.Now().UTC(), id)
	if err != nil {
		return hearthErrors.Transient(fmt.Sprintf("cancel task: %v", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return hearthErrors.NotFound(fmt.Sprintf("task %s not cancellable", id))
	}
	if t, err := e.Get(ctx, id); err == nil {
		metrics.TasksCompleted.WithLabelValues(t.AgentID, "cancelled").Inc()
	}
	return nil
}

// Start launches the claim loop and begins recovering expired leases.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(ctx)
	return nil
}

// Stop halts the claim loop and waits for in-flight executions to
// finish checkpointing.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.wg.Wait()
	return e.db.Close()
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	recoverTicker := time.NewTicker(e.leaseDuration / 2)
	defer recoverTicker.Stop()

	e.recoverExpiredLeases(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-recoverTicker.C:
			e.recoverExpiredLeases(ctx)
		case <-ticker.C:
			e.claimAndRun(ctx)
		}
	}
}

// recoverExpiredLeases resets tasks whose holder died mid-lease back to
// pending so another claim can pick them up.
func (e *Engine) recoverExpiredLeases(ctx context.Context) {
	res, err := e.db.ExecContext(ctx, `UPDATE agent_task SET status = 'pending', leased_by = NULL, lease_exp = NULL WHERE status = 'leased' AND lease_exp < ?`, time.Now().UTC())
	if err != nil {
		slog.Error("task engine lease recovery failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("task engine recovered expired leases", "count", n)
	}
}

func (e *Engine) claimAndRun(ctx context.Context) {
	for {
		select {
		case e.sem <- struct{}{}:
		default:
			return
		}

		t, err := e.claimOne(ctx)
		if err != nil {
			slog.Error("task engine claim failed", "error", err)
			<-e.sem
			return
		}
		if t == nil {
			<-e.sem
			return
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer func() { <-e.sem }()
			e.runTask(ctx, t)
		}()
	}
}

// claimOne performs the claim CAS: pick the oldest eligible pending
// task and atomically move it to leased, stamping leased_by/lease_exp.
// The UPDATE's WHERE clause re-checks status = 'pending' so a
// concurrent claimant (another process sharing this db) cannot win
// twice.
func (e *Engine) claimOne(ctx context.Context) (*Task, error) {
	now := time.Now().UTC()
	row := e.db.QueryRowContext(ctx, `SELECT id FROM agent_task WHERE status = 'pending' AND (not_before IS NULL OR not_before <= ?) ORDER BY created_at ASC LIMIT 1`, now)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	leaseExp := now.Add(e.leaseDuration)
	res, err := e.db.ExecContext(ctx,
		`UPDATE agent_task SET status = 'leased', leased_by = ?, lease_exp = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		e.workerID, leaseExp, now, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil // lost the race to another claimant
	}

	return e.Get(ctx, id)
}

func (e *Engine) runTask(ctx context.Context, t *Task) {
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go e.renewLease(renewCtx, t.ID)

	ckpt := func(ckCtx context.Context, state json.RawMessage) error {
		_, err := e.db.ExecContext(ckCtx, `UPDATE agent_task SET checkpoint = ?, updated_at = ? WHERE id = ? AND status = 'leased'`, string(state), time.Now().UTC(), t.ID)
		return err
	}

	result, err := e.executor.Execute(ctx, t, ckpt)
	if err != nil {
		e.handleFailure(ctx, t, err)
		return
	}

	e.markDone(ctx, t.ID, result)
	metrics.TasksCompleted.WithLabelValues(t.AgentID, "done").Inc()
}

func (e *Engine) renewLease(ctx context.Context, taskID string) {
	if e.renewalFraction <= 0 {
		return
	}
	ticker := time.NewTicker(e.renewalFraction)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			newExp := time.Now().UTC().Add(e.leaseDuration)
			if _, err := e.db.ExecContext(ctx, `UPDATE agent_task SET lease_exp = ? WHERE id = ? AND status = 'leased' AND leased_by = ?`, newExp, taskID, e.workerID); err != nil {
				slog.Warn("task engine lease renewal failed", "task", taskID, "error", err)
			} else {
				metrics.TaskLeaseRenewals.Inc()
			}
		}
	}
}

func (e *Engine) markDone(ctx context.Context, id string, result json.RawMessage) {
	_, err := e.db.ExecContext(ctx, `UPDATE agent_task SET status = 'done', result = ?, leased_by = NULL, lease_exp = NULL, updated_at = ? WHERE id = ? AND status = 'leased'`, string(result), time.Now().UTC(), id)
	if err != nil {
		slog.Error("task engine failed to mark task done", "id", id, "error", err)
	}
}

func (e *Engine) handleFailure(ctx context.Context, t *Task, taskErr error) {
	attempts := t.Attempts + 1
	if attempts >= t.MaxAttempts || !kernelerrors.IsRetryable(taskErr) {
		_, err := e.db.ExecContext(ctx,
			`UPDATE agent_task SET status = 'failed', attempts = ?, last_error = ?, leased_by = NULL, lease_exp = NULL, updated_at = ? WHERE id = ? AND status = 'leased'`,
			attempts, taskErr.Error(), time.Now().UTC(), t.ID)
		if err != nil {
			slog.Error("task engine failed to mark task failed", "id", t.ID, "error", err)
		}
		metrics.TasksCompleted.WithLabelValues(t.AgentID, "failed").Inc()
		return
	}

	backoff := e.backoffFor(attempts)
	notBefore := time.Now().UTC().Add(backoff)
	_, err := e.db.ExecContext(ctx,
		`UPDATE agent_task SET status = 'pending', attempts = ?, last_error = ?, leased_by = NULL, lease_exp = NULL, not_before = ?, updated_at = ? WHERE id = ? AND status = 'leased'`,
		attempts, taskErr.Error(), notBefore, time.Now().UTC(), t.ID)
	if err != nil {
		slog.Error("task engine failed to requeue task", "id", t.ID, "error", err)
	}
}

// backoffFor computes an exponential backoff with full jitter, capped
// at maxBackoff.
func (e *Engine) backoffFor(attempts int) time.Duration {
	d := e.baseBackoff * time.Duration(1<<uint(attempts-1))
	if d > e.maxBackoff || d <= 0 {
		d = e.maxBackoff
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (e *Engine) scanOne(ctx context.Context, query string, args ...interface{}) (*Task, error) {
	row := e.db.QueryRowContext(ctx, query, args...)
	return scanTaskRow(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTaskRow(row rowScanner) (*Task, error) {
	var t Task
	var parentID, checkpoint, result, lastErr sql.NullString
	if err := row.Scan(&t.ID, &parentID, &t.Depth, &t.AgentID, &t.Goal, &t.Status, &t.Attempts, &t.MaxAttempts, &checkpoint, &result, &lastErr, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, hearthErrors.NotFound("task not found")
		}
		return nil, err
	}
	t.ParentID = parentID.String
	if checkpoint.Valid {
		t.Checkpoint = json.RawMessage(checkpoint.String)
	}
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	t.LastError = lastErr.String
	return &t, nil
}

// Name satisfies daemon.Component.
func (e *Engine) Name() string { return "TaskEngine" }

// Dependencies satisfies daemon.Component.
func (e *Engine) Dependencies() []string { return nil }

// Init satisfies daemon.Component; schema is already applied in Open.
func (e *Engine) Init(ctx context.Context) error { return nil }

// Health satisfies daemon.Component.
func (e *Engine) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if err := e.db.PingContext(ctx); err != nil {
		return &daemon.ComponentHealth{Name: e.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: e.Name(), Healthy: true}, nil
}
