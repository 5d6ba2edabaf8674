// Package eventbus implements a durable, SQLite-backed publish/subscribe
// journal. Every event is written to disk before any handler runs, so a
// crash between publish and dispatch never loses the event: on restart,
// rows left in "processing" are reset to "pending" and redelivered.
package eventbus

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sorrel-ai/hearth/internal/daemon"
	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
	"github.com/sorrel-ai/hearth/internal/metrics"
	"github.com/sorrel-ai/hearth/internal/migration"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Event is a single durable message on the bus.
type Event struct {
	ID        string
	Topic     string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// Handler processes one event. An error marks the event "failed" —
// a terminal state. There is no automatic retry; a failed event stays
// in the journal until an administrator re-queues it.
type Handler func(ctx context.Context, evt Event) error

// Bus is the durable event bus. One Bus per SQLite database file.
type Bus struct {
	db *sql.DB

	mu          sync.RWMutex
	subscribers map[string][]Handler

	pollInterval time.Duration
	batchSize    int

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithPollInterval overrides the dispatcher's poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) { b.pollInterval = d }
}

// WithBatchSize overrides how many pending rows are claimed per tick.
func WithBatchSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// Open creates or attaches to a durable event bus database at path.
func Open(path string, opts ...Option) (*Bus, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open event bus db: %w", err)
	}
	// All writers serialize through a single connection so SQLite's
	// single-writer constraint never surfaces as SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migration.Apply(db, migrationsFS, "migrations", "kernel_events"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply event bus schema: %w", err)
	}

	b := &Bus{
		db:           db,
		subscribers:  make(map[string][]Handler),
		pollInterval: 200 * time.Millisecond,
		batchSize:    10,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Subscribe registers a handler for a topic. The events of one dispatch
// batch are handled concurrently, fanned out with an errgroup; the
// handlers of a single event run one after another.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], h)
}

// Unsubscribe drops all handlers previously registered for topic.
func (b *Bus) Unsubscribe(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, topic)
}

// Publish durably persists an event and returns once it is committed to
// disk. Dispatch to handlers happens asynchronously.
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", hearthErrors.InvalidInput(fmt.Sprintf("marshal event payload: %v", err))
	}

	id := uuid.NewString()
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO events (id, topic, payload, status, attempts, created_at) VALUES (?, ?, ?, 'pending', 0, ?)`,
		id, topic, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return "", hearthErrors.Transient(fmt.Sprintf("insert event: %v", err))
	}
	metrics.EventsPublished.WithLabelValues(topic).Inc()
	return id, nil
}

// Start recovers any events stranded mid-dispatch from a prior crash and
// launches the dispatcher loop.
func (b *Bus) Start(ctx context.Context) error {
	if err := b.recover(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go b.loop(ctx)
	return nil
}

// Stop halts the dispatcher loop. Already-claimed events finish their
// current handler invocation before the loop exits.
func (b *Bus) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		select {
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.db.Close()
}

func (b *Bus) recover(ctx context.Context) error {
	res, err := b.db.ExecContext(ctx, `UPDATE events SET status = 'pending', claimed_at = NULL WHERE status = 'processing'`)
	if err != nil {
		return fmt.Errorf("recover stranded events: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("event bus recovered stranded events", "count", n)
	}
	return nil
}

func (b *Bus) loop(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.dispatchBatch(ctx)
		}
	}
}

func (b *Bus) dispatchBatch(ctx context.Context) {
	events, err := b.claimBatch(ctx)
	if err != nil {
		slog.Error("event bus claim failed", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, evt := range events {
		evt := evt
		g.Go(func() error {
			b.dispatchOne(gctx, evt)
			return nil
		})
	}
	_ = g.Wait()
}

// claimBatch atomically moves up to batchSize pending rows for a known
// subscribed topic into "processing" and returns them. The UPDATE ...
// RETURNING-less two-step (select ids, then conditional update) keeps
// this portable across the pure-Go sqlite driver.
func (b *Bus) claimBatch(ctx context.Context) ([]Event, error) {
	b.mu.RLock()
	topics := make([]string, 0, len(b.subscribers))
	for t := range b.subscribers {
		topics = append(topics, t)
	}
	b.mu.RUnlock()
	if len(topics) == 0 {
		return nil, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	placeholders := make([]interface{}, 0, len(topics)+1)
	q := `SELECT id, topic, payload, attempts, created_at FROM events WHERE status = 'pending' AND topic IN (`
	for i, t := range topics {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders = append(placeholders, t)
	}
	q += fmt.Sprintf(") ORDER BY created_at ASC LIMIT %d", b.batchSize)

	rows, err := tx.QueryContext(ctx, q, placeholders...)
	if err != nil {
		return nil, err
	}
	var events []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.Topic, &payload, &e.Attempts, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	rows.Close()

	for _, e := range events {
		if _, err := tx.ExecContext(ctx, `UPDATE events SET status = 'processing', claimed_at = ? WHERE id = ? AND status = 'pending'`, time.Now().UTC(), e.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

func (b *Bus) dispatchOne(ctx context.Context, evt Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[evt.Topic]...)
	b.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		_, err := b.db.ExecContext(ctx,
			`UPDATE events SET status = 'failed', attempts = attempts + 1, processed_at = ?, last_error = ? WHERE id = ?`,
			time.Now().UTC(), firstErr.Error(), evt.ID)
		if err != nil {
			slog.Error("event bus failed to mark event failed", "id", evt.ID, "error", err)
		}
		metrics.EventsDispatched.WithLabelValues(evt.Topic, "failed").Inc()
		return
	}

	_, err := b.db.ExecContext(ctx,
		`UPDATE events SET status = 'done', processed_at = ? WHERE id = ?`,
		time.Now().UTC(), evt.ID)
	if err != nil {
		slog.Error("event bus failed to mark event done", "id", evt.ID, "error", err)
	}
	metrics.EventsDispatched.WithLabelValues(evt.Topic, "ok").Inc()
}

// Requeue moves a failed event back to pending for redelivery. This is
// the only path back from "failed" — dispatchOne never takes it on its
// own, per the no-automatic-retry failure contract.
func (b *Bus) Requeue(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE events SET status = 'pending', claimed_at = NULL, last_error = NULL WHERE id = ? AND status = 'failed'`,
		id)
	if err != nil {
		return fmt.Errorf("requeue event: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return hearthErrors.InvalidInput(fmt.Sprintf("event %q is not in a failed state", id))
	}
	return nil
}

// Name satisfies daemon.Component.
func (b *Bus) Name() string { return "EventBus" }

// Dependencies satisfies daemon.Component.
func (b *Bus) Dependencies() []string { return nil }

// Init satisfies daemon.Component; schema is already applied in Open.
func (b *Bus) Init(ctx context.Context) error { return nil }

// Health satisfies daemon.Component.
func (b *Bus) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if err := b.db.PingContext(ctx); err != nil {
		return &daemon.ComponentHealth{Name: b.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: b.Name(), Healthy: true}, nil
}
