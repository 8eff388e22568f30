// Package store owns the lifetime of the document store: it opens the backing
// engine once, shares that attempt between concurrent callers and gates every
// CRUD call on the outcome.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"coachdocs/internal/model"
	"coachdocs/internal/repository"
)

// State is the lifecycle state of a Manager.
type State int

const (
	Uninitialized State = iota
	Opening
	Open
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is an open store: the engine plus the database it runs on.
type Conn struct {
	DB        *sql.DB
	Documents repository.DocumentRepository
	Version   int
}

// Opener opens the backing engine and brings its schema up to date.
type Opener func(ctx context.Context) (*Conn, error)

type attempt struct {
	done chan struct{}
	conn *Conn
	err  error
}

// attemptSettled runs after an attempt has published its outcome and before
// its waiters are woken.
var attemptSettled = func() {}

// Manager gates access to the document store.
//
// State moves Uninitialized -> Opening -> Open or Failed. Open is final until
// Close. Failed is left only through an explicit Initialize; CRUD calls made
// while Failed return the cached error without retrying.
type Manager struct {
	open   Opener
	log    *slog.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	state    State
	conn     *Conn
	err      error
	inflight *attempt

	stateGauge prometheus.GaugeFunc
	attempts   prometheus.Counter
	failures   prometheus.Counter
}

// NewManager returns a Manager in the Uninitialized state. Nothing is opened
// until Initialize or the first CRUD call.
func NewManager(open Opener, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		open:   open,
		log:    logger.With(slog.String("component", "store")),
		tracer: otel.Tracer("coachdocs/internal/store"),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_store_open_attempts_total",
			Help: "Number of attempts to open the document store.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_store_open_failures_total",
			Help: "Number of failed attempts to open the document store.",
		}),
	}
	m.stateGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "document_store_state",
		Help: "Lifecycle state of the document store (0 uninitialized, 1 opening, 2 open, 3 failed).",
	}, func() float64 { return float64(m.State()) })
	return m
}

// Register exposes the lifecycle metrics on reg.
func (m *Manager) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.stateGauge, m.attempts, m.failures} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

var _ repository.DocumentRepository = (*Manager)(nil)

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialize opens the store, joining an attempt already in flight. From the
// Failed state it starts a fresh attempt. Giving up on ctx does not cancel the
// shared attempt.
func (m *Manager) Initialize(ctx context.Context) (*Conn, error) {
	m.mu.Lock()
	switch m.state {
	case Open:
		c := m.conn
		m.mu.Unlock()
		return c, nil
	case Opening:
		a := m.inflight
		m.mu.Unlock()
		return wait(ctx, a)
	default:
		a := m.begin(ctx)
		m.mu.Unlock()
		return wait(ctx, a)
	}
}

// InitializeWithRetry calls Initialize until the store opens or ctx ends,
// pausing between failed attempts as b dictates. Each retry is an explicit
// Initialize, so the Failed state is left only through this loop.
func (m *Manager) InitializeWithRetry(ctx context.Context, b backoff.BackOff) (*Conn, error) {
	return backoff.Retry(ctx, func() (*Conn, error) {
		return m.Initialize(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.log.Warn("store_open_retry",
				"status", "waiting",
				"retry_in_ms", next.Milliseconds(),
				"error_message", err.Error(),
			)
		}),
	)
}

// ready returns the open connection for a CRUD call. It never retries a failed open.
func (m *Manager) ready(ctx context.Context) (*Conn, error) {
	m.mu.Lock()
	switch m.state {
	case Open:
		c := m.conn
		m.mu.Unlock()
		return c, nil
	case Failed:
		err := m.err
		m.mu.Unlock()
		return nil, err
	case Opening:
		a := m.inflight
		m.mu.Unlock()
		return wait(ctx, a)
	default:
		a := m.begin(ctx)
		m.mu.Unlock()
		return wait(ctx, a)
	}
}

// begin starts an open attempt. m.mu must be held.
func (m *Manager) begin(ctx context.Context) *attempt {
	a := &attempt{done: make(chan struct{})}
	m.state = Opening
	m.inflight = a
	m.err = nil
	m.attempts.Inc()
	go m.run(context.WithoutCancel(ctx), a)
	return a
}

func (m *Manager) run(ctx context.Context, a *attempt) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "store.open", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	m.log.Info("store_open", "status", "starting")
	conn, err := m.open(ctx)

	m.mu.Lock()
	if err != nil {
		a.err = fmt.Errorf("%w: %w", repository.ErrStoreUnavailable, err)
		m.state = Failed
		m.err = a.err
		m.failures.Inc()
	} else {
		a.conn = conn
		m.state = Open
		m.conn = conn
	}
	m.inflight = nil
	m.mu.Unlock()
	attemptSettled()
	close(a.done)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		m.log.Error("store_open_failed",
			"status", "error",
			"error_message", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	span.SetAttributes(attribute.Int("store.schema_version", conn.Version))
	m.log.Info("store_open",
		"status", "success",
		"schema_version", conn.Version,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func wait(ctx context.Context, a *attempt) (*Conn, error) {
	select {
	case <-a.done:
		return a.conn, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the open connection and returns the Manager to Uninitialized.
// Attempts in flight, including ones started while Close waits, finish first. Only the owner of the
// Manager may call it, once every user is done.
func (m *Manager) Close() error {
	m.mu.Lock()
	// A new attempt may begin while the lock is released, so wait until none is left.
	for m.inflight != nil {
		a := m.inflight
		m.mu.Unlock()
		<-a.done
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	conn := m.conn
	m.conn = nil
	m.err = nil
	m.state = Uninitialized
	if conn == nil || conn.DB == nil {
		return nil
	}
	return conn.DB.Close()
}

// Put inserts a new document once the store is open.
func (m *Manager) Put(ctx context.Context, doc *model.Document) (string, error) {
	c, err := m.ready(ctx)
	if err != nil {
		return "", err
	}
	return c.Documents.Put(ctx, doc)
}

// Get returns the document for id once the store is open.
func (m *Manager) Get(ctx context.Context, id string) (*model.Document, bool, error) {
	c, err := m.ready(ctx)
	if err != nil {
		return nil, false, err
	}
	return c.Documents.Get(ctx, id)
}

// ListByOwner returns the documents of a coachee once the store is open.
func (m *Manager) ListByOwner(ctx context.Context, coacheeID string) ([]model.Document, error) {
	c, err := m.ready(ctx)
	if err != nil {
		return nil, err
	}
	return c.Documents.ListByOwner(ctx, coacheeID)
}

// ListByType returns the documents of a category once the store is open.
func (m *Manager) ListByType(ctx context.Context, docType string) ([]model.Document, error) {
	c, err := m.ready(ctx)
	if err != nil {
		return nil, err
	}
	return c.Documents.ListByType(ctx, docType)
}

// Remove deletes a document once the store is open.
func (m *Manager) Remove(ctx context.Context, id string) error {
	c, err := m.ready(ctx)
	if err != nil {
		return err
	}
	return c.Documents.Remove(ctx, id)
}

// Count returns the number of stored documents once the store is open.
func (m *Manager) Count(ctx context.Context) (int, error) {
	c, err := m.ready(ctx)
	if err != nil {
		return 0, err
	}
	return c.Documents.Count(ctx)
}

// Ping checks the open connection without opening it.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	state, conn, err := m.state, m.conn, m.err
	m.mu.Unlock()
	switch {
	case state == Failed:
		return err
	case state != Open:
		return fmt.Errorf("%w: store is %s", repository.ErrStoreUnavailable, state)
	case conn.DB == nil:
		return nil
	}
	return conn.DB.PingContext(ctx)
}
