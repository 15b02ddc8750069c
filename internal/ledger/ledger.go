// Package ledger runs state-mutating operations one at a time, each in a single
// SQLite transaction together with the audit events it emits.
//
// Events are appended inside the transaction, so a failed operation leaves no
// trace in the log, and are published to observers only after commit.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/database"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/metrics"
)

// Ledger serializes writes against the ledger database.
type Ledger struct {
	db      *sql.DB
	journal *events.Log
	events  *events.Manager
	metrics *metrics.Metrics
	clock   clockwork.Clock
	log     zerolog.Logger

	mu sync.Mutex
}

// Config holds the ledger collaborators. Clock defaults to the real clock;
// Metrics and Events may be nil.
type Config struct {
	DB      *sql.DB
	Journal *events.Log
	Events  *events.Manager
	Metrics *metrics.Metrics
	Clock   clockwork.Clock
}

// New creates a ledger executor
func New(cfg Config, log zerolog.Logger) *Ledger {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{
		db:      cfg.DB,
		journal: cfg.Journal,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		clock:   clock,
		log:     log.With().Str("component", "ledger").Logger(),
	}
}

// DB returns the connection for reads outside a transaction.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

// Journal returns the audit log.
func (l *Ledger) Journal() *events.Log {
	return l.journal
}

// Clock returns the ledger clock.
func (l *Ledger) Clock() clockwork.Clock {
	return l.clock
}

// Execute runs fn as one atomic operation. If fn returns an error every
// mutation and event it made is discarded.
func (l *Ledger) Execute(ctx context.Context, operation string, fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.clock.Now()
	tx := &Tx{
		ctx:     ctx,
		now:     start.UTC().Truncate(time.Second),
		journal: l.journal,
	}

	err := database.WithTransaction(ctx, l.db, func(sqlTx *sql.Tx) error {
		tx.sql = sqlTx
		return fn(tx)
	})
	l.metrics.ObserveOperation(operation, l.clock.Since(start), err)

	if err != nil {
		l.log.Debug().Err(err).Str("operation", operation).Msg("Operation rolled back")
		return err
	}

	for _, e := range tx.emitted {
		l.metrics.AuditEvent(string(e.Type))
	}
	// Still under the lock, so observers see events in sequence order.
	if l.events != nil {
		l.events.Publish(tx.emitted...)
	}
	return nil
}

// Tx is the handle an operation uses inside Execute.
type Tx struct {
	ctx     context.Context
	sql     *sql.Tx
	now     time.Time
	journal *events.Log
	emitted []*events.Event
}

// SQL returns the underlying transaction.
func (t *Tx) SQL() *sql.Tx {
	return t.sql
}

// Context returns the operation context.
func (t *Tx) Context() context.Context {
	return t.ctx
}

// Now is the operation timestamp, fixed for the whole transaction.
func (t *Tx) Now() time.Time {
	return t.now
}

// Emit appends an audit event in this transaction.
func (t *Tx) Emit(requestID string, actor domain.Pubkey, data events.EventData) (*events.Event, error) {
	if t.journal == nil {
		return nil, fmt.Errorf("ledger has no audit log")
	}
	event := &events.Event{
		Type:      data.EventType(),
		RequestID: requestID,
		Actor:     actor.String(),
		Timestamp: t.now,
		Data:      data,
	}
	if err := t.journal.Append(t.ctx, t.sql, event); err != nil {
		return nil, err
	}
	t.emitted = append(t.emitted, event)
	return event, nil
}

// Emitted returns the events appended so far.
func (t *Tx) Emitted() []*events.Event {
	return t.emitted
}
