package events

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/shadowtrade/internal/database"
)

// DefaultPageSize bounds Since when no limit is given.
const DefaultPageSize = 100

// MaxPageSize is the largest page Since returns.
const MaxPageSize = 1000

// auditColumns must match scanEvent.
const auditColumns = `sequence, event_type, request_id, actor, payload, created_at`

// Log is the append-only audit log stored in the ledger database.
// Rows are never updated or deleted; the schema rejects both.
type Log struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewLog creates a log over the ledger database
func NewLog(db *sql.DB, log zerolog.Logger) *Log {
	return &Log{
		db:  db,
		log: log.With().Str("repo", "audit_events").Logger(),
	}
}

// Append writes event inside q (normally the enclosing ledger transaction)
// and fills in its sequence number.
func (l *Log) Append(ctx context.Context, q database.Querier, event *Event) error {
	if event.Data == nil {
		return fmt.Errorf("failed to append event: no data")
	}
	if event.Type == "" {
		event.Type = event.Data.EventType()
	}
	if event.Type != event.Data.EventType() {
		return fmt.Errorf("failed to append event: type %s does not match data %s", event.Type, event.Data.EventType())
	}

	payload, err := encodePayload(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event.Type, err)
	}

	var requestID interface{}
	if event.RequestID != "" {
		requestID = event.RequestID
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO audit_events (event_type, request_id, actor, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(event.Type), requestID, event.Actor, payload, event.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read event sequence: %w", err)
	}
	event.Sequence = seq
	return nil
}

// Since returns up to limit events with sequence greater than after, oldest first.
func (l *Log) Since(ctx context.Context, after int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// ByRequestID returns every event correlated with requestID, oldest first.
func (l *Log) ByRequestID(ctx context.Context, q database.Querier, requestID string) ([]*Event, error) {
	if q == nil {
		q = l.db
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events WHERE request_id = ? ORDER BY sequence ASC`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for request %s: %w", requestID, err)
	}
	return scanEvents(rows)
}

// UnsettledPerformanceRequests returns performance requests that no settlement
// has referenced yet, oldest first.
func (l *Log) UnsettledPerformanceRequests(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_events r
		WHERE r.event_type = ?
		  AND NOT EXISTS (
			SELECT 1 FROM audit_events s
			WHERE s.event_type = ? AND s.request_id = r.request_id
		  )
		ORDER BY r.sequence ASC
		LIMIT ?`,
		string(PerformanceComputationRequested), string(StrategyPerformanceUpdated), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending requests: %w", err)
	}
	return scanEvents(rows)
}

// UndispatchedRequests returns request events after sequence that have no
// recorded MPC outcome, oldest first. Settled performance requests are
// skipped.
func (l *Log) UndispatchedRequests(ctx context.Context, after int64, limit int) ([]*Event, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_events r
		WHERE r.sequence > ?
		  AND r.event_type IN (?, ?, ?)
		  AND NOT EXISTS (SELECT 1 FROM mpc_jobs j WHERE j.request_id = r.request_id)
		  AND NOT EXISTS (
			SELECT 1 FROM audit_events s
			WHERE s.event_type = ? AND s.request_id = r.request_id
		  )
		ORDER BY r.sequence ASC
		LIMIT ?`,
		after,
		string(RSIComputationRequested),
		string(PositionSizeComputationRequested),
		string(PerformanceComputationRequested),
		string(StrategyPerformanceUpdated),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query undispatched requests: %w", err)
	}
	return scanEvents(rows)
}

// LastSequence returns the highest committed sequence, or 0 for an empty log.
func (l *Log) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := l.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM audit_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	return seq.Int64, nil
}

// CountByType returns the number of events per type.
func (l *Log) CountByType(ctx context.Context) (map[EventType]int64, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM audit_events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[EventType]int64)
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[EventType(t)] = n
	}
	return counts, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var (
		event     Event
		eventType string
		requestID sql.NullString
		payload   []byte
		createdAt int64
	)
	if err := rows.Scan(&event.Sequence, &eventType, &requestID, &event.Actor, &payload, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Type = EventType(eventType)
	event.RequestID = requestID.String
	event.Timestamp = time.Unix(createdAt, 0).UTC()

	data, err := decodePayload(event.Type, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event %d: %w", event.Sequence, err)
	}
	event.Data = data
	return &event, nil
}

// Payloads use the json tags so the stored and served field names agree.
func encodePayload(data EventData) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePayload(t EventType, payload []byte) (EventData, error) {
	data, err := NewData(t)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Page is one page of the audit log. Next is the cursor for the following page.
type Page struct {
	Events []*Event `json:"events"`
	Next   int64    `json:"next"`
}

// Page returns the events after the given sequence as a Page.
func (l *Log) Page(ctx context.Context, after int64, limit int) (*Page, error) {
	evts, err := l.Since(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	next := after
	if len(evts) > 0 {
		next = evts[len(evts)-1].Sequence
	}
	if evts == nil {
		evts = []*Event{}
	}
	return &Page{Events: evts, Next: next}, nil
}
