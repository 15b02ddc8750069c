package mpc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/modules/computation"
)

// JobStatus is the final outcome of a dispatched request.
type JobStatus string

const (
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobRecord is the persisted outcome of one request. Requests with a record
// are never dispatched again.
type JobRecord struct {
	RequestID string           `json:"request_id"`
	Kind      computation.Kind `json:"kind"`
	Status    JobStatus        `json:"status"`
	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
	UpdatedAt int64            `json:"updated_at"`
}

// JobStore persists job outcomes in the ledger database.
type JobStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewJobStore creates a new job store
func NewJobStore(db *sql.DB, log zerolog.Logger) *JobStore {
	return &JobStore{
		db:  db,
		log: log.With().Str("repo", "mpc_jobs").Logger(),
	}
}

// Record stores rec, replacing an earlier outcome for the same request.
func (s *JobStore) Record(ctx context.Context, rec *JobRecord) error {
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mpc_jobs (request_id, kind, status, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, rec.RequestID, string(rec.Kind), string(rec.Status), rec.Attempts, rec.LastError, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", rec.RequestID, err)
	}
	s.log.Debug().
		Str("request_id", rec.RequestID).
		Str("status", string(rec.Status)).
		Int("attempts", rec.Attempts).
		Msg("Job outcome recorded")
	return nil
}

// Get returns the outcome recorded for requestID.
func (s *JobStore) Get(ctx context.Context, requestID string) (*JobRecord, error) {
	var (
		rec          = &JobRecord{RequestID: requestID}
		kind, status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, status, attempts, last_error, updated_at FROM mpc_jobs WHERE request_id = ?`,
		requestID,
	).Scan(&kind, &status, &rec.Attempts, &rec.LastError, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mpc job %s: %w", requestID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", requestID, err)
	}
	rec.Kind = computation.Kind(kind)
	rec.Status = JobStatus(status)
	return rec, nil
}
