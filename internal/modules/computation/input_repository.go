package computation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/database"
	"github.com/aristath/shadowtrade/internal/domain"
)

// ErrInputNotFound is returned for an unknown (request, slot) pair.
var ErrInputNotFound = fmt.Errorf("encrypted input: %w", domain.ErrNotFound)

// InputRepository stores ciphertexts so MPC workers can fetch them by request.
type InputRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewInputRepository creates a new input repository
func NewInputRepository(db *sql.DB, log zerolog.Logger) *InputRepository {
	return &InputRepository{
		db:  db,
		log: log.With().Str("repo", "encrypted_inputs").Logger(),
	}
}

// Save stores data under (requestID, slot) inside q and returns its reference.
func (r *InputRepository) Save(ctx context.Context, q database.Querier, requestID, slot string, data domain.Ciphertext, now time.Time) (domain.BlobRef, error) {
	ref := data.Ref(slot)
	_, err := q.ExecContext(ctx,
		`INSERT INTO encrypted_inputs (request_id, slot, digest, size, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		requestID, slot, ref.Digest, ref.Size, []byte(data), now.Unix(),
	)
	if err != nil {
		return domain.BlobRef{}, fmt.Errorf("failed to store %s input for %s: %w", slot, requestID, err)
	}
	return ref, nil
}

// Get returns the ciphertext stored under (requestID, slot).
func (r *InputRepository) Get(ctx context.Context, requestID, slot string) (domain.Ciphertext, domain.BlobRef, error) {
	var (
		ref  = domain.BlobRef{Slot: slot}
		data []byte
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT digest, size, data FROM encrypted_inputs WHERE request_id = ? AND slot = ?`,
		requestID, slot,
	).Scan(&ref.Digest, &ref.Size, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.BlobRef{}, ErrInputNotFound
	}
	if err != nil {
		return nil, domain.BlobRef{}, fmt.Errorf("failed to load %s input for %s: %w", slot, requestID, err)
	}
	return domain.Ciphertext(data), ref, nil
}
