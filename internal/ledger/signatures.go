package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/shadowtrade/internal/domain"
)

// UseSignature records a request signature as spent in this transaction.
// A signature seen before fails with domain.ErrUnauthorized. An empty
// signature belongs to an in-process caller and is not recorded.
func (t *Tx) UseSignature(signature string, signer domain.Pubkey, expires time.Time) error {
	if signature == "" {
		return nil
	}
	res, err := t.sql.ExecContext(t.ctx, `
		INSERT INTO used_signatures (signature, signer, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(signature) DO NOTHING
	`, signature, signer.String(), expires.Unix())
	if err != nil {
		return fmt.Errorf("failed to record signature: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record signature: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: signature already used", domain.ErrUnauthorized)
	}
	return nil
}

// PruneSignatures deletes spent signatures whose timestamps can no longer
// pass verification.
func (l *Ledger) PruneSignatures(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`DELETE FROM used_signatures WHERE expires_at < ?`, l.clock.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune signatures: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune signatures: %w", err)
	}
	if n > 0 {
		l.log.Debug().Int64("pruned", n).Msg("Pruned spent signatures")
	}
	return n, nil
}
