// Package settlement commits plaintext performance summaries into the owner's
// strategy record.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/ledger"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
)

// Summary is a plaintext performance result.
type Summary struct {
	TotalReturn int64  `json:"total_return"` // basis points
	WinRate     uint16 `json:"win_rate"`     // basis points
	TotalTrades uint32 `json:"total_trades"`
	WinTrades   uint32 `json:"win_trades"`
	// RequestID optionally names the performance request this result answers.
	RequestID string `json:"request_id,omitempty"`
}

// Validate requires win_rate <= 10000 and win_trades <= total_trades.
func (s Summary) Validate() error {
	if s.WinRate > accounts.MaxWinRate {
		return fmt.Errorf("%w: %d exceeds %d", domain.ErrInvalidWinRate, s.WinRate, accounts.MaxWinRate)
	}
	if s.WinTrades > s.TotalTrades {
		return fmt.Errorf("%w: win_trades %d exceeds total_trades %d", domain.ErrInvalidTradeCounts, s.WinTrades, s.TotalTrades)
	}
	return nil
}

// Service handles settlements
type Service struct {
	ledger *ledger.Ledger
	store  *accounts.Store
	gate   *auth.Gate
	log    zerolog.Logger
}

// NewService creates a new settlement service
func NewService(l *ledger.Ledger, store *accounts.Store, gate *auth.Gate, log zerolog.Logger) *Service {
	return &Service{
		ledger: l,
		store:  store,
		gate:   gate,
		log:    log.With().Str("service", "settlement").Logger(),
	}
}

// Settle overwrites owner's strategy with summary, creating the record on
// first settlement. Only owner may settle; the latest call wins.
func (s *Service) Settle(ctx context.Context, caller auth.Caller, owner domain.Pubkey, summary Summary) (*accounts.Strategy, error) {
	if err := s.gate.AuthorizeStrategy(caller, owner, nil); err != nil {
		return nil, s.reject(caller, owner, err)
	}
	if err := summary.Validate(); err != nil {
		return nil, s.reject(caller, owner, err)
	}

	var st *accounts.Strategy
	err := s.ledger.Execute(ctx, "settle_performance", func(tx *ledger.Tx) error {
		if err := tx.UseSignature(caller.Signature(), caller.Pubkey(), caller.Expires()); err != nil {
			return err
		}
		existing, err := s.store.LoadStrategy(ctx, tx.SQL(), owner)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			existing = nil
		case err != nil:
			return err
		}
		if err := s.gate.AuthorizeStrategy(caller, owner, existing); err != nil {
			return err
		}

		if summary.RequestID != "" {
			if err := s.checkRequest(ctx, tx, owner, summary.RequestID); err != nil {
				return err
			}
		}

		st, _, err = s.store.LoadOrCreateStrategy(ctx, tx.SQL(), owner, tx.Now())
		if err != nil {
			return err
		}

		st.TotalReturn = summary.TotalReturn
		st.WinRate = summary.WinRate
		st.TotalTrades = summary.TotalTrades
		st.WinTrades = summary.WinTrades
		if now := tx.Now().Unix(); now > st.LastUpdated {
			st.LastUpdated = now
		}
		if err := s.store.SaveStrategy(ctx, tx.SQL(), st); err != nil {
			return err
		}

		if err := s.store.IncrementComputations(ctx, tx.SQL(), 0, 1); err != nil {
			return err
		}

		_, err = tx.Emit(summary.RequestID, owner, &events.StrategyPerformanceUpdatedData{
			Owner:       owner.String(),
			Strategy:    st.Address.String(),
			TotalReturn: st.TotalReturn,
			WinRate:     st.WinRate,
			TotalTrades: st.TotalTrades,
			WinTrades:   st.WinTrades,
			LastUpdated: st.LastUpdated,
			RequestID:   summary.RequestID,
		})
		return err
	})
	if err != nil {
		return nil, s.reject(caller, owner, err)
	}

	s.log.Info().
		Str("owner", owner.String()).
		Str("strategy", st.Address.String()).
		Str("request_id", summary.RequestID).
		Int64("total_return", st.TotalReturn).
		Uint16("win_rate", st.WinRate).
		Msg("Strategy performance settled")
	return st, nil
}

// checkRequest requires requestID to be a performance request made by owner.
func (s *Service) checkRequest(ctx context.Context, tx *ledger.Tx, owner domain.Pubkey, requestID string) error {
	correlated, err := s.ledger.Journal().ByRequestID(ctx, tx.SQL(), requestID)
	if err != nil {
		return err
	}
	for _, e := range correlated {
		if !e.Type.IsRequest() {
			continue
		}
		if e.Type != events.PerformanceComputationRequested {
			return fmt.Errorf("%w: request %s is %s", domain.ErrRequestMismatch, requestID, e.Type)
		}
		if e.Actor != owner.String() {
			return fmt.Errorf("%w: request %s was made by %s", domain.ErrUnauthorized, requestID, e.Actor)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown request %s", domain.ErrRequestMismatch, requestID)
}

func (s *Service) reject(caller auth.Caller, owner domain.Pubkey, err error) error {
	s.log.Warn().
		Err(err).
		Str("caller", caller.String()).
		Str("owner", owner.String()).
		Msg("Settlement rejected")
	return fmt.Errorf("settle_performance: %w", err)
}

// Get returns owner's strategy snapshot.
func (s *Service) Get(ctx context.Context, owner domain.Pubkey) (*accounts.Strategy, error) {
	return s.store.LoadStrategy(ctx, nil, owner)
}

// List returns strategies, most recently settled first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*accounts.Strategy, error) {
	return s.store.ListStrategies(ctx, limit, offset)
}
