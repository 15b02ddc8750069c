// Package registry initializes and reads the singleton registry record.
package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/ledger"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
)

// Service handles registry operations
type Service struct {
	ledger *ledger.Ledger
	store  *accounts.Store
	gate   *auth.Gate
	log    zerolog.Logger
}

// NewService creates a new registry service
func NewService(l *ledger.Ledger, store *accounts.Store, gate *auth.Gate, log zerolog.Logger) *Service {
	return &Service{
		ledger: l,
		store:  store,
		gate:   gate,
		log:    log.With().Str("service", "registry").Logger(),
	}
}

// Init creates the registry with caller as its authority. A second call fails
// with domain.ErrAlreadyExists and changes nothing.
func (s *Service) Init(ctx context.Context, caller auth.Caller) (*accounts.Registry, error) {
	if err := s.gate.RequireSigner(caller); err != nil {
		return nil, err
	}

	var reg *accounts.Registry
	err := s.ledger.Execute(ctx, "init_registry", func(tx *ledger.Tx) error {
		if err := tx.UseSignature(caller.Signature(), caller.Pubkey(), caller.Expires()); err != nil {
			return err
		}
		var err error
		reg, err = s.store.CreateRegistry(ctx, tx.SQL(), caller.Pubkey(), tx.Now())
		if err != nil {
			return err
		}
		_, err = tx.Emit("", caller.Pubkey(), &events.RegistryInitializedData{
			Registry:  reg.Address.String(),
			Authority: reg.Authority.String(),
			Bump:      reg.Bump,
			CreatedAt: reg.CreatedAt,
		})
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Str("caller", caller.String()).Msg("Registry initialization rejected")
		return nil, fmt.Errorf("init registry: %w", err)
	}

	s.log.Info().
		Str("registry", reg.Address.String()).
		Str("authority", reg.Authority.String()).
		Uint8("bump", reg.Bump).
		Msg("Registry initialized")
	return reg, nil
}

// Get returns the registry snapshot.
func (s *Service) Get(ctx context.Context) (*accounts.Registry, error) {
	return s.store.LoadRegistry(ctx, nil)
}
