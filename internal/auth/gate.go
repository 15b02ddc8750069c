package auth

import (
	"fmt"

	"github.com/aristath/shadowtrade/internal/address"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
)

// Gate is the authorization check evaluated before any mutation. It has no
// side effects.
type Gate struct {
	deriver *address.Deriver
}

// NewGate creates a gate that checks derivations with deriver.
func NewGate(deriver *address.Deriver) *Gate {
	return &Gate{deriver: deriver}
}

// RequireSigner accepts any authenticated caller.
func (g *Gate) RequireSigner(c Caller) error {
	if !c.Authenticated() {
		return fmt.Errorf("%w: %w", domain.ErrUnauthorized, ErrUnauthenticated)
	}
	return nil
}

// AuthorizeRegistry admits any signer against a registry that sits at its
// derived address. Computation requests are permissionless.
func (g *Gate) AuthorizeRegistry(c Caller, reg *accounts.Registry) error {
	if err := g.RequireSigner(c); err != nil {
		return err
	}
	if reg == nil {
		return fmt.Errorf("registry: %w", domain.ErrNotFound)
	}
	return g.deriver.VerifyRegistry(reg.Address, reg.Bump)
}

// AuthorizeStrategy admits only owner. existing is nil on first write, in
// which case the caller becomes the owner.
func (g *Gate) AuthorizeStrategy(c Caller, owner domain.Pubkey, existing *accounts.Strategy) error {
	if err := g.RequireSigner(c); err != nil {
		return err
	}
	if c.Pubkey() != owner {
		return fmt.Errorf("%w: caller %s is not owner %s", domain.ErrUnauthorized, c.Pubkey(), owner)
	}
	if existing == nil {
		return nil
	}
	if existing.Owner != owner {
		return fmt.Errorf("%w: strategy %s belongs to %s", domain.ErrUnauthorized, existing.Address, existing.Owner)
	}
	return g.deriver.VerifyStrategy(owner, existing.Address, existing.Bump)
}
