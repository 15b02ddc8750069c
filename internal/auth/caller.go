// Package auth authenticates callers and decides whether they may mutate a record.
//
// A Caller can only be obtained by verifying a request signature or from a
// local Signer, so holding one proves control of the identity's private key.
package auth

import (
	"context"
	"time"

	"github.com/aristath/shadowtrade/internal/domain"
)

// Caller is an authenticated identity. The zero value is anonymous.
type Caller struct {
	pubkey   domain.Pubkey
	verified bool

	// Set only for callers verified from a request.
	signature string
	expires   time.Time
}

// Pubkey returns the caller identity.
func (c Caller) Pubkey() domain.Pubkey {
	return c.pubkey
}

// Authenticated reports whether c came from a verified signature.
func (c Caller) Authenticated() bool {
	return c.verified
}

// Signature returns the hex signature the caller was verified from, or ""
// for an in-process caller. The ledger spends it so a request is applied once.
func (c Caller) Signature() string {
	return c.signature
}

// Expires is when the request timestamp stops passing the skew check.
func (c Caller) Expires() time.Time {
	return c.expires
}

// String returns the base58 identity, or "anonymous".
func (c Caller) String() string {
	if !c.verified {
		return "anonymous"
	}
	return c.pubkey.String()
}

type callerKey struct{}

// WithCaller attaches c to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx, or an anonymous caller.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}
