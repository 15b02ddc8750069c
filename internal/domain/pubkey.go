// Package domain holds the identity, ciphertext and error types shared by every
// ledger component. It has no infrastructure dependencies beyond encoding.
package domain

import (
	"crypto/ed25519"
	"database/sql/driver"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLength is the size of an ed25519 public key and of a derived address.
const PubkeyLength = 32

// Pubkey identifies a signer or a record address. The text form is base58.
type Pubkey [PubkeyLength]byte

// ZeroPubkey is the all-zero key; it never belongs to a valid signer.
var ZeroPubkey Pubkey

// ParsePubkey decodes a base58 public key.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("invalid pubkey %q: %w", s, err)
	}
	if len(raw) != PubkeyLength {
		return pk, fmt.Errorf("invalid pubkey %q: expected %d bytes, got %d", s, PubkeyLength, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustParsePubkey is ParsePubkey for constants; it panics on malformed input.
func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromEd25519 converts a stdlib ed25519 public key.
func PubkeyFromEd25519(pub ed25519.PublicKey) (Pubkey, error) {
	var pk Pubkey
	if len(pub) != ed25519.PublicKeySize {
		return pk, fmt.Errorf("invalid ed25519 public key length %d", len(pub))
	}
	copy(pk[:], pub)
	return pk, nil
}

// String returns the base58 form.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// Bytes returns a copy of the raw key bytes.
func (p Pubkey) Bytes() []byte {
	b := make([]byte, PubkeyLength)
	copy(b, p[:])
	return b
}

// IsZero reports whether p is the zero key.
func (p Pubkey) IsZero() bool {
	return p == ZeroPubkey
}

// Ed25519 returns p as a stdlib public key.
func (p Pubkey) Ed25519() ed25519.PublicKey {
	return ed25519.PublicKey(p.Bytes())
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Value stores the key as base58 text.
func (p Pubkey) Value() (driver.Value, error) {
	return p.String(), nil
}

// Scan reads a base58 text column.
func (p *Pubkey) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return p.UnmarshalText([]byte(v))
	case []byte:
		return p.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Pubkey", src)
	}
}
