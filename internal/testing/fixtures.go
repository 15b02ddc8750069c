package testing

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/aristath/shadowtrade/internal/domain"
)

// KeyFixture is a deterministic ed25519 keypair.
type KeyFixture struct {
	Name    string
	Private ed25519.PrivateKey
	Pubkey  domain.Pubkey
}

// NewKeyFixture derives a keypair from name, so the same name always yields the same identity.
func NewKeyFixture(name string) KeyFixture {
	seed := sha256.Sum256([]byte("fixture:" + name))
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub, _ := domain.PubkeyFromEd25519(priv.Public().(ed25519.PublicKey))
	return KeyFixture{Name: name, Private: priv, Pubkey: pub}
}

// NewKeyFixtures returns the standard cast used across tests.
func NewKeyFixtures() (authority, alice, bob KeyFixture) {
	return NewKeyFixture("authority"), NewKeyFixture("alice"), NewKeyFixture("bob")
}

// TestProgramID is the program id used by tests.
func TestProgramID() domain.Pubkey {
	return domain.Pubkey(sha256.Sum256([]byte("shadow-trade-test-program")))
}

// Ciphertext returns an opaque blob of n bytes filled with b.
func Ciphertext(n int, b byte) domain.Ciphertext {
	out := make(domain.Ciphertext, n)
	for i := range out {
		out[i] = b
	}
	return out
}
