package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mr-tron/base58"

	"github.com/aristath/shadowtrade/internal/domain"
)

// Signer holds an ed25519 private key.
type Signer struct {
	priv   ed25519.PrivateKey
	pubkey domain.Pubkey
}

// NewSigner wraps a 64-byte ed25519 private key.
func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length %d", len(priv))
	}
	pub, err := domain.PubkeyFromEd25519(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pubkey: pub}, nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewSigner(priv)
}

// Pubkey returns the signer identity.
func (s *Signer) Pubkey() domain.Pubkey {
	return s.pubkey
}

// PrivateKey returns the raw key.
func (s *Signer) PrivateKey() ed25519.PrivateKey {
	return s.priv
}

// Sign signs msg.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// Caller returns the authenticated caller for this signer, for in-process use.
func (s *Signer) Caller() Caller {
	return Caller{pubkey: s.pubkey, verified: true}
}

// SignRequest sets the authentication headers on req for the given body.
func (s *Signer) SignRequest(req *http.Request, body []byte, now time.Time) {
	ts := strconv.FormatInt(now.Unix(), 10)
	msg := RequestMessage(req.Method, req.URL.RequestURI(), ts, body)

	req.Header.Set(HeaderSigner, s.pubkey.String())
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, base58.Encode(s.Sign(msg)))
}
