package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mr-tron/base58"

	"github.com/aristath/shadowtrade/internal/domain"
)

// Request authentication headers.
const (
	HeaderSigner    = "X-ShadowTrade-Signer"
	HeaderTimestamp = "X-ShadowTrade-Timestamp"
	HeaderSignature = "X-ShadowTrade-Signature"
)

var (
	// ErrUnauthenticated means the request carried no signature at all.
	ErrUnauthenticated = errors.New("request is not signed")
	// ErrBadSignature means the signature headers were present but invalid.
	ErrBadSignature = errors.New("invalid request signature")
	// ErrStaleTimestamp means the signed timestamp is outside the allowed skew.
	ErrStaleTimestamp = errors.New("request timestamp outside allowed skew")
)

// RequestMessage is the byte string a request signature covers:
// METHOD \n PATH \n TIMESTAMP \n hex(sha256(body)).
func RequestMessage(method, path, timestamp string, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(method + "\n" + path + "\n" + timestamp + "\n" + hex.EncodeToString(sum[:]))
}

// Authenticator verifies signed requests.
type Authenticator struct {
	maxSkew time.Duration
	clock   clockwork.Clock
}

// NewAuthenticator creates an authenticator. A nil clock uses the real clock.
func NewAuthenticator(maxSkew time.Duration, clock clockwork.Clock) *Authenticator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Authenticator{maxSkew: maxSkew, clock: clock}
}

// Signed reports whether r carries any authentication header.
func Signed(r *http.Request) bool {
	return r.Header.Get(HeaderSigner) != "" ||
		r.Header.Get(HeaderSignature) != "" ||
		r.Header.Get(HeaderTimestamp) != ""
}

// VerifyRequest checks the signature headers of r against body.
// Every failure wraps domain.ErrUnauthorized.
func (a *Authenticator) VerifyRequest(r *http.Request, body []byte) (Caller, error) {
	if !Signed(r) {
		return Caller{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, ErrUnauthenticated)
	}

	signer, err := domain.ParsePubkey(r.Header.Get(HeaderSigner))
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %w: signer: %v", domain.ErrUnauthorized, ErrBadSignature, err)
	}

	ts := r.Header.Get(HeaderTimestamp)
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %w: timestamp %q", domain.ErrUnauthorized, ErrBadSignature, ts)
	}
	skew := a.clock.Now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return Caller{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, ErrStaleTimestamp)
	}

	sig, err := base58.Decode(r.Header.Get(HeaderSignature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return Caller{}, fmt.Errorf("%w: %w: malformed signature", domain.ErrUnauthorized, ErrBadSignature)
	}

	msg := RequestMessage(r.Method, r.URL.RequestURI(), ts, body)
	if !ed25519.Verify(signer.Ed25519(), msg, sig) {
		return Caller{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, ErrBadSignature)
	}
	return Caller{
		pubkey:    signer,
		verified:  true,
		signature: hex.EncodeToString(sig),
		expires:   time.Unix(unix, 0).Add(a.maxSkew),
	}, nil
}
