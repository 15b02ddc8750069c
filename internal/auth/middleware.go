package auth

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// Middleware verifies signed requests and attaches the Caller to the request
// context. Unsigned requests pass through anonymously; the gate rejects them
// where a signer is required.
func Middleware(a *Authenticator, maxBody int64, log zerolog.Logger) func(http.Handler) http.Handler {
	log = log.With().Str("component", "auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Signed(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readBody(r, maxBody)
			if err != nil {
				http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
				return
			}

			caller, err := a.VerifyRequest(r, body)
			if err != nil {
				log.Warn().Err(err).
					Str("path", r.URL.Path).
					Str("signer", r.Header.Get(HeaderSigner)).
					Msg("Rejected request signature")
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

var errBodyTooLarge = errors.New("request body too large")

// readBody reads the whole body and puts it back so handlers can decode it.
func readBody(r *http.Request, maxBody int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBody {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
