package domain

import "errors"

var (
	// ErrUnauthorized is returned when the caller is not the record's owner or not a valid signer.
	ErrUnauthorized = errors.New("unauthorized access")

	// ErrInvalidRSIParameters rejects RSI requests outside period >= 1, oversold < overbought <= 100.
	ErrInvalidRSIParameters = errors.New("invalid RSI parameters")
	// ErrInvalidRiskPercentage rejects risk percentages above 100.
	ErrInvalidRiskPercentage = errors.New("invalid risk percentage")
	// ErrInvalidCurrentPrice rejects a zero current price.
	ErrInvalidCurrentPrice = errors.New("invalid current price")
	// ErrInvalidEncryptedInput rejects empty or oversized ciphertexts.
	ErrInvalidEncryptedInput = errors.New("invalid encrypted input")
	// ErrInvalidWinRate rejects win rates above 10000 basis points.
	ErrInvalidWinRate = errors.New("invalid win rate")
	// ErrInvalidTradeCounts rejects win_trades > total_trades.
	ErrInvalidTradeCounts = errors.New("invalid trade counts")
	// ErrRequestMismatch rejects settlements referencing a request of the wrong kind.
	ErrRequestMismatch = errors.New("settlement does not match computation request")

	// ErrAlreadyExists is returned when creating a record at an occupied address.
	ErrAlreadyExists = errors.New("account already exists")
	// ErrNotFound is returned when loading an absent record.
	ErrNotFound = errors.New("account not found")
	// ErrInvalidDerivation is returned when a stored record does not sit at its derived address.
	ErrInvalidDerivation = errors.New("account address does not match derivation")
)

// ErrorKind groups errors by how the caller should react.
type ErrorKind int

const (
	// KindInternal is an infrastructure failure; the operation had no effect.
	KindInternal ErrorKind = iota
	// KindAuthorization means the caller may not perform the operation.
	KindAuthorization
	// KindValidation means a parameter was out of range; the caller may correct and resubmit.
	KindValidation
	// KindExistence means a record was unexpectedly present or absent.
	KindExistence
)

// String returns a short name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindExistence:
		return "existence"
	default:
		return "internal"
	}
}

// KindOf classifies err. Wrapped domain errors are recognised through errors.Is.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidDerivation):
		return KindAuthorization
	case errors.Is(err, ErrInvalidRSIParameters),
		errors.Is(err, ErrInvalidRiskPercentage),
		errors.Is(err, ErrInvalidCurrentPrice),
		errors.Is(err, ErrInvalidEncryptedInput),
		errors.Is(err, ErrInvalidWinRate),
		errors.Is(err, ErrInvalidTradeCounts),
		errors.Is(err, ErrRequestMismatch):
		return KindValidation
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrNotFound):
		return KindExistence
	default:
		return KindInternal
	}
}
