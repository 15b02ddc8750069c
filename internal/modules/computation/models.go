// Package computation accepts encrypted computation requests. It validates the
// scalar parameters, stores the ciphertexts by reference and records the
// request in the audit log; the computation itself happens elsewhere.
package computation

import (
	"fmt"

	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/events"
)

// Kind identifies a computation.
type Kind string

const (
	KindRSI          Kind = "rsi"
	KindPositionSize Kind = "position_size"
	KindPerformance  Kind = "performance"
)

// Input slots.
const (
	SlotPrices         = "prices"
	SlotBalance        = "balance"
	SlotTrades         = "trades"
	SlotInitialBalance = "initial_balance"
)

// EventType returns the audit event recorded for a request of kind k.
func (k Kind) EventType() events.EventType {
	switch k {
	case KindRSI:
		return events.RSIComputationRequested
	case KindPositionSize:
		return events.PositionSizeComputationRequested
	case KindPerformance:
		return events.PerformanceComputationRequested
	}
	return ""
}

// Operation is the ledger operation name for k.
func (k Kind) Operation() string {
	return "request_" + string(k)
}

// KindOf returns the computation kind recorded by a request event type.
func KindOf(t events.EventType) (Kind, bool) {
	switch t {
	case events.RSIComputationRequested:
		return KindRSI, true
	case events.PositionSizeComputationRequested:
		return KindPositionSize, true
	case events.PerformanceComputationRequested:
		return KindPerformance, true
	}
	return "", false
}

// RSIParams are the scalar parameters of an RSI evaluation.
type RSIParams struct {
	Period     uint8 `json:"period"`
	Oversold   uint8 `json:"oversold"`
	Overbought uint8 `json:"overbought"`
}

// Validate requires period >= 1 and oversold < overbought <= 100.
func (p RSIParams) Validate() error {
	if p.Period == 0 {
		return fmt.Errorf("%w: period must be at least 1", domain.ErrInvalidRSIParameters)
	}
	if p.Overbought > 100 {
		return fmt.Errorf("%w: overbought %d exceeds 100", domain.ErrInvalidRSIParameters, p.Overbought)
	}
	if p.Oversold >= p.Overbought {
		return fmt.Errorf("%w: oversold %d must be below overbought %d", domain.ErrInvalidRSIParameters, p.Oversold, p.Overbought)
	}
	return nil
}

// PositionSizeParams are the scalar parameters of a position sizing request.
type PositionSizeParams struct {
	RiskPercentage uint8  `json:"risk_percentage"`
	CurrentPrice   uint64 `json:"current_price"`
}

// Validate requires risk_percentage <= 100 and a non-zero price.
func (p PositionSizeParams) Validate() error {
	if p.RiskPercentage > 100 {
		return fmt.Errorf("%w: %d exceeds 100", domain.ErrInvalidRiskPercentage, p.RiskPercentage)
	}
	if p.CurrentPrice == 0 {
		return fmt.Errorf("%w: must be non-zero", domain.ErrInvalidCurrentPrice)
	}
	return nil
}

// Receipt correlates a request with its audit event. It carries references to
// the encrypted inputs, never their contents.
type Receipt struct {
	RequestID   string           `json:"request_id"`
	Kind        Kind             `json:"kind"`
	Sequence    int64            `json:"sequence"`
	Requester   domain.Pubkey    `json:"requester"`
	Inputs      []domain.BlobRef `json:"inputs"`
	Params      interface{}      `json:"params,omitempty"`
	RequestedAt int64            `json:"requested_at"`
}
