package events

import (
	"fmt"

	"github.com/aristath/shadowtrade/internal/domain"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RegistryInitializedData contains data for RegistryInitialized events
type RegistryInitializedData struct {
	Registry  string `json:"registry"`
	Authority string `json:"authority"`
	Bump      uint8  `json:"bump"`
	CreatedAt int64  `json:"created_at"`
}

// EventType returns the event type for RegistryInitializedData
func (d *RegistryInitializedData) EventType() EventType {
	return RegistryInitialized
}

// RSIRequestedData contains data for RSIComputationRequested events.
// Prices is a reference to the ciphertext, never its contents.
type RSIRequestedData struct {
	Requester  string         `json:"requester"`
	Prices     domain.BlobRef `json:"prices"`
	Period     uint8          `json:"period"`
	Oversold   uint8          `json:"oversold"`
	Overbought uint8          `json:"overbought"`
}

// EventType returns the event type for RSIRequestedData
func (d *RSIRequestedData) EventType() EventType {
	return RSIComputationRequested
}

// PositionSizeRequestedData contains data for PositionSizeComputationRequested events
type PositionSizeRequestedData struct {
	Requester      string         `json:"requester"`
	Balance        domain.BlobRef `json:"balance"`
	RiskPercentage uint8          `json:"risk_percentage"`
	CurrentPrice   uint64         `json:"current_price"`
}

// EventType returns the event type for PositionSizeRequestedData
func (d *PositionSizeRequestedData) EventType() EventType {
	return PositionSizeComputationRequested
}

// PerformanceRequestedData contains data for PerformanceComputationRequested events
type PerformanceRequestedData struct {
	Requester      string         `json:"requester"`
	Trades         domain.BlobRef `json:"trades"`
	InitialBalance domain.BlobRef `json:"initial_balance"`
}

// EventType returns the event type for PerformanceRequestedData
func (d *PerformanceRequestedData) EventType() EventType {
	return PerformanceComputationRequested
}

// StrategyPerformanceUpdatedData contains data for StrategyPerformanceUpdated events
type StrategyPerformanceUpdatedData struct {
	Owner       string `json:"owner"`
	Strategy    string `json:"strategy"`
	TotalReturn int64  `json:"total_return"`
	WinRate     uint16 `json:"win_rate"`
	TotalTrades uint32 `json:"total_trades"`
	WinTrades   uint32 `json:"win_trades"`
	LastUpdated int64  `json:"last_updated"`
	RequestID   string `json:"request_id,omitempty"`
}

// EventType returns the event type for StrategyPerformanceUpdatedData
func (d *StrategyPerformanceUpdatedData) EventType() EventType {
	return StrategyPerformanceUpdated
}

// NewData returns an empty data value for t, ready to be decoded into.
func NewData(t EventType) (EventData, error) {
	switch t {
	case RegistryInitialized:
		return &RegistryInitializedData{}, nil
	case RSIComputationRequested:
		return &RSIRequestedData{}, nil
	case PositionSizeComputationRequested:
		return &PositionSizeRequestedData{}, nil
	case PerformanceComputationRequested:
		return &PerformanceRequestedData{}, nil
	case StrategyPerformanceUpdated:
		return &StrategyPerformanceUpdatedData{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
