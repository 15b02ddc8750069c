// Package events provides the audit event model, the append-only event log and
// the in-process bus that observers subscribe to.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents different event types
type EventType string

const (
	RegistryInitialized              EventType = "REGISTRY_INITIALIZED"
	RSIComputationRequested          EventType = "RSI_COMPUTATION_REQUESTED"
	PositionSizeComputationRequested EventType = "POSITION_SIZE_COMPUTATION_REQUESTED"
	PerformanceComputationRequested  EventType = "PERFORMANCE_COMPUTATION_REQUESTED"
	StrategyPerformanceUpdated       EventType = "STRATEGY_PERFORMANCE_UPDATED"
)

// AllTypes lists every event type in emission-independent order.
var AllTypes = []EventType{
	RegistryInitialized,
	RSIComputationRequested,
	PositionSizeComputationRequested,
	PerformanceComputationRequested,
	StrategyPerformanceUpdated,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsRequest reports whether t records a computation request.
func (t EventType) IsRequest() bool {
	switch t {
	case RSIComputationRequested, PositionSizeComputationRequested, PerformanceComputationRequested:
		return true
	}
	return false
}

// Event is one committed entry of the audit log.
type Event struct {
	Sequence  int64     `json:"sequence"`
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// UnmarshalJSON decodes the data field into the typed struct for the event type.
func (e *Event) UnmarshalJSON(b []byte) error {
	var aux struct {
		Sequence  int64           `json:"sequence"`
		Type      EventType       `json:"type"`
		RequestID string          `json:"request_id"`
		Actor     string          `json:"actor"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	data, err := NewData(aux.Type)
	if err != nil {
		return err
	}
	if len(aux.Data) > 0 && string(aux.Data) != "null" {
		if err := json.Unmarshal(aux.Data, data); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", aux.Type, err)
		}
	}

	*e = Event{
		Sequence:  aux.Sequence,
		Type:      aux.Type,
		RequestID: aux.RequestID,
		Actor:     aux.Actor,
		Timestamp: aux.Timestamp,
		Data:      data,
	}
	return nil
}
