package events

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Manager handles publication and logging of committed events
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the bus events are published to.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Publish logs committed events and hands them to the bus in order.
func (m *Manager) Publish(committed ...*Event) {
	for _, event := range committed {
		if event == nil {
			continue
		}

		eventJSON, _ := json.Marshal(event.Data)
		m.log.Info().
			Str("event_type", string(event.Type)).
			Int64("sequence", event.Sequence).
			Str("request_id", event.RequestID).
			Str("actor", event.Actor).
			RawJSON("data", eventJSON).
			Msg("Event emitted")

		if m.bus != nil {
			m.bus.Publish(event)
		}
	}
}
