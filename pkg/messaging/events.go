package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// History events, fanned out to every wizard-service instance
	EventHistoryAppended = "wizard.history.appended"
	EventHistoryRemoved  = "wizard.history.removed"

	// Session events
	EventSessionReset = "wizard.session.reset"
)

// Exchange names
const (
	ExchangeWizardEvents = "wizard.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// HistoryChangedEvent is published whenever a session's markdown history changes.
// Views of the same session refresh their list when they receive it.
type HistoryChangedEvent struct {
	SessionID string   `json:"session_id"`
	EntryIDs  []string `json:"entry_ids"`
	// Origin is the instance that made the change; it has already notified its own views.
	Origin string `json:"origin"`
	Count  int    `json:"count"`
}

// SessionResetEvent is published when a session starts over
type SessionResetEvent struct {
	SessionID string `json:"session_id"`
	Origin    string `json:"origin"`
}
