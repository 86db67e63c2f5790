package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventMonthSaved      = "inventory.month.saved"
	EventMonthRolledOver = "inventory.month.rolled_over"
)

// Exchange names
const (
	ExchangeInventoryEvents = "inventory.events"
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
		ID:            GenerateEventID(),
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

// Inventory Events

// MonthSavedEvent carries the complete item list of a month after a save.
// Subscribers replace their copy of the month with Items.
type MonthSavedEvent struct {
	PharmacyID  string          `json:"pharmacy_id"`
	MonthKey    string          `json:"month_key"`
	Items       json.RawMessage `json:"items"`
	LastUpdated time.Time       `json:"last_updated"`
	SavedBy     string          `json:"saved_by"`
}

// MonthRolledOverEvent is published after a rollover wrote the next month.
type MonthRolledOverEvent struct {
	PharmacyID string `json:"pharmacy_id"`
	FromMonth  string `json:"from_month"`
	ToMonth    string `json:"to_month"`
	ItemCount  int    `json:"item_count"`
	SavedBy    string `json:"saved_by"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
