package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/pkg/messaging"
)

func TestNewEvent_MonthSaved(t *testing.T) {
	payload := messaging.MonthSavedEvent{
		PharmacyID:  "ph-1",
		MonthKey:    "2024-03",
		Items:       json.RawMessage(`[{"name":"Paracetamol","opening":12}]`),
		LastUpdated: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		SavedBy:     "user-1",
	}

	event, err := messaging.NewEvent(messaging.EventMonthSaved, "ledger-service", "corr-1", payload)
	require.NoError(t, err)

	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err)
	assert.Equal(t, messaging.EventMonthSaved, event.Type)
	assert.Equal(t, "corr-1", event.CorrelationID)

	var decoded messaging.MonthSavedEvent
	require.NoError(t, event.UnmarshalData(&decoded))
	assert.Equal(t, "ph-1", decoded.PharmacyID)
	assert.Equal(t, "2024-03", decoded.MonthKey)
	assert.JSONEq(t, `[{"name":"Paracetamol","opening":12}]`, string(decoded.Items))
	assert.True(t, payload.LastUpdated.Equal(decoded.LastUpdated))
}

func TestCorrelationID(t *testing.T) {
	assert.Empty(t, messaging.CorrelationID(context.Background()))

	ctx := messaging.WithCorrelationID(context.Background(), "req-42")
	assert.Equal(t, "req-42", messaging.CorrelationID(ctx))
}
