package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

type recordingAck struct {
	outcome string
}

func (a *recordingAck) Ack(tag uint64, multiple bool) error {
	a.outcome = "ack"
	return nil
}

func (a *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		a.outcome = "requeue"
	} else {
		a.outcome = "nack"
	}
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	a.outcome = "dead-letter"
	return nil
}

func delivery(t *testing.T, ack *recordingAck, redelivered bool) amqp.Delivery {
	t.Helper()
	event, err := NewEvent(EventMonthRolledOver, "test", "corr-1", MonthRolledOverEvent{PharmacyID: "ph-1"})
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body, Redelivered: redelivered}
}

func TestConsumer_HandleMessage(t *testing.T) {
	transient := errors.New("hub busy")

	tests := []struct {
		name        string
		handlerErr  error
		redelivered bool
		body        []byte
		want        string
	}{
		{name: "handled", want: "ack"},
		{name: "first failure is requeued", handlerErr: transient, want: "requeue"},
		{name: "second failure is dead-lettered", handlerErr: transient, redelivered: true, want: "dead-letter"},
		{name: "permanent failure skips the retry", handlerErr: Permanent(transient), want: "dead-letter"},
		{name: "malformed body", body: []byte("{"), want: "dead-letter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCorrelation string
			handlers := make(Handlers)
			On(handlers, EventMonthRolledOver, func(ctx context.Context, event *Event, data MonthRolledOverEvent) error {
				gotCorrelation = CorrelationID(ctx)
				assert.Equal(t, "ph-1", data.PharmacyID)
				return tt.handlerErr
			})
			c := &Consumer{handlers: handlers, logger: logger.Nop()}

			ack := &recordingAck{}
			msg := delivery(t, ack, tt.redelivered)
			if tt.body != nil {
				msg.Body = tt.body
			}
			c.handleMessage(context.Background(), msg)

			assert.Equal(t, tt.want, ack.outcome)
			if tt.body == nil {
				assert.Equal(t, "corr-1", gotCorrelation)
			}
		})
	}
}

func TestHandlers_DispatchUnknownType(t *testing.T) {
	handlers := make(Handlers)
	assert.NoError(t, handlers.Dispatch(context.Background(), &Event{Type: "inventory.month.unknown"}))
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad payload")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}

func TestPublishing_CarriesEventIdentity(t *testing.T) {
	event, err := NewEvent(EventMonthSaved, "ledger-service", "corr-9", MonthSavedEvent{PharmacyID: "ph-1"})
	require.NoError(t, err)

	msg := publishing(event, []byte("{}"))

	assert.Equal(t, event.ID, msg.MessageId)
	assert.Equal(t, EventMonthSaved, msg.Type)
	assert.Equal(t, "ledger-service", msg.AppId)
	assert.Equal(t, "corr-9", msg.CorrelationId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.True(t, event.Timestamp.Equal(msg.Timestamp))
}
