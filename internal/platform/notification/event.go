// Package notification carries appointment status changes to the people they
// concern. Services emit events after their transaction commits; a
// dispatcher fans each event out to the registered sinks (websocket, email,
// SMS, log) on a background worker so delivery never blocks a request.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	AppointmentConfirmed EventType = "APPOINTMENT_CONFIRMED"
	AppointmentCancelled EventType = "APPOINTMENT_CANCELLED"
	PatientCalled        EventType = "PATIENT_CALLED"
	AppointmentStarted   EventType = "APPOINTMENT_STARTED"
	AppointmentCompleted EventType = "APPOINTMENT_COMPLETED"
	QueueUpdated         EventType = "QUEUE_UPDATED"
)

// Event is one notification addressed to a single user.
type Event struct {
	ID              uuid.UUID         `json:"id"`
	Type            EventType         `json:"type"`
	RecipientUserID uuid.UUID         `json:"recipientUserId"`
	Payload         map[string]string `json:"payload"`
	OccurredAt      time.Time         `json:"occurredAt"`
}

func NewEvent(t EventType, recipient uuid.UUID, payload map[string]string) Event {
	if payload == nil {
		payload = map[string]string{}
	}
	return Event{
		ID:              uuid.New(),
		Type:            t,
		RecipientUserID: recipient,
		Payload:         payload,
		OccurredAt:      time.Now().UTC(),
	}
}

// Emitter accepts events for asynchronous delivery. Emit must not block.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}
