package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediconnect/mediconnect/internal/platform/websocket"
)

// Contact is what the email and SMS sinks need to reach a user.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// ContactDirectory resolves a user id to contact details.
type ContactDirectory interface {
	Contact(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Publisher is the websocket side of HubSink.
type Publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

// HubSink pushes events to the recipient's websocket topic.
type HubSink struct {
	hub Publisher
}

func NewHubSink(hub Publisher) *HubSink { return &HubSink{hub: hub} }

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Deliver(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.hub.Publish(ctx, websocket.Event{
		ID:        e.ID.String(),
		Type:      string(e.Type),
		Topic:     websocket.UserTopic(e.RecipientUserID),
		Timestamp: e.OccurredAt,
		Data:      data,
	})
}

// MailSink emails the rendered template to the recipient.
type MailSink struct {
	sender    EmailSender
	contacts  ContactDirectory
	templates *TemplateEngine
}

func NewMailSink(sender EmailSender, contacts ContactDirectory, templates *TemplateEngine) *MailSink {
	return &MailSink{sender: sender, contacts: contacts, templates: templates}
}

func (s *MailSink) Name() string { return "email" }

func (s *MailSink) Deliver(ctx context.Context, e Event) error {
	// Queue refreshes are for live screens only.
	if e.Type == QueueUpdated {
		return nil
	}
	contact, err := s.contacts.Contact(ctx, e.RecipientUserID)
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}
	if contact.Email == "" {
		return nil
	}
	subject, body, _, err := s.templates.Render(e.Type, withRecipient(e.Payload, contact))
	if err != nil {
		return err
	}
	return s.sender.SendEmail(ctx, contact.Email, subject, body)
}

// SMSSink texts the recipient for the events whose template has an SMS form.
type SMSSink struct {
	sender    SMSSender
	contacts  ContactDirectory
	templates *TemplateEngine
}

func NewSMSSink(sender SMSSender, contacts ContactDirectory, templates *TemplateEngine) *SMSSink {
	return &SMSSink{sender: sender, contacts: contacts, templates: templates}
}

func (s *SMSSink) Name() string { return "sms" }

func (s *SMSSink) Deliver(ctx context.Context, e Event) error {
	_, _, sms, err := s.templates.Render(e.Type, e.Payload)
	if err != nil {
		return err
	}
	if sms == "" {
		return nil
	}
	contact, err := s.contacts.Contact(ctx, e.RecipientUserID)
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}
	if contact.Phone == "" {
		return nil
	}
	_, _, sms, err = s.templates.Render(e.Type, withRecipient(e.Payload, contact))
	if err != nil {
		return err
	}
	return s.sender.SendSMS(ctx, contact.Phone, sms)
}

func withRecipient(payload map[string]string, c Contact) map[string]string {
	out := make(map[string]string, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["recipient_name"] = c.Name
	return out
}

// LogSink writes one structured line per event.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink { return &LogSink{logger: logger} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, e Event) error {
	evt := s.logger.Info().
		Str("event", string(e.Type)).
		Str("event_id", e.ID.String()).
		Str("recipient", e.RecipientUserID.String())
	if id, ok := e.Payload["appointment_id"]; ok {
		evt = evt.Str("appointment_id", id)
	}
	if id, ok := e.Payload["doctor_id"]; ok {
		evt = evt.Str("doctor_id", id)
	}
	evt.Msg("notification")
	return nil
}
