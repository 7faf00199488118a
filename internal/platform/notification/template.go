package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template is the subject and body rendered for one event type.
type Template struct {
	Subject string
	Body    string
	// SMS is the short text; empty means the event is not sent by SMS.
	SMS string
}

// TemplateEngine renders {{key}} placeholders from an event payload.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[EventType]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[EventType]Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	e.templates[AppointmentConfirmed] = Template{
		Subject: "Appointment confirmed with {{doctor_name}}",
		Body: "Dear {{recipient_name}}, your {{consultation_type}} appointment with {{doctor_name}} is confirmed for " +
			"{{date}} at {{time}}. Your queue number is {{queue_number}}.",
		SMS: "MediConnect: appointment with {{doctor_name}} on {{date}} {{time}} confirmed. Queue no. {{queue_number}}.",
	}
	e.templates[AppointmentCancelled] = Template{
		Subject: "Appointment cancelled",
		Body:    "Dear {{recipient_name}}, your appointment with {{doctor_name}} on {{date}} at {{time}} has been cancelled.",
		SMS:     "MediConnect: appointment with {{doctor_name}} on {{date}} {{time}} cancelled.",
	}
	e.templates[PatientCalled] = Template{
		Subject: "It is your turn",
		Body:    "Dear {{recipient_name}}, {{doctor_name}} is ready to see you now (queue number {{queue_number}}).",
		SMS:     "MediConnect: it is your turn with {{doctor_name}}. Queue no. {{queue_number}}.",
	}
	e.templates[AppointmentStarted] = Template{
		Subject: "Consultation started",
		Body:    "Dear {{recipient_name}}, your consultation with {{doctor_name}} has started.",
	}
	e.templates[AppointmentCompleted] = Template{
		Subject: "Consultation completed",
		Body:    "Dear {{recipient_name}}, your consultation with {{doctor_name}} on {{date}} is complete. Thank you for visiting.",
	}
	e.templates[QueueUpdated] = Template{
		Subject: "Queue updated",
		Body:    "The queue for {{date}} has changed: {{waiting}} waiting.",
	}
}

// RegisterTemplate adds or replaces the template for t.
func (e *TemplateEngine) RegisterTemplate(t EventType, tpl Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t] = tpl
}

// Render fills the template for t. Placeholders without data are left as-is.
func (e *TemplateEngine) Render(t EventType, data map[string]string) (subject, body, sms string, err error) {
	e.mu.RLock()
	tpl, ok := e.templates[t]
	e.mu.RUnlock()
	if !ok {
		return "", "", "", fmt.Errorf("no template for %s", t)
	}

	subject, body, sms = tpl.Subject, tpl.Body, tpl.SMS
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
		sms = strings.ReplaceAll(sms, placeholder, v)
	}
	return subject, body, sms, nil
}
