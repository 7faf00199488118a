package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediconnect/mediconnect/internal/domain/slot"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusRejected   Status = "REJECTED"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// Waiting is true for entries that have not been called yet.
func (s Status) Waiting() bool { return s == StatusPending || s == StatusConfirmed }

// InQueue is true for entries shown on the day's queue.
func (s Status) InQueue() bool { return s.Waiting() || s == StatusInProgress }

// Released is true for statuses that give the seat back to the session.
func (s Status) Released() bool { return s == StatusCancelled || s == StatusRejected }

// Appointment is one patient's booking in a session. Date is "YYYY-MM-DD" and
// Time is the session start "HH:MM", both in the business timezone.
type Appointment struct {
	ID               uuid.UUID             `json:"id"`
	PatientID        uuid.UUID             `json:"patientId"`
	DoctorID         uuid.UUID             `json:"doctorId"`
	SlotRuleID       uuid.UUID             `json:"slotRuleId"`
	Date             string                `json:"date"`
	Time             string                `json:"time"`
	ConsultationType slot.ConsultationType `json:"appointmentType"`
	Status           Status                `json:"status"`
	Symptoms         string                `json:"symptoms"`
	QueueNumber      *int                  `json:"queueNumber"`
	CalledAt         *time.Time            `json:"calledAt,omitempty"`
	StartedAt        *time.Time            `json:"startedAt,omitempty"`
	CompletedAt      *time.Time            `json:"completedAt,omitempty"`
	CancelledAt      *time.Time            `json:"cancelledAt,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

func (a *Appointment) queueNumberString() string {
	if a.QueueNumber == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *a.QueueNumber)
}

const maxSymptomsLen = 2000

// BookingInput is a validated booking request.
type BookingInput struct {
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	SessionID        string
	ConsultationType string
	Symptoms         string
}

// QueueSummary counts the day's appointments by queue state.
type QueueSummary struct {
	Waiting    int          `json:"waiting"`
	InProgress int          `json:"inProgress"`
	Completed  int          `json:"completed"`
	Current    *Appointment `json:"current"`
}

// Queue is a doctor's queue for one day.
type Queue struct {
	DoctorID uuid.UUID      `json:"doctorId"`
	Date     string         `json:"date"`
	Entries  []*Appointment `json:"queue"`
	Summary  QueueSummary   `json:"summary"`
}

// CallResult is the outcome of calling the next patient. QueueEmpty is set
// when nobody is waiting; that is a normal end of day, not an error.
type CallResult struct {
	Completed  *Appointment `json:"completed,omitempty"`
	Next       *Appointment `json:"next,omitempty"`
	QueueEmpty bool         `json:"queueEmpty"`
}

// CallNextInput selects the queue to advance. A nil DoctorID means the
// caller's own profile and an empty Date means today.
type CallNextInput struct {
	DoctorID  *uuid.UUID
	Date      string
	CurrentID *uuid.UUID
}

// buildQueue derives the queue view from every appointment of the day, which
// must already be in queue order.
func buildQueue(doctorID uuid.UUID, date string, day []*Appointment) *Queue {
	q := &Queue{DoctorID: doctorID, Date: date, Entries: []*Appointment{}}
	for _, a := range day {
		switch {
		case a.Status == StatusCompleted:
			q.Summary.Completed++
		case a.Status == StatusInProgress:
			q.Summary.InProgress++
			if q.Summary.Current == nil {
				q.Summary.Current = a
			}
		case a.Status.Waiting():
			q.Summary.Waiting++
		}
		if a.Status.InQueue() {
			q.Entries = append(q.Entries, a)
		}
	}
	return q
}
