package appointment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate row-locks the appointment for the enclosing transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Save writes the mutable queue state: status, queue number and timestamps.
	Save(ctx context.Context, a *Appointment) error

	// LockDay serialises writers on one doctor's day until the transaction ends.
	LockDay(ctx context.Context, doctorID uuid.UUID, date string) error
	// CountBooked counts appointments holding a seat in a session.
	CountBooked(ctx context.Context, doctorID uuid.UUID, date, startTime string) (int, error)
	// PatientHasSeat reports whether the patient already holds a seat in a session.
	PatientHasSeat(ctx context.Context, patientID, doctorID uuid.UUID, date, startTime string) (bool, error)
	// NextQueueNumber is one past the highest number ever issued for the day.
	NextQueueNumber(ctx context.Context, doctorID uuid.UUID, date string) (int, error)
	// ListDay returns every appointment of the day in queue order.
	ListDay(ctx context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error)
	// Renumber gives the day's queue entries 1..N by time and returns N.
	// Completed and rejected appointments of the day give up their numbers so
	// no two non-cancelled appointments share one.
	Renumber(ctx context.Context, doctorID uuid.UUID, date string) (int, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error)
}
