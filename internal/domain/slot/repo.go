package slot

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	Update(ctx context.Context, r *Rule) error
	// ListByDoctor returns the doctor's rules, Saturday-first.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, activeOnly bool) ([]*Rule, error)
	// LockForBooking reads a rule with a share lock so it cannot be edited
	// or deactivated until the enclosing transaction ends.
	LockForBooking(ctx context.Context, id uuid.UUID) (*Rule, error)
	// CountBookings counts live appointments per (date, start time) for one
	// doctor over [start, end] in a single query.
	CountBookings(ctx context.Context, doctorID uuid.UUID, start, end string) (map[SlotTime]int, error)
}
