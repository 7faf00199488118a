package doctor

import (
	"context"

	"github.com/google/uuid"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
)

type Service struct {
	doctors Repository
}

func NewService(doctors Repository) *Service {
	return &Service{doctors: doctors}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

// GetActive returns the doctor only while they accept bookings.
func (s *Service) GetActive(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Active {
		return nil, apperr.NotFound("doctor")
	}
	return d, nil
}

// ForCaller resolves the doctor profile of the authenticated user.
func (s *Service) ForCaller(ctx context.Context, caller auth.Identity) (*Doctor, error) {
	return s.doctors.GetByUserID(ctx, caller.UserID)
}

// Authorize checks that caller may act for doctorID: the doctor themself or
// an admin.
func (s *Service) Authorize(ctx context.Context, caller auth.Identity, doctorID uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if caller.IsAdmin() || d.UserID == caller.UserID {
		return d, nil
	}
	return nil, apperr.Authorization("not allowed to act for this doctor")
}

func (s *Service) List(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.ListActive(ctx, specialty, limit, offset)
}
