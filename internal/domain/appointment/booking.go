package appointment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mediconnect/mediconnect/internal/domain/slot"
	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/clock"
	"github.com/mediconnect/mediconnect/internal/platform/lock"
	"github.com/mediconnect/mediconnect/internal/platform/notification"
)

// BookingService writes appointments into materialized sessions.
type BookingService struct {
	Deps
}

func NewBookingService(deps Deps) *BookingService {
	deps.defaults()
	return &BookingService{Deps: deps}
}

// Book validates the request against the session, then re-counts the
// session's seats and inserts the appointment in one transaction under the
// doctor-day lock. Two patients racing for the last seat cannot both win.
func (s *BookingService) Book(ctx context.Context, in BookingInput) (*Appointment, error) {
	a, err := s.book(ctx, in)
	s.Metrics.BookingOutcome(bookingOutcome(err))
	return a, err
}

func (s *BookingService) book(ctx context.Context, in BookingInput) (*Appointment, error) {
	key, err := slot.ParseSessionID(in.SessionID)
	if err != nil {
		return nil, apperr.Validation("invalid slotId")
	}
	doc, err := s.Doctors.GetActive(ctx, in.DoctorID)
	if err != nil {
		return nil, err
	}
	rule, err := s.Rules.GetByID(ctx, key.RuleID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("session")
		}
		return nil, err
	}
	if !sessionMatches(rule, doc.ID, key) {
		return nil, apperr.NotFound("session")
	}
	if err := s.Sessions.Bookable(key.Date, rule.EndTime); err != nil {
		return nil, err
	}

	visit, err := visitType(rule, in.ConsultationType)
	if err != nil {
		return nil, err
	}
	symptoms := strings.TrimSpace(in.Symptoms)
	if len(symptoms) > maxSymptomsLen {
		return nil, apperr.Validation("symptoms must be at most %d characters", maxSymptomsLen)
	}

	a := &Appointment{
		ID:               uuid.New(),
		PatientID:        in.PatientID,
		DoctorID:         doc.ID,
		SlotRuleID:       rule.ID,
		Date:             key.Date,
		Time:             key.StartTime,
		ConsultationType: visit,
		Status:           StatusConfirmed,
		Symptoms:         symptoms,
	}

	err = s.withBookingLock(ctx, lock.BookingKey(doc.ID, key.Date), func(ctx context.Context) error {
		return s.Tx.WithinTx(ctx, func(ctx context.Context) error {
			return s.insert(ctx, a, key)
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifyPatient(ctx, notification.AppointmentConfirmed, a)
	s.notifyQueue(ctx, a.DoctorID, a.Date)
	return a, nil
}

// insert runs inside the booking transaction.
func (s *BookingService) insert(ctx context.Context, a *Appointment, key slot.SessionKey) error {
	if err := s.Appointments.LockDay(ctx, a.DoctorID, a.Date); err != nil {
		return err
	}
	rule, err := s.Rules.LockForBooking(ctx, key.RuleID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.NotFound("session")
		}
		return err
	}
	if !sessionMatches(rule, a.DoctorID, key) {
		return apperr.NotFound("session")
	}

	booked, err := s.Appointments.CountBooked(ctx, a.DoctorID, a.Date, a.Time)
	if err != nil {
		return err
	}
	if booked >= rule.MaxPatients {
		return apperr.CapacityExceeded("session on %s at %s is fully booked", a.Date, a.Time)
	}
	dup, err := s.Appointments.PatientHasSeat(ctx, a.PatientID, a.DoctorID, a.Date, a.Time)
	if err != nil {
		return err
	}
	if dup {
		return apperr.Conflict(nil, "you already have an appointment in this session")
	}

	n, err := s.Appointments.NextQueueNumber(ctx, a.DoctorID, a.Date)
	if err != nil {
		return err
	}
	a.QueueNumber = &n
	return s.Appointments.Create(ctx, a)
}

// withBookingLock holds the distributed doctor-day lock around fn. When the
// lock backend itself is unreachable the booking proceeds on the database
// lock alone; a lock held by another request is a retryable conflict.
func (s *BookingService) withBookingLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ran := false
	err := s.Locker.WithLock(ctx, key, func(ctx context.Context) error {
		ran = true
		return fn(ctx)
	})
	switch {
	case err == nil || ran:
		return err
	case errors.Is(err, lock.ErrNotAcquired):
		return apperr.Conflict(err, "this session is busy, please retry")
	case ctx.Err() != nil:
		return apperr.Conflict(err, "booking timed out, please retry")
	}
	s.Logger.Warn().Err(err).Str("lock", key).Msg("booking lock unavailable, relying on database lock")
	return fn(ctx)
}

func sessionMatches(rule *slot.Rule, doctorID uuid.UUID, key slot.SessionKey) bool {
	if !rule.Active || rule.DoctorID != doctorID || rule.StartTime != key.StartTime {
		return false
	}
	wd, err := clock.Weekday(key.Date)
	return err == nil && slot.FromWeekday(wd) == rule.DayOfWeek
}

// visitType resolves the concrete consultation type of a booking.
func visitType(rule *slot.Rule, requested string) (slot.ConsultationType, error) {
	if strings.TrimSpace(requested) == "" {
		return rule.ConsultationType.VisitType(), nil
	}
	ct, err := slot.ParseConsultationType(requested)
	if err != nil {
		return "", apperr.Validation("appointmentType must be one of: PHYSICAL, TELEMEDICINE")
	}
	if ct == slot.Both {
		return rule.ConsultationType.VisitType(), nil
	}
	if !rule.ConsultationType.Serves(ct) {
		return "", apperr.Validation("this session does not offer %s consultations", ct)
	}
	return ct, nil
}

// Cancel releases the patient's seat. Cancelling an already cancelled
// appointment returns it unchanged.
func (s *BookingService) Cancel(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, caller, a); err != nil {
		return nil, err
	}

	changed := false
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.Appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		a = cur
		switch {
		case a.Status == StatusCancelled:
			return nil
		case !a.Status.Waiting():
			return apperr.Validation("cannot cancel an appointment that is %s", a.Status)
		}
		now := s.Clock.Now()
		a.Status = StatusCancelled
		a.CancelledAt = &now
		changed = true
		return s.Appointments.Save(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.notifyPatient(ctx, notification.AppointmentCancelled, a)
		s.notifyQueue(ctx, a.DoctorID, a.Date)
	}
	return a, nil
}

func (s *BookingService) Get(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, caller, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListForPatient pages through the caller's own appointments, newest first.
func (s *BookingService) ListForPatient(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*Appointment, int, error) {
	var st Status
	if status != "" {
		var err error
		if st, err = ParseStatus(status); err != nil {
			return nil, 0, apperr.Validation("status must be one of: PENDING, CONFIRMED, IN_PROGRESS, COMPLETED, CANCELLED, REJECTED")
		}
	}
	return s.Appointments.ListByPatient(ctx, patientID, st, limit, offset)
}
