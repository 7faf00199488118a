package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/notification"
)

// QueueService sequences one doctor's patients through one day. Every
// mutation runs in a transaction holding the same doctor-day lock as
// booking.
type QueueService struct {
	Deps
}

func NewQueueService(deps Deps) *QueueService {
	deps.defaults()
	return &QueueService{Deps: deps}
}

// Queue returns the day's waiting and in-progress patients in call order.
func (s *QueueService) Queue(ctx context.Context, caller auth.Identity, doctorID uuid.UUID, date string) (*Queue, error) {
	date, err := s.resolveDate(date)
	if err != nil {
		return nil, err
	}
	if _, err := s.Doctors.Authorize(ctx, caller, doctorID); err != nil {
		return nil, err
	}
	day, err := s.Appointments.ListDay(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return buildQueue(doctorID, date, day), nil
}

// resolveDoctor picks the doctor whose queue the caller drives. Doctors
// default to their own profile; admins must name one.
func (s *QueueService) resolveDoctor(ctx context.Context, caller auth.Identity, doctorID *uuid.UUID) (uuid.UUID, error) {
	if doctorID != nil {
		if _, err := s.Doctors.Authorize(ctx, caller, *doctorID); err != nil {
			return uuid.Nil, err
		}
		return *doctorID, nil
	}
	if caller.IsAdmin() {
		return uuid.Nil, apperr.Validation("doctorId is required")
	}
	d, err := s.Doctors.ForCaller(ctx, caller)
	if err != nil {
		return uuid.Nil, err
	}
	return d.ID, nil
}

// CallNext finishes the current patient, if given, and calls the next one.
// While a patient is already in progress they are returned again instead of
// calling someone else, so repeating the request never skips a patient.
func (s *QueueService) CallNext(ctx context.Context, caller auth.Identity, in CallNextInput) (*CallResult, error) {
	doctorID, err := s.resolveDoctor(ctx, caller, in.DoctorID)
	if err != nil {
		return nil, err
	}
	date, err := s.resolveDate(in.Date)
	if err != nil {
		return nil, err
	}

	res := &CallResult{}
	called := false
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		res, called = &CallResult{}, false
		if err := s.Appointments.LockDay(ctx, doctorID, date); err != nil {
			return err
		}

		if in.CurrentID != nil {
			cur, err := s.Appointments.GetForUpdate(ctx, *in.CurrentID)
			if err != nil {
				return err
			}
			if cur.DoctorID != doctorID || cur.Date != date {
				return apperr.NotFound("appointment")
			}
			if cur.Status.InQueue() {
				s.complete(cur)
				if err := s.Appointments.Save(ctx, cur); err != nil {
					return err
				}
				res.Completed = cur
			}
		}

		day, err := s.Appointments.ListDay(ctx, doctorID, date)
		if err != nil {
			return err
		}
		for _, a := range day {
			if a.Status == StatusInProgress {
				res.Next = a
				return nil
			}
		}
		for _, a := range day {
			if !a.Status.Waiting() {
				continue
			}
			// A concurrent cancellation may have won the row since the scan.
			fresh, err := s.Appointments.GetForUpdate(ctx, a.ID)
			if err != nil {
				return err
			}
			if !fresh.Status.Waiting() {
				continue
			}
			now := s.Clock.Now()
			fresh.Status = StatusInProgress
			fresh.CalledAt = &now
			fresh.StartedAt = &now
			if err := s.Appointments.Save(ctx, fresh); err != nil {
				return err
			}
			res.Next = fresh
			called = true
			return nil
		}
		res.QueueEmpty = true
		return nil
	})
	if err != nil {
		s.Metrics.QueueCall("error")
		return nil, err
	}

	switch {
	case called:
		s.Metrics.QueueCall("called")
	case res.QueueEmpty:
		s.Metrics.QueueCall("empty")
	default:
		s.Metrics.QueueCall("repeat")
	}
	if res.Completed != nil {
		s.notifyPatient(ctx, notification.AppointmentCompleted, res.Completed)
	}
	if called {
		s.notifyPatient(ctx, notification.PatientCalled, res.Next)
	}
	if res.Completed != nil || called {
		s.notifyQueue(ctx, doctorID, date)
	}
	return res, nil
}

func (s *QueueService) complete(a *Appointment) {
	now := s.Clock.Now()
	a.Status = StatusCompleted
	a.CompletedAt = &now
	if a.StartedAt == nil {
		a.StartedAt = &now
	}
}

// transition loads an appointment the caller may drive and applies fn to it
// under the doctor-day lock. fn reports whether it changed anything.
func (s *QueueService) transition(ctx context.Context, caller auth.Identity, id uuid.UUID, fn func(a *Appointment) (bool, error)) (*Appointment, bool, error) {
	a, err := s.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.Doctors.Authorize(ctx, caller, a.DoctorID); err != nil {
		return nil, false, err
	}

	changed := false
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Appointments.LockDay(ctx, a.DoctorID, a.Date); err != nil {
			return err
		}
		cur, err := s.Appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		a = cur
		if changed, err = fn(a); err != nil || !changed {
			return err
		}
		return s.Appointments.Save(ctx, a)
	})
	if err != nil {
		return nil, false, err
	}
	return a, changed, nil
}

// Start moves a waiting appointment into consultation. Starting one that is
// already in progress is a no-op.
func (s *QueueService) Start(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, changed, err := s.transition(ctx, caller, id, func(a *Appointment) (bool, error) {
		switch {
		case a.Status == StatusInProgress:
			return false, nil
		case !a.Status.Waiting():
			return false, apperr.Validation("cannot start an appointment that is %s", a.Status)
		}
		now := s.Clock.Now()
		a.Status = StatusInProgress
		a.StartedAt = &now
		if a.CalledAt == nil {
			a.CalledAt = &now
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyPatient(ctx, notification.AppointmentStarted, a)
		s.notifyQueue(ctx, a.DoctorID, a.Date)
	}
	return a, nil
}

// Complete closes a consultation. Completing twice is a no-op.
func (s *QueueService) Complete(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, changed, err := s.transition(ctx, caller, id, func(a *Appointment) (bool, error) {
		switch {
		case a.Status == StatusCompleted:
			return false, nil
		case a.Status.Released():
			return false, apperr.Validation("cannot complete an appointment that is %s", a.Status)
		}
		s.complete(a)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyPatient(ctx, notification.AppointmentCompleted, a)
		s.notifyQueue(ctx, a.DoctorID, a.Date)
	}
	return a, nil
}

// Reset renumbers the day's queue 1..N in appointment time order.
func (s *QueueService) Reset(ctx context.Context, caller auth.Identity, doctorID uuid.UUID, date string) (*Queue, error) {
	date, err := s.resolveDate(date)
	if err != nil {
		return nil, err
	}
	if _, err := s.Doctors.Authorize(ctx, caller, doctorID); err != nil {
		return nil, err
	}

	var q *Queue
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Appointments.LockDay(ctx, doctorID, date); err != nil {
			return err
		}
		if _, err := s.Appointments.Renumber(ctx, doctorID, date); err != nil {
			return err
		}
		day, err := s.Appointments.ListDay(ctx, doctorID, date)
		if err != nil {
			return err
		}
		q = buildQueue(doctorID, date, day)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyQueue(ctx, doctorID, date)
	return q, nil
}
