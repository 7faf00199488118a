package slot

import (
	"context"

	"github.com/google/uuid"

	"github.com/mediconnect/mediconnect/internal/domain/doctor"
	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/clock"
)

// maxQueryDays bounds one availability query.
const maxQueryDays = 90

// DoctorDirectory is the part of the doctor service the slot store needs.
type DoctorDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
	GetActive(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
	ForCaller(ctx context.Context, caller auth.Identity) (*doctor.Doctor, error)
	Authorize(ctx context.Context, caller auth.Identity, doctorID uuid.UUID) (*doctor.Doctor, error)
}

type Service struct {
	rules      Repository
	doctors    DoctorDirectory
	clock      *clock.Clock
	windowDays int
}

// NewService returns the slot rule store and session materializer.
// windowDays is how far ahead of today sessions can be listed and booked.
func NewService(rules Repository, doctors DoctorDirectory, clk *clock.Clock, windowDays int) *Service {
	return &Service{rules: rules, doctors: doctors, clock: clk, windowDays: windowDays}
}

func (s *Service) CreateRule(ctx context.Context, caller auth.Identity, in CreateRuleInput) (*Rule, error) {
	var doctorID uuid.UUID
	if caller.IsAdmin() {
		if in.DoctorID == nil {
			return nil, apperr.Validation("doctorId is required")
		}
		d, err := s.doctors.Get(ctx, *in.DoctorID)
		if err != nil {
			return nil, err
		}
		doctorID = d.ID
	} else {
		d, err := s.doctors.ForCaller(ctx, caller)
		if err != nil {
			return nil, err
		}
		doctorID = d.ID
	}

	ctype := in.ConsultationType
	if ctype == "" {
		ctype = string(Both)
	}
	r, err := buildRule(in.DayOfWeek, in.StartTime, in.EndTime, ctype, in.MaxPatients)
	if err != nil {
		return nil, err
	}
	r.ID = uuid.New()
	r.DoctorID = doctorID
	r.Active = true

	if err := s.rules.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// buildRule validates and normalises the user-editable fields of a rule.
func buildRule(day, start, end, ctype string, maxPatients int) (*Rule, error) {
	d, err := ParseDayOfWeek(day)
	if err != nil {
		return nil, apperr.Validation("dayOfWeek must be one of: SATURDAY, SUNDAY, MONDAY, TUESDAY, WEDNESDAY, THURSDAY, FRIDAY")
	}
	st, err := clock.ParseTimeOfDay(start)
	if err != nil {
		return nil, apperr.Validation("startTime must be a time in HH:MM format")
	}
	et, err := clock.ParseTimeOfDay(end)
	if err != nil {
		return nil, apperr.Validation("endTime must be a time in HH:MM format")
	}
	if clock.Minutes(st) >= clock.Minutes(et) {
		return nil, apperr.Validation("startTime must be before endTime")
	}
	ct, err := ParseConsultationType(ctype)
	if err != nil {
		return nil, apperr.Validation("consultationType must be one of: PHYSICAL, TELEMEDICINE, BOTH")
	}
	if maxPatients < 1 || maxPatients > maxPatientsLimit {
		return nil, apperr.Validation("maxPatients must be between 1 and %d", maxPatientsLimit)
	}
	return &Rule{DayOfWeek: d, StartTime: st, EndTime: et, ConsultationType: ct, MaxPatients: maxPatients}, nil
}

// authorizeRule loads a rule the caller may edit.
func (s *Service) authorizeRule(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Rule, error) {
	r, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.doctors.Authorize(ctx, caller, r.DoctorID); err != nil {
		if apperr.Is(err, apperr.KindAuthorization) {
			return nil, apperr.Authorization("slot belongs to another doctor")
		}
		return nil, err
	}
	return r, nil
}

func (s *Service) UpdateRule(ctx context.Context, caller auth.Identity, id uuid.UUID, patch RulePatch) (*Rule, error) {
	if patch.empty() {
		return nil, apperr.Validation("no fields to update")
	}
	r, err := s.authorizeRule(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	day, start, end, ctype, maxPatients := string(r.DayOfWeek), r.StartTime, r.EndTime, string(r.ConsultationType), r.MaxPatients
	if patch.DayOfWeek != nil {
		day = *patch.DayOfWeek
	}
	if patch.StartTime != nil {
		start = *patch.StartTime
	}
	if patch.EndTime != nil {
		end = *patch.EndTime
	}
	if patch.ConsultationType != nil {
		ctype = *patch.ConsultationType
	}
	if patch.MaxPatients != nil {
		maxPatients = *patch.MaxPatients
	}
	merged, err := buildRule(day, start, end, ctype, maxPatients)
	if err != nil {
		return nil, err
	}

	r.DayOfWeek = merged.DayOfWeek
	r.StartTime = merged.StartTime
	r.EndTime = merged.EndTime
	r.ConsultationType = merged.ConsultationType
	r.MaxPatients = merged.MaxPatients
	if patch.Active != nil {
		r.Active = *patch.Active
	}
	if err := s.rules.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// DeactivateRule hides the rule from availability and booking. Appointments
// already made under it are untouched. Deactivating twice is not an error.
func (s *Service) DeactivateRule(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Rule, error) {
	r, err := s.authorizeRule(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return r, nil
	}
	r.Active = false
	if err := s.rules.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRules returns every rule of the doctor, active or not, Saturday-first.
func (s *Service) ListRules(ctx context.Context, doctorID uuid.UUID) ([]*Rule, error) {
	if _, err := s.doctors.Get(ctx, doctorID); err != nil {
		return nil, err
	}
	rules, err := s.rules.ListByDoctor(ctx, doctorID, false)
	if err != nil {
		return nil, err
	}
	SortRules(rules)
	return rules, nil
}

// AvailableSessions materializes the doctor's open sessions over the query
// window. Sessions of today that have already ended are left out.
func (s *Service) AvailableSessions(ctx context.Context, doctorID uuid.UUID, q SessionQuery) (*Availability, error) {
	if _, err := s.doctors.GetActive(ctx, doctorID); err != nil {
		return nil, err
	}
	start, end, err := s.window(q)
	if err != nil {
		return nil, err
	}
	filter, err := parseFilter(q.Type)
	if err != nil {
		return nil, err
	}

	out := &Availability{Sessions: []Session{}, ByDate: map[string][]Session{}}
	if end < start {
		// Entire range lies beyond the booking horizon.
		return out, nil
	}

	rules, err := s.rules.ListByDoctor(ctx, doctorID, true)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return out, nil
	}
	counts, err := s.rules.CountBookings(ctx, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	sessions, err := Materialize(rules, start, end, filter, counts)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	today := s.clock.Today()
	now := s.clock.Now()
	nowMin := now.Hour()*60 + now.Minute()
	for _, sess := range sessions {
		if sess.Date == today && clock.Minutes(sess.EndTime) <= nowMin {
			continue
		}
		out.Sessions = append(out.Sessions, sess)
	}
	out.ByDate = GroupByDate(out.Sessions)
	return out, nil
}

// window resolves the query dates. Start is clamped to today and end to the
// booking horizon.
func (s *Service) window(q SessionQuery) (string, string, error) {
	today := s.clock.Today()
	horizon, err := s.clock.AddDays(today, s.windowDays)
	if err != nil {
		return "", "", apperr.Internal(err)
	}

	start := today
	if q.StartDate != "" {
		if start, err = clock.ParseDate(q.StartDate); err != nil {
			return "", "", apperr.Validation("startDate must be a date in YYYY-MM-DD format")
		}
		if start < today {
			start = today
		}
	}

	end := ""
	if q.EndDate != "" {
		if end, err = clock.ParseDate(q.EndDate); err != nil {
			return "", "", apperr.Validation("endDate must be a date in YYYY-MM-DD format")
		}
		if end < start {
			return "", "", apperr.Validation("endDate must not be before startDate")
		}
		if days, _ := clock.DaysBetween(start, end); days > maxQueryDays {
			return "", "", apperr.Validation("date range must not exceed %d days", maxQueryDays)
		}
	} else if end, err = s.clock.AddDays(start, s.windowDays); err != nil {
		return "", "", apperr.Internal(err)
	}

	if end > horizon {
		end = horizon
	}
	return start, end, nil
}

func parseFilter(s string) (ConsultationType, error) {
	if s == "" {
		return "", nil
	}
	ct, err := ParseConsultationType(s)
	if err != nil {
		return "", apperr.Validation("appointmentType must be one of: PHYSICAL, TELEMEDICINE, BOTH")
	}
	return ct, nil
}

// Bookable checks that a session on date ending at endTime can still be
// booked: not in the past, not already over today, and within the booking
// horizon.
func (s *Service) Bookable(date, endTime string) error {
	today := s.clock.Today()
	if date < today {
		return apperr.Validation("cannot book a session in the past")
	}
	if date == today {
		now := s.clock.Now()
		if clock.Minutes(endTime) <= now.Hour()*60+now.Minute() {
			return apperr.Validation("this session has already ended")
		}
	}
	horizon, err := s.clock.AddDays(today, s.windowDays)
	if err != nil {
		return apperr.Internal(err)
	}
	if date > horizon {
		return apperr.Validation("sessions can only be booked up to %d days ahead", s.windowDays)
	}
	return nil
}
