package appointment

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediconnect/mediconnect/internal/domain/doctor"
	"github.com/mediconnect/mediconnect/internal/domain/slot"
	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/clock"
	"github.com/mediconnect/mediconnect/internal/platform/db"
	"github.com/mediconnect/mediconnect/internal/platform/lock"
	"github.com/mediconnect/mediconnect/internal/platform/notification"
)

// DoctorDirectory resolves and authorizes doctors.
type DoctorDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
	GetActive(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error)
	ForCaller(ctx context.Context, caller auth.Identity) (*doctor.Doctor, error)
	Authorize(ctx context.Context, caller auth.Identity, doctorID uuid.UUID) (*doctor.Doctor, error)
}

// RuleStore is the slot rule access booking needs.
type RuleStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*slot.Rule, error)
	LockForBooking(ctx context.Context, id uuid.UUID) (*slot.Rule, error)
}

// SessionPolicy decides whether a dated session may still be booked.
type SessionPolicy interface {
	Bookable(date, endTime string) error
}

// Deps are shared by the booking and queue services.
type Deps struct {
	Appointments Repository
	Rules        RuleStore
	Sessions     SessionPolicy
	Doctors      DoctorDirectory
	Locker       lock.Locker
	Tx           db.Transactor
	Events       notification.Emitter
	Contacts     notification.ContactDirectory // optional, names patients on the queue sheet
	Metrics      Recorder
	SheetFont    string // optional UTF-8 TrueType font for the queue sheet
	Clock        *clock.Clock
	Logger       zerolog.Logger
}

// Recorder counts booking and queue outcomes.
type Recorder interface {
	BookingOutcome(outcome string)
	QueueCall(result string)
}

type noopRecorder struct{}

func (noopRecorder) BookingOutcome(string) {}
func (noopRecorder) QueueCall(string) {}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case apperr.Is(err, apperr.KindCapacityExceeded):
		return "capacity_exceeded"
	case apperr.Is(err, apperr.KindConflict):
		return "conflict"
	case apperr.Is(err, apperr.KindValidation), apperr.Is(err, apperr.KindNotFound):
		return "rejected"
	}
	return "error"
}

func (d *Deps) defaults() {
	if d.Locker == nil {
		d.Locker = lock.Noop{}
	}
	if d.Events == nil {
		d.Events = notification.Discard{}
	}
	if d.Metrics == nil {
		d.Metrics = noopRecorder{}
	}
}

// authorizeView allows the patient who booked, the doctor seen and admins.
func (d *Deps) authorizeView(ctx context.Context, caller auth.Identity, a *Appointment) error {
	if caller.IsAdmin() || caller.UserID == a.PatientID {
		return nil
	}
	if _, err := d.Doctors.Authorize(ctx, caller, a.DoctorID); err != nil {
		if apperr.Is(err, apperr.KindAuthorization) || apperr.Is(err, apperr.KindNotFound) {
			return apperr.Authorization("not allowed to access this appointment")
		}
		return err
	}
	return nil
}

// resolveDate defaults to today and validates the format.
func (d *Deps) resolveDate(date string) (string, error) {
	if date == "" {
		return d.Clock.Today(), nil
	}
	out, err := clock.ParseDate(date)
	if err != nil {
		return "", apperr.Validation("date must be a date in YYYY-MM-DD format")
	}
	return out, nil
}

func appointmentPayload(a *Appointment, doc *doctor.Doctor) map[string]string {
	p := map[string]string{
		"appointment_id":    a.ID.String(),
		"doctor_id":         a.DoctorID.String(),
		"date":              a.Date,
		"time":              a.Time,
		"consultation_type": string(a.ConsultationType),
		"queue_number":      a.queueNumberString(),
		"status":            string(a.Status),
	}
	if doc != nil {
		p["doctor_name"] = doc.FullName
	}
	return p
}

// notifyPatient emits t to the appointment's patient. The doctor lookup is
// best effort; a missing name never blocks the event.
func (d *Deps) notifyPatient(ctx context.Context, t notification.EventType, a *Appointment) {
	doc, err := d.Doctors.Get(ctx, a.DoctorID)
	if err != nil {
		d.Logger.Warn().Err(err).Str("doctor_id", a.DoctorID.String()).Msg("doctor lookup for notification failed")
		doc = nil
	}
	d.Events.Emit(ctx, notification.NewEvent(t, a.PatientID, appointmentPayload(a, doc)))
}

// notifyQueue tells the doctor's live screens that the day's queue changed.
func (d *Deps) notifyQueue(ctx context.Context, doctorID uuid.UUID, date string) {
	doc, err := d.Doctors.Get(ctx, doctorID)
	if err != nil {
		d.Logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("doctor lookup for queue update failed")
		return
	}
	payload := map[string]string{
		"doctor_id":   doctorID.String(),
		"doctor_name": doc.FullName,
		"date":        date,
	}
	if day, err := d.Appointments.ListDay(ctx, doctorID, date); err == nil {
		payload["waiting"] = strconv.Itoa(buildQueue(doctorID, date, day).Summary.Waiting)
	}
	d.Events.Emit(ctx, notification.NewEvent(notification.QueueUpdated, doc.UserID, payload))
}
