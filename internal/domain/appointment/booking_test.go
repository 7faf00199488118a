package appointment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mediconnect/mediconnect/internal/domain/slot"
	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/lock"
	"github.com/mediconnect/mediconnect/internal/platform/notification"
)

func TestBook_Confirmed(t *testing.T) {
	f := newFixture(t, 2)
	patient := uuid.New()
	a := f.book(t, patient, f.rule, saturday)

	if a.Status != StatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", a.Status)
	}
	if a.QueueNumber == nil || *a.QueueNumber != 1 {
		t.Errorf("expected queue number 1, got %v", a.QueueNumber)
	}
	if a.Date != saturday || a.Time != "09:00" || a.ConsultationType != slot.Physical {
		t.Errorf("unexpected appointment %+v", a)
	}
	if a.PatientID != patient || a.SlotRuleID != f.rule.ID {
		t.Errorf("unexpected ownership %+v", a)
	}

	if f.events.count(notification.AppointmentConfirmed) != 1 || f.events.count(notification.QueueUpdated) != 1 {
		t.Errorf("unexpected events %v", f.events.types())
	}
	e := f.events.events[0]
	if e.RecipientUserID != patient || e.Payload["queue_number"] != "1" || e.Payload["doctor_name"] != "Dr. Rahman" {
		t.Errorf("unexpected confirmation event %+v", e)
	}
	if f.events.events[1].RecipientUserID != f.doc.UserID {
		t.Errorf("expected queue update for the doctor's user")
	}
}

func TestBook_CapacityScenario(t *testing.T) {
	f := newFixture(t, 2)
	first := f.book(t, uuid.New(), f.rule, saturday)
	second := f.book(t, uuid.New(), f.rule, saturday)
	if *first.QueueNumber != 1 || *second.QueueNumber != 2 {
		t.Fatalf("expected queue numbers 1 and 2, got %d and %d", *first.QueueNumber, *second.QueueNumber)
	}

	_, err := f.booking.Book(context.Background(), BookingInput{PatientID: uuid.New(), DoctorID: f.doc.ID, SessionID: sessionID(f.rule, saturday)})
	if !apperr.Is(err, apperr.KindCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}

	patient := auth.Identity{UserID: first.PatientID, Role: auth.RolePatient}
	if _, err := f.booking.Cancel(context.Background(), patient, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	n, _ := f.repo.CountBooked(context.Background(), f.doc.ID, saturday, "09:00")
	if n != 1 {
		t.Errorf("expected one seat taken after cancel, got %d", n)
	}

	third := f.book(t, uuid.New(), f.rule, saturday)
	if *third.QueueNumber != 3 {
		t.Errorf("expected a fresh queue number 3, got %d", *third.QueueNumber)
	}
}

func TestBook_ConcurrentLastSeat(t *testing.T) {
	f := newFixture(t, 1)
	const attempts = 12

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.booking.Book(context.Background(), BookingInput{
				PatientID: uuid.New(), DoctorID: f.doc.ID, SessionID: sessionID(f.rule, saturday),
			})
		}(i)
	}
	wg.Wait()

	ok, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.KindCapacityExceeded):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || full != attempts-1 {
		t.Errorf("expected 1 success and %d capacity errors, got %d and %d", attempts-1, ok, full)
	}
}

func TestBook_QueueNumbersUniqueUnderLoad(t *testing.T) {
	f := newFixture(t, 50)
	afternoon := f.addRule(slot.Saturday, "15:00", "18:00", slot.Both, 50)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := f.rule
			if i%2 == 1 {
				r = afternoon
			}
			if _, err := f.booking.Book(context.Background(), BookingInput{
				PatientID: uuid.New(), DoctorID: f.doc.ID, SessionID: sessionID(r, saturday),
			}); err != nil {
				t.Errorf("book: %v", err)
			}
		}(i)
	}
	wg.Wait()

	day, _ := f.repo.ListDay(context.Background(), f.doc.ID, saturday)
	seen := map[int]bool{}
	for _, a := range day {
		if seen[*a.QueueNumber] {
			t.Fatalf("duplicate queue number %d", *a.QueueNumber)
		}
		seen[*a.QueueNumber] = true
	}
	if len(seen) != 40 {
		t.Errorf("expected 40 appointments, got %d", len(seen))
	}
}

func TestBook_Rejections(t *testing.T) {
	f := newFixture(t, 2)
	tele := f.addRule(slot.Saturday, "15:00", "17:00", slot.Telemedicine, 2)
	friday := f.addRule(slot.Friday, "08:00", "10:00", slot.Physical, 2)
	off := f.addRule(slot.Sunday, "09:00", "12:00", slot.Physical, 2)
	off.Active = false
	inactiveDoc := f.doctors.byID[f.doc.ID]

	tests := []struct {
		name  string
		in    BookingInput
		kind  apperr.Kind
		setup func()
	}{
		{"bad session id", BookingInput{SessionID: "1_2_3"}, apperr.KindValidation, nil},
		{"unknown rule", BookingInput{SessionID: slot.SessionKey{RuleID: uuid.New(), Date: saturday, StartTime: "09:00"}.String()}, apperr.KindNotFound, nil},
		{"wrong weekday", BookingInput{SessionID: sessionID(f.rule, "2026-10-18")}, apperr.KindNotFound, nil},
		{"wrong start time", BookingInput{SessionID: slot.SessionKey{RuleID: f.rule.ID, Date: saturday, StartTime: "10:00"}.String()}, apperr.KindNotFound, nil},
		{"inactive rule", BookingInput{SessionID: sessionID(off, "2026-10-18")}, apperr.KindNotFound, nil},
		{"past date", BookingInput{SessionID: sessionID(f.rule, "2026-10-10")}, apperr.KindValidation, nil},
		{"ended today", BookingInput{SessionID: sessionID(friday, today)}, apperr.KindValidation, nil},
		{"beyond horizon", BookingInput{SessionID: sessionID(f.rule, "2026-10-31")}, apperr.KindValidation, nil},
		{"type not served", BookingInput{SessionID: sessionID(tele, saturday), ConsultationType: "PHYSICAL"}, apperr.KindValidation, nil},
		{"unknown type", BookingInput{SessionID: sessionID(f.rule, saturday), ConsultationType: "HOME"}, apperr.KindValidation, nil},
		{"symptoms too long", BookingInput{SessionID: sessionID(f.rule, saturday), Symptoms: strings.Repeat("x", maxSymptomsLen+1)}, apperr.KindValidation, nil},
		{"inactive doctor", BookingInput{SessionID: sessionID(f.rule, saturday)}, apperr.KindNotFound, func() { inactiveDoc.Active = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			in := tt.in
			in.PatientID = uuid.New()
			in.DoctorID = f.doc.ID
			_, err := f.booking.Book(context.Background(), in)
			if !apperr.Is(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}

	if n := len(f.repo.appts); n != 0 {
		t.Errorf("expected no appointments written, got %d", n)
	}
}

func TestBook_OtherDoctorsRule(t *testing.T) {
	f := newFixture(t, 2)
	other := f.doctors.byID[f.doc.ID]
	second := *other
	second.ID, second.UserID = uuid.New(), uuid.New()
	f.doctors.byID[second.ID] = &second

	_, err := f.booking.Book(context.Background(), BookingInput{
		PatientID: uuid.New(), DoctorID: second.ID, SessionID: sessionID(f.rule, saturday),
	})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestBook_ConsultationTypes(t *testing.T) {
	f := newFixture(t, 5)
	both := f.addRule(slot.Saturday, "15:00", "18:00", slot.Both, 5)

	a := f.book(t, uuid.New(), both, saturday)
	if a.ConsultationType != slot.Physical {
		t.Errorf("expected BOTH rule to default to PHYSICAL, got %s", a.ConsultationType)
	}
	tele, err := f.booking.Book(context.Background(), BookingInput{
		PatientID: uuid.New(), DoctorID: f.doc.ID, SessionID: sessionID(both, saturday), ConsultationType: "telemedicine",
	})
	if err != nil || tele.ConsultationType != slot.Telemedicine {
		t.Errorf("expected TELEMEDICINE booking, got %+v (%v)", tele, err)
	}
}

func TestBook_DuplicateSeat(t *testing.T) {
	f := newFixture(t, 3)
	patient := uuid.New()
	f.book(t, patient, f.rule, saturday)
	_, err := f.booking.Book(context.Background(), BookingInput{PatientID: patient, DoctorID: f.doc.ID, SessionID: sessionID(f.rule, saturday)})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

type busyLocker struct{ err error }

func (b busyLocker) WithLock(context.Context, string, func(context.Context) error) error { return b.err }

func TestBook_LockOutcomes(t *testing.T) {
	f := newFixture(t, 2)

	f.booking.Locker = busyLocker{err: lock.ErrNotAcquired}
	_, err := f.booking.Book(context.Background(), BookingInput{PatientID: uuid.New(), DoctorID: f.doc.ID, SessionID: sessionID(f.rule, saturday)})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("expected conflict when the lock is held, got %v", err)
	}

	f.booking.Locker = busyLocker{err: errors.New("dial tcp: connection refused")}
	a, err := f.booking.Book(context.Background(), BookingInput{PatientID: uuid.New(), DoctorID: f.doc.ID, SessionID: sessionID(f.rule, saturday)})
	if err != nil || a == nil {
		t.Errorf("expected booking to fall back to the database lock, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t, 2)
	a := f.book(t, uuid.New(), f.rule, saturday)
	f.events.reset()
	patient := auth.Identity{UserID: a.PatientID, Role: auth.RolePatient}

	got, err := f.booking.Cancel(context.Background(), patient, a.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled || got.CancelledAt == nil {
		t.Errorf("unexpected appointment %+v", got)
	}
	if f.events.count(notification.AppointmentCancelled) != 1 {
		t.Errorf("expected one cancellation event, got %v", f.events.types())
	}

	// Second cancel is a no-op.
	f.events.reset()
	if _, err := f.booking.Cancel(context.Background(), patient, a.ID); err != nil {
		t.Errorf("expected repeat cancel to succeed, got %v", err)
	}
	if len(f.events.types()) != 0 {
		t.Errorf("expected no events on repeat cancel, got %v", f.events.types())
	}
}

func TestCancel_Authorization(t *testing.T) {
	f := newFixture(t, 3)
	a := f.book(t, uuid.New(), f.rule, saturday)

	stranger := auth.Identity{UserID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.booking.Cancel(context.Background(), stranger, a.ID); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("expected authorization error, got %v", err)
	}
	if _, err := f.booking.Cancel(context.Background(), f.docCaller, a.ID); err != nil {
		t.Errorf("expected owning doctor to cancel, got %v", err)
	}

	b := f.book(t, uuid.New(), f.rule, saturday)
	admin := auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin}
	if _, err := f.booking.Cancel(context.Background(), admin, b.ID); err != nil {
		t.Errorf("expected admin to cancel, got %v", err)
	}
}

func TestCancel_NotWaiting(t *testing.T) {
	f := newFixture(t, 3)
	a := f.book(t, uuid.New(), f.rule, saturday)
	if _, err := f.queue.Complete(context.Background(), f.docCaller, a.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	patient := auth.Identity{UserID: a.PatientID, Role: auth.RolePatient}
	if _, err := f.booking.Cancel(context.Background(), patient, a.ID); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t, 3)
	patient := uuid.New()
	a := f.book(t, patient, f.rule, saturday)
	f.book(t, patient, f.rule, "2026-10-24")

	got, err := f.booking.Get(context.Background(), auth.Identity{UserID: patient, Role: auth.RolePatient}, a.ID)
	if err != nil || got.ID != a.ID {
		t.Errorf("expected own appointment, got %+v (%v)", got, err)
	}
	if _, err := f.booking.Get(context.Background(), auth.Identity{UserID: uuid.New(), Role: auth.RoleDoctor}, a.ID); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("expected authorization error, got %v", err)
	}

	items, total, err := f.booking.ListForPatient(context.Background(), patient, "", 10, 0)
	if err != nil || total != 2 || len(items) != 2 || items[0].Date != "2026-10-24" {
		t.Errorf("unexpected list %+v total=%d (%v)", items, total, err)
	}
	_, total, _ = f.booking.ListForPatient(context.Background(), patient, "cancelled", 10, 0)
	if total != 0 {
		t.Errorf("expected no cancelled appointments, got %d", total)
	}
	if _, _, err := f.booking.ListForPatient(context.Background(), patient, "LOST", 10, 0); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestBook_RecordsOutcomes(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.book(t, uuid.New(), f.rule, saturday)

	_, err := f.booking.Book(ctx, BookingInput{PatientID: uuid.New(), DoctorID: f.doc.ID, SessionID: sessionID(f.rule, saturday)})
	if !apperr.Is(err, apperr.KindCapacityExceeded) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
	_, _ = f.booking.Book(ctx, BookingInput{PatientID: uuid.New(), DoctorID: f.doc.ID, SessionID: "garbage"})

	for key, want := range map[string]int{
		"booking:confirmed":         1,
		"booking:capacity_exceeded": 1,
		"booking:rejected":          1,
	} {
		if got := f.metrics.get(key); got != want {
			t.Errorf("%s: expected %d, got %d", key, want, got)
		}
	}

	if _, err := f.queue.CallNext(ctx, f.docCaller, CallNextInput{Date: saturday}); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, err := f.queue.CallNext(ctx, f.docCaller, CallNextInput{Date: saturday}); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if f.metrics.get("queue:called") != 1 || f.metrics.get("queue:repeat") != 1 {
		t.Errorf("unexpected queue counts %v", f.metrics.seen)
	}
}
