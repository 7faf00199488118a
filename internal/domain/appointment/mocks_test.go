package appointment

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediconnect/mediconnect/internal/domain/doctor"
	"github.com/mediconnect/mediconnect/internal/domain/slot"
	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/clock"
	"github.com/mediconnect/mediconnect/internal/platform/notification"
)

// -- appointments --

type mockRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]Appointment
	seq   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{appts: make(map[uuid.UUID]Appointment)}
}

func (m *mockRepo) snapshot() map[uuid.UUID]Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]Appointment, len(m.appts))
	for k, v := range m.appts {
		out[k] = v
	}
	return out
}

func (m *mockRepo) restore(snap map[uuid.UUID]Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts = snap
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.QueueNumber != nil && a.Status != StatusCancelled {
		for _, o := range m.appts {
			if o.DoctorID == a.DoctorID && o.Date == a.Date && o.Status != StatusCancelled &&
				o.QueueNumber != nil && *o.QueueNumber == *a.QueueNumber {
				return apperr.Conflict(nil, "appointment was modified concurrently, please retry")
			}
		}
	}
	m.seq++
	a.CreatedAt = time.Date(2026, 10, 1, 0, 0, m.seq, 0, time.UTC)
	a.UpdatedAt = a.CreatedAt
	m.appts[a.ID] = *a
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment")
	}
	return &a, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Save(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[a.ID]; !ok {
		return apperr.NotFound("appointment")
	}
	m.appts[a.ID] = *a
	return nil
}

func (m *mockRepo) LockDay(context.Context, uuid.UUID, string) error { return nil }

func (m *mockRepo) CountBooked(_ context.Context, doctorID uuid.UUID, date, start string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date == date && a.Time == start && !a.Status.Released() {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) PatientHasSeat(_ context.Context, patientID, doctorID uuid.UUID, date, start string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.PatientID == patientID && a.DoctorID == doctorID && a.Date == date && a.Time == start && !a.Status.Released() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) NextQueueNumber(_ context.Context, doctorID uuid.UUID, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date == date && a.QueueNumber != nil && *a.QueueNumber > max {
			max = *a.QueueNumber
		}
	}
	return max + 1, nil
}

func (m *mockRepo) dayLocked(doctorID uuid.UUID, date string) []*Appointment {
	var out []*Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Date == date {
			cp := a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.QueueNumber == nil) != (b.QueueNumber == nil) {
			return a.QueueNumber != nil
		}
		if a.QueueNumber != nil && *a.QueueNumber != *b.QueueNumber {
			return *a.QueueNumber < *b.QueueNumber
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}

func (m *mockRepo) ListDay(_ context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dayLocked(doctorID, date), nil
}

func (m *mockRepo) Renumber(_ context.Context, doctorID uuid.UUID, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var live []*Appointment
	for _, a := range m.dayLocked(doctorID, date) {
		switch {
		case a.Status.InQueue():
			live = append(live, a)
		case a.Status == StatusCompleted || a.Status == StatusRejected:
			a.QueueNumber = nil
			m.appts[a.ID] = *a
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].Time != live[j].Time {
			return live[i].Time < live[j].Time
		}
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	for i, a := range live {
		n := i + 1
		a.QueueNumber = &n
		m.appts[a.ID] = *a
	}
	return len(live), nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID && (status == "" || a.Status == status) {
			cp := a
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date > all[j].Date })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// fakeTx serialises transactions and restores the repository when fn fails,
// standing in for the doctor-day advisory lock and rollback.
type fakeTx struct {
	mu   sync.Mutex
	repo *mockRepo
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.repo.snapshot()
	if err := fn(ctx); err != nil {
		f.repo.restore(snap)
		return err
	}
	return nil
}

// -- rules and doctors --

type fakeRules struct {
	mu    sync.Mutex
	rules map[uuid.UUID]*slot.Rule
}

func (f *fakeRules) GetByID(_ context.Context, id uuid.UUID) (*slot.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return nil, apperr.NotFound("slot")
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRules) LockForBooking(ctx context.Context, id uuid.UUID) (*slot.Rule, error) {
	return f.GetByID(ctx, id)
}

type fakeDoctors struct {
	byID map[uuid.UUID]*doctor.Doctor
}

func (f *fakeDoctors) Get(_ context.Context, id uuid.UUID) (*doctor.Doctor, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("doctor")
	}
	return d, nil
}

func (f *fakeDoctors) GetActive(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error) {
	d, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Active {
		return nil, apperr.NotFound("doctor")
	}
	return d, nil
}

func (f *fakeDoctors) ForCaller(_ context.Context, caller auth.Identity) (*doctor.Doctor, error) {
	for _, d := range f.byID {
		if d.UserID == caller.UserID {
			return d, nil
		}
	}
	return nil, apperr.NotFound("doctor profile")
}

func (f *fakeDoctors) Authorize(ctx context.Context, caller auth.Identity, doctorID uuid.UUID) (*doctor.Doctor, error) {
	d, err := f.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if caller.IsAdmin() || d.UserID == caller.UserID {
		return d, nil
	}
	return nil, apperr.Authorization("not allowed to act for this doctor")
}

// -- metrics --

type countingRecorder struct {
	mu   sync.Mutex
	seen map[string]int
}

func (r *countingRecorder) BookingOutcome(outcome string) { r.add("booking:" + outcome) }

func (r *countingRecorder) QueueCall(result string) { r.add("queue:" + result) }

func (r *countingRecorder) add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[key]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[key]
}

// -- events --

type recordingEmitter struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e notification.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) types() []notification.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordingEmitter) count(t notification.EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// -- fixture --

var dhaka = time.FixedZone("BDT", 6*3600)

const (
	today    = "2026-10-16" // Friday
	saturday = "2026-10-17"
)

type fixture struct {
	repo    *mockRepo
	rules   *fakeRules
	doctors *fakeDoctors
	events  *recordingEmitter
	metrics *countingRecorder
	booking *BookingService
	queue   *QueueService

	doc       *doctor.Doctor
	docCaller auth.Identity
	rule      *slot.Rule
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	clk := clock.Fixed(dhaka, time.Date(2026, 10, 16, 10, 0, 0, 0, dhaka))
	f := &fixture{
		repo:    newMockRepo(),
		rules:   &fakeRules{rules: make(map[uuid.UUID]*slot.Rule)},
		doctors: &fakeDoctors{byID: make(map[uuid.UUID]*doctor.Doctor)},
		events:  &recordingEmitter{},
		metrics: &countingRecorder{seen: make(map[string]int)},
	}
	f.doc = &doctor.Doctor{ID: uuid.New(), UserID: uuid.New(), FullName: "Dr. Rahman", Active: true}
	f.doctors.byID[f.doc.ID] = f.doc
	f.docCaller = auth.Identity{UserID: f.doc.UserID, Role: auth.RoleDoctor}
	f.rule = f.addRule(slot.Saturday, "09:00", "14:00", slot.Physical, capacity)

	deps := Deps{
		Appointments: f.repo,
		Rules:        f.rules,
		Sessions:     slot.NewService(nil, nil, clk, 14),
		Doctors:      f.doctors,
		Tx:           &fakeTx{repo: f.repo},
		Events:       f.events,
		Metrics:      f.metrics,
		Clock:        clk,
		Logger:       zerolog.Nop(),
	}
	f.booking = NewBookingService(deps)
	f.queue = NewQueueService(deps)
	return f
}

func (f *fixture) addRule(day slot.DayOfWeek, start, end string, ct slot.ConsultationType, capacity int) *slot.Rule {
	r := &slot.Rule{
		ID: uuid.New(), DoctorID: f.doc.ID, DayOfWeek: day, StartTime: start, EndTime: end,
		ConsultationType: ct, MaxPatients: capacity, Active: true,
	}
	f.rules.rules[r.ID] = r
	return r
}

func sessionID(r *slot.Rule, date string) string {
	return slot.SessionKey{RuleID: r.ID, Date: date, StartTime: r.StartTime}.String()
}

func (f *fixture) book(t *testing.T, patient uuid.UUID, r *slot.Rule, date string) *Appointment {
	t.Helper()
	a, err := f.booking.Book(context.Background(), BookingInput{
		PatientID: patient, DoctorID: f.doc.ID, SessionID: sessionID(r, date),
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return a
}
