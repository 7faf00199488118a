package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediconnect/mediconnect/internal/domain/slot"
	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/db"
	"github.com/mediconnect/mediconnect/internal/platform/lock"
)

type repoPG struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewRepoPG(pool *pgxpool.Pool, timeout time.Duration) Repository {
	return &repoPG{pool: pool, timeout: timeout}
}

const apptCols = `id, patient_id, doctor_id, slot_rule_id,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	consultation_type, status, symptoms, queue_number,
	called_at, started_at, completed_at, cancelled_at, created_at, updated_at`

const queueOrder = `ORDER BY queue_number ASC NULLS LAST, appointment_time ASC, created_at ASC, id`

const inQueue = `status IN ('PENDING', 'CONFIRMED', 'IN_PROGRESS')`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var ctype, status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SlotRuleID, &a.Date, &a.Time,
		&ctype, &status, &a.Symptoms, &a.QueueNumber,
		&a.CalledAt, &a.StartedAt, &a.CompletedAt, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ConsultationType = slot.ConsultationType(ctype)
	a.Status = Status(status)
	return &a, nil
}

func collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, apperr.FromDB(err, "appointment")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	return out, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_rule_id, appointment_date, appointment_time,
			consultation_type, status, symptoms, queue_number)
		VALUES ($1, $2, $3, $4, $5::date, $6::time, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.SlotRuleID, a.Date, a.Time,
		string(a.ConsultationType), string(a.Status), a.Symptoms, a.QueueNumber).Scan(&a.CreatedAt, &a.UpdatedAt)
	return apperr.FromDB(err, "appointment")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	a, err := scanAppt(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	return a, nil
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	return a, nil
}

func (r *repoPG) Save(ctx context.Context, a *Appointment) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET status = $2, queue_number = $3, called_at = $4, started_at = $5,
			completed_at = $6, cancelled_at = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, string(a.Status), a.QueueNumber, a.CalledAt, a.StartedAt, a.CompletedAt, a.CancelledAt).Scan(&a.UpdatedAt)
	return apperr.FromDB(err, "appointment")
}

func (r *repoPG) LockDay(ctx context.Context, doctorID uuid.UUID, date string) error {
	if err := db.AdvisoryXactLock(ctx, db.Conn(ctx, r.pool), lock.BookingKey(doctorID, date)); err != nil {
		return apperr.FromDB(err, "queue")
	}
	return nil
}

func (r *repoPG) CountBooked(ctx context.Context, doctorID uuid.UUID, date, startTime string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2::date AND appointment_time = $3::time
		  AND status NOT IN ('CANCELLED', 'REJECTED')`, doctorID, date, startTime).Scan(&n)
	if err != nil {
		return 0, apperr.FromDB(err, "appointment")
	}
	return n, nil
}

func (r *repoPG) PatientHasSeat(ctx context.Context, patientID, doctorID uuid.UUID, date, startTime string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1 AND doctor_id = $2 AND appointment_date = $3::date
			  AND appointment_time = $4::time AND status NOT IN ('CANCELLED', 'REJECTED'))`,
		patientID, doctorID, date, startTime).Scan(&exists)
	if err != nil {
		return false, apperr.FromDB(err, "appointment")
	}
	return exists, nil
}

func (r *repoPG) NextQueueNumber(ctx context.Context, doctorID uuid.UUID, date string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_number), 0) + 1 FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2::date`, doctorID, date).Scan(&n)
	if err != nil {
		return 0, apperr.FromDB(err, "appointment")
	}
	return n, nil
}

func (r *repoPG) ListDay(ctx context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2::date
		`+queueOrder, doctorID, date)
	if err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	return collect(rows)
}

// Renumber releases the numbers held by finished appointments, then parks the
// day's queue entries on negative numbers so the unique index on queue
// numbers never sees a transient duplicate.
func (r *repoPG) Renumber(ctx context.Context, doctorID uuid.UUID, date string) (int, error) {
	conn := db.Conn(ctx, r.pool)
	_, err := conn.Exec(ctx, `
		UPDATE appointments SET queue_number = NULL, updated_at = NOW()
		WHERE doctor_id = $1 AND appointment_date = $2::date
		  AND status IN ('COMPLETED', 'REJECTED') AND queue_number IS NOT NULL`, doctorID, date)
	if err != nil {
		return 0, apperr.FromDB(err, "queue")
	}
	_, err = conn.Exec(ctx, `
		WITH ordered AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY appointment_time, created_at, id) AS n
			FROM appointments
			WHERE doctor_id = $1 AND appointment_date = $2::date AND `+inQueue+`
		)
		UPDATE appointments a SET queue_number = -o.n, updated_at = NOW()
		FROM ordered o WHERE a.id = o.id`, doctorID, date)
	if err != nil {
		return 0, apperr.FromDB(err, "queue")
	}
	tag, err := conn.Exec(ctx, `
		UPDATE appointments SET queue_number = -queue_number
		WHERE doctor_id = $1 AND appointment_date = $2::date AND `+inQueue+` AND queue_number < 0`,
		doctorID, date)
	if err != nil {
		return 0, apperr.FromDB(err, "queue")
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status Status, limit, offset int) ([]*Appointment, int, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE patient_id = $1 AND ($2 = '' OR status = $2)`, patientID, string(status)).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err, "appointment")
	}

	rows, err := conn.Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE patient_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY appointment_date DESC, appointment_time DESC, created_at DESC
		LIMIT $3 OFFSET $4`, patientID, string(status), limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "appointment")
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
