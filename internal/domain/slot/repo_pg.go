package slot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/db"
)

type repoPG struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewRepoPG(pool *pgxpool.Pool, timeout time.Duration) Repository {
	return &repoPG{pool: pool, timeout: timeout}
}

const ruleCols = `id, doctor_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	consultation_type, max_patients, active, created_at, updated_at`

const weekOrderSQL = `array_position(ARRAY['SATURDAY','SUNDAY','MONDAY','TUESDAY','WEDNESDAY','THURSDAY','FRIDAY'], day_of_week)`

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	var day, ctype string
	err := row.Scan(&r.ID, &r.DoctorID, &day, &r.StartTime, &r.EndTime,
		&ctype, &r.MaxPatients, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.DayOfWeek = DayOfWeek(day)
	r.ConsultationType = ConsultationType(ctype)
	return &r, nil
}

// ruleErr maps the live-start unique index to a readable conflict.
func ruleErr(err error, r *Rule) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "slot_rules_live_start_key" {
		return apperr.Conflict(err, "an active slot already starts at %s on %s", r.StartTime, r.DayOfWeek)
	}
	return apperr.FromDB(err, "slot")
}

func (p *repoPG) Create(ctx context.Context, r *Rule) error {
	ctx, cancel := db.WithTimeout(ctx, p.timeout)
	defer cancel()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	err := db.Conn(ctx, p.pool).QueryRow(ctx, `
		INSERT INTO slot_rules (id, doctor_id, day_of_week, start_time, end_time,
			consultation_type, max_patients, active)
		VALUES ($1, $2, $3, $4::time, $5::time, $6, $7, $8)
		RETURNING created_at, updated_at`,
		r.ID, r.DoctorID, string(r.DayOfWeek), r.StartTime, r.EndTime,
		string(r.ConsultationType), r.MaxPatients, r.Active).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return ruleErr(err, r)
	}
	return nil
}

func (p *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	ctx, cancel := db.WithTimeout(ctx, p.timeout)
	defer cancel()

	r, err := scanRule(db.Conn(ctx, p.pool).QueryRow(ctx, `SELECT `+ruleCols+` FROM slot_rules WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "slot")
	}
	return r, nil
}

func (p *repoPG) LockForBooking(ctx context.Context, id uuid.UUID) (*Rule, error) {
	r, err := scanRule(db.Conn(ctx, p.pool).QueryRow(ctx,
		`SELECT `+ruleCols+` FROM slot_rules WHERE id = $1 FOR SHARE`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "slot")
	}
	return r, nil
}

func (p *repoPG) Update(ctx context.Context, r *Rule) error {
	ctx, cancel := db.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := db.Conn(ctx, p.pool).QueryRow(ctx, `
		UPDATE slot_rules SET day_of_week = $2, start_time = $3::time, end_time = $4::time,
			consultation_type = $5, max_patients = $6, active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		r.ID, string(r.DayOfWeek), r.StartTime, r.EndTime,
		string(r.ConsultationType), r.MaxPatients, r.Active).Scan(&r.UpdatedAt)
	if err != nil {
		return ruleErr(err, r)
	}
	return nil
}

func (p *repoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, activeOnly bool) ([]*Rule, error) {
	ctx, cancel := db.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := db.Conn(ctx, p.pool).Query(ctx, `
		SELECT `+ruleCols+` FROM slot_rules
		WHERE doctor_id = $1 AND (active OR NOT $2)
		ORDER BY `+weekOrderSQL+`, start_time, id`, doctorID, activeOnly)
	if err != nil {
		return nil, apperr.FromDB(err, "slot")
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, apperr.FromDB(err, "slot")
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromDB(err, "slot")
	}
	return rules, nil
}

func (p *repoPG) CountBookings(ctx context.Context, doctorID uuid.UUID, start, end string) (map[SlotTime]int, error) {
	ctx, cancel := db.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := db.Conn(ctx, p.pool).Query(ctx, `
		SELECT to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'), COUNT(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date BETWEEN $2::date AND $3::date
		  AND status NOT IN ('CANCELLED', 'REJECTED')
		GROUP BY appointment_date, appointment_time`, doctorID, start, end)
	if err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	defer rows.Close()

	counts := make(map[SlotTime]int)
	for rows.Next() {
		var k SlotTime
		var n int
		if err := rows.Scan(&k.Date, &k.Time, &n); err != nil {
			return nil, apperr.FromDB(err, "appointment")
		}
		counts[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	return counts, nil
}
