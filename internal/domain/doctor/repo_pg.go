package doctor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
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

const doctorCols = `id, user_id, full_name, specialty, active, created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.UserID, &d.FullName, &d.Specialty, &d.Active, &d.CreatedAt)
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *Doctor) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, user_id, full_name, specialty, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		d.ID, d.UserID, d.FullName, d.Specialty, d.Active).Scan(&d.CreatedAt)
	return apperr.FromDB(err, "doctor")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	d, err := scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "doctor")
	}
	return d, nil
}

func (r *repoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	d, err := scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE user_id = $1`, userID))
	if err != nil {
		return nil, apperr.FromDB(err, "doctor profile")
	}
	return d, nil
}

func (r *repoPG) ListActive(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM doctors
		WHERE active AND ($1 = '' OR lower(specialty) = lower($1))`, specialty).Scan(&total); err != nil {
		return nil, 0, apperr.FromDB(err, "doctor")
	}

	rows, err := conn.Query(ctx, `
		SELECT `+doctorCols+` FROM doctors
		WHERE active AND ($1 = '' OR lower(specialty) = lower($1))
		ORDER BY full_name, id
		LIMIT $2 OFFSET $3`, specialty, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "doctor")
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, apperr.FromDB(err, "doctor")
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.FromDB(err, "doctor")
	}
	return items, total, nil
}
