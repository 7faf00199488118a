package user

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/db"
)

type repoPG struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewRepoPG(pool *pgxpool.Pool, timeout time.Duration) Repository {
	return &repoPG{pool: pool, timeout: timeout}
}

const userCols = `id, full_name, COALESCE(email, ''), COALESCE(phone, ''), role, created_at`

func (r *repoPG) Create(ctx context.Context, u *User) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, full_name, email, phone, role)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		RETURNING created_at`,
		u.ID, u.FullName, u.Email, u.Phone, string(u.Role)).Scan(&u.CreatedAt)
	return apperr.FromDB(err, "user")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "user")
	}
	return u, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return &u, nil
}
