package user

import (
	"context"

	"github.com/google/uuid"

	"github.com/mediconnect/mediconnect/internal/platform/notification"
)

// Directory resolves notification recipients from the users table.
type Directory struct {
	users Repository
}

func NewDirectory(users Repository) *Directory {
	return &Directory{users: users}
}

func (d *Directory) Contact(ctx context.Context, userID uuid.UUID) (notification.Contact, error) {
	u, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return notification.Contact{}, err
	}
	return notification.Contact{Name: u.FullName, Email: u.Email, Phone: u.Phone}, nil
}
