package doctor

import (
	"time"

	"github.com/google/uuid"
)

// Doctor is a bookable practitioner. UserID links the profile to the account
// that authenticates as this doctor.
type Doctor struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	FullName  string    `json:"fullName"`
	Specialty string    `json:"specialty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
