package renter

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Renter is a registered customer. Walk-in guests are not renters;
// their identity is captured on the booking itself.
type Renter struct {
	ID        uuid.UUID
	Auth0ID   string         `db:"auth0_id"`
	Email     sql.NullString `db:"email"`
	Name      sql.NullString `db:"name"`
	BirthDate sql.NullTime   `db:"birth_date"`
	IsAdmin   bool           `db:"is_admin"`
	CreatedAt time.Time      `db:"created_at"`
}
