// Package verification owns the identity-document workflow: the
// time-limited tokens that gate the self-service flow, the three-step
// document submission, and the driver verification profile that the
// booking engine's trip-start guard reads.
package verification

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Token is a single-use, time-limited credential bound 1:1 to a
// booking. A booking has at most one live token; issuing a new one
// revokes the previous.
type Token struct {
	ID         uuid.UUID    `db:"id"`
	BookingID  uuid.UUID    `db:"booking_id"`
	Token      string       `db:"token"`
	ExpiresAt  time.Time    `db:"expires_at"`
	ConsumedAt sql.NullTime `db:"consumed_at"`
	RevokedAt  sql.NullTime `db:"revoked_at"`
	CreatedAt  time.Time    `db:"created_at"`
}

// Live reports whether the token can still be consumed at the given
// instant.
func (t Token) Live(now time.Time) bool {
	return !t.ConsumedAt.Valid && !t.RevokedAt.Valid && t.ExpiresAt.After(now)
}

// TimeRemaining returns the countdown until expiry, or zero when the
// token has expired. Expiry is evaluated lazily on read; there is no
// background timer.
func (t Token) TimeRemaining(now time.Time) time.Duration {
	if !t.ExpiresAt.After(now) {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// newOpaqueToken returns the wire form of a fresh token. Two UUIDs
// back to back; opaque to clients.
func newOpaqueToken() string {
	return uuid.NewString() + uuid.NewString()
}
