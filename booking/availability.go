package booking

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Availability is the result of a conflict check for a car and a
// candidate [start, end) window.
type Availability struct {
	Available             bool        `json:"available"`
	ConflictingBookingIDs []uuid.UUID `json:"conflictingBookingIds"`
}

// Overlaps is the half-open interval test: [s, e) and [s2, e2)
// conflict iff s < e2 && s2 < e. Bookings that touch end-to-start do
// not conflict.
func Overlaps(s, e, s2, e2 time.Time) bool {
	return s.Before(e2) && s2.Before(e)
}

// conflictSlot is a stored booking window joined with its live
// (unconsumed, unrevoked) verification token, if any.
type conflictSlot struct {
	ID             uuid.UUID    `db:"id"`
	StartTime      time.Time    `db:"start_time"`
	EndTime        time.Time    `db:"end_time"`
	Status         Status       `db:"status"`
	TokenExpiresAt sql.NullTime `db:"token_expires_at"`
}

// blocks reports whether this stored booking counts against
// availability at the given instant. PENDING bookings whose token
// expired unconsumed are treated as abandoned even though the stored
// status still reads pending (lazy expiry); PENDING bookings without a
// token (walk-ins awaiting admin approval) keep blocking.
func (s conflictSlot) blocks(now time.Time) bool {
	switch s.Status {
	case StatusConfirmed, StatusOngoing, StatusVerified:
		return true
	case StatusPending:
		if s.TokenExpiresAt.Valid && !s.TokenExpiresAt.Time.After(now) {
			return false
		}
		return true
	}
	return false
}

// conflictingIDs filters stored slots down to the ones that block the
// candidate window. Evaluated against a single now for the whole check.
func conflictingIDs(slots []conflictSlot, start, end, now time.Time) []uuid.UUID {
	var ids []uuid.UUID
	for _, s := range slots {
		if !s.blocks(now) {
			continue
		}
		if Overlaps(start, end, s.StartTime, s.EndTime) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}
