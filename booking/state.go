package booking

import (
	"time"

	"github.com/roadsterhq/rentalengine-backend/car"
)

// Role is the actor attempting an operation. Admins may cancel from
// any non-terminal state; renters are bound to the cancellation window.
type Role string

const (
	RoleRenter Role = "renter"
	RoleAdmin  Role = "admin"
)

// GuardError names the precondition that blocked a transition. Codes
// are stable and surfaced verbatim to callers.
type GuardError struct {
	Code    string
	Message string
}

func (e *GuardError) Error() string {
	return e.Code + ": " + e.Message
}

var (
	ErrCarUnavailable = &GuardError{"ERR_CAR_UNAVAILABLE", "car is already booked for an overlapping window"}

	ErrInvalidTransition    = &GuardError{"ERR_INVALID_TRANSITION", "transition not permitted from current status"}
	ErrPaymentNotSucceeded  = &GuardError{"ERR_PAYMENT_NOT_SUCCEEDED", "payment has not succeeded for this booking"}
	ErrDocumentsNotApproved = &GuardError{"ERR_DOCUMENTS_NOT_APPROVED", "driver verification profile is not approved"}
	ErrCancelWindowClosed   = &GuardError{"ERR_CANCEL_WINDOW_CLOSED", "cancellation window has closed for this booking"}
	ErrCancelAdminOnly      = &GuardError{"ERR_CANCEL_ADMIN_ONLY", "only an administrator can cancel an ongoing booking"}
	ErrOdometerInvalid      = &GuardError{"ERR_ODOMETER_INVALID", "odometer reading is invalid"}
	ErrNotCourtesy          = &GuardError{"ERR_NOT_COURTESY", "only courtesy bookings skip verification"}
)

// allowedTransitions is the booking state graph. Terminal states have
// no successors.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusVerified, StatusConfirmed, StatusCancelled},
	StatusVerified:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusOngoing, StatusCancelled},
	StatusOngoing:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is an edge of the state
// graph. Guards still apply on top.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// GuardVerify gates PENDING -> VERIFIED. Token validity is enforced by
// the token manager's consume; this guard only checks the machine.
// Courtesy bookings never pass through VERIFIED.
func GuardVerify(b Booking) *GuardError {
	if !CanTransition(b.Status, StatusVerified) {
		return ErrInvalidTransition
	}
	if b.Type == TypeReplacement {
		return ErrInvalidTransition
	}
	return nil
}

// GuardConfirm gates VERIFIED -> CONFIRMED on a succeeded payment.
// Courtesy bookings confirm directly from PENDING with a zero-amount
// payment auto-satisfying the gate.
func GuardConfirm(b Booking, pay PaymentStatus) *GuardError {
	if !CanTransition(b.Status, StatusConfirmed) {
		return ErrInvalidTransition
	}
	if b.Status == StatusPending && b.Type != TypeReplacement {
		return ErrNotCourtesy
	}
	if b.Type == TypeReplacement {
		return nil
	}
	if pay != PaymentSucceeded {
		return ErrPaymentNotSucceeded
	}
	return nil
}

// GuardStartTrip gates CONFIRMED -> ONGOING. Walk-ins are checked
// physically at the counter, so the digital profile requirement is
// waived for them.
func GuardStartTrip(b Booking, documentsApproved bool, startOdometer int64) *GuardError {
	if !CanTransition(b.Status, StatusOngoing) {
		return ErrInvalidTransition
	}
	if startOdometer < 0 {
		return ErrOdometerInvalid
	}
	if b.Type == TypeReplacement || b.IsWalkIn {
		return nil
	}
	if !documentsApproved {
		return ErrDocumentsNotApproved
	}
	return nil
}

// GuardCompleteTrip gates ONGOING -> COMPLETED.
func GuardCompleteTrip(b Booking, endOdometer int64) *GuardError {
	if !CanTransition(b.Status, StatusCompleted) {
		return ErrInvalidTransition
	}
	if !b.StartOdometer.Valid || endOdometer < b.StartOdometer.Int64 {
		return ErrOdometerInvalid
	}
	return nil
}

// GuardCancel gates * -> CANCELLED. Renters may cancel while PENDING
// or VERIFIED, or while CONFIRMED more than the cancellation window
// before pickup. Admins may cancel any non-terminal booking.
func GuardCancel(b Booking, role Role, now time.Time, window time.Duration) *GuardError {
	if b.Status.Terminal() {
		return ErrInvalidTransition
	}
	if role == RoleAdmin {
		return nil
	}
	switch b.Status {
	case StatusPending, StatusVerified:
		return nil
	case StatusConfirmed:
		if now.Before(b.StartTime.Add(-window)) {
			return nil
		}
		return ErrCancelWindowClosed
	case StatusOngoing:
		return ErrCancelAdminOnly
	}
	return ErrInvalidTransition
}

// ExtraKm computes the post-trip excess distance settlement. The
// included distance is dailyKmLimit * billable days; anything beyond
// is charged per kilometre. Returns zeros when within the limit.
func ExtraKm(b Booking, c car.Car, endOdometer int64) (excessKm, amountCents int64) {
	if !b.StartOdometer.Valid {
		return 0, 0
	}
	driven := endOdometer - b.StartOdometer.Int64
	included := int64(c.DailyKmLimit) * int64(RentalDays(b.StartTime, b.EndTime))
	if driven <= included {
		return 0, 0
	}
	excessKm = driven - included
	return excessKm, excessKm * c.ExtraKmChargeCents
}
