package booking

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusConfirmed Status = "confirmed"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

type BookingType string

const (
	// TypeRental is an ordinary paid rental.
	TypeRental BookingType = "rental"
	// TypeReplacement is a courtesy car handed out while a customer's
	// own vehicle is in the workshop. No documents, no payment.
	TypeReplacement BookingType = "replacement"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type Booking struct {
	ID    uuid.UUID `db:"id"`
	CarID uuid.UUID `db:"car_id"`

	// RenterID is set for registered customers. Walk-in guests are
	// identified by GuestName/GuestPhone instead.
	RenterID   uuid.NullUUID  `db:"renter_id"`
	GuestName  sql.NullString `db:"guest_name"`
	GuestPhone sql.NullString `db:"guest_phone"`

	Type   BookingType `db:"booking_type"`
	Status Status      `db:"status"`

	// StartTime/EndTime form a half-open interval [start, end) in UTC.
	// StartTime is the scheduled pickup, EndTime the scheduled return.
	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`

	BasePriceCents   int64 `db:"base_price_cents"`
	TaxCents         int64 `db:"tax_cents"`
	YoungDriverCents int64 `db:"young_driver_cents"`
	TotalCents       int64 `db:"total_cents"`
	DepositCents     int64 `db:"deposit_cents"`

	IsWalkIn bool `db:"is_walk_in"`

	StartOdometer sql.NullInt64  `db:"start_odometer"`
	EndOdometer   sql.NullInt64  `db:"end_odometer"`
	PickupNotes   sql.NullString `db:"pickup_notes"`
	ReturnNotes   sql.NullString `db:"return_notes"`

	CancelledAt  sql.NullTime   `db:"cancelled_at"`
	CancelReason sql.NullString `db:"cancel_reason"`

	CreatedAt time.Time `db:"created_at"`
}

// Payment mirrors the external payment collaborator's view of a
// booking. Owned by the booking, updated when the collaborator reports.
type Payment struct {
	ID          uuid.UUID     `db:"id"`
	BookingID   uuid.UUID     `db:"booking_id"`
	ProviderRef string        `db:"provider_ref"`
	Status      PaymentStatus `db:"status"`
	AmountCents int64         `db:"amount_cents"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

// Settlement is a post-trip charge recorded separately from the
// booking's total. Extra-kilometre charges land here; they never
// retroactively alter the collected price.
type Settlement struct {
	ID          uuid.UUID `db:"id"`
	BookingID   uuid.UUID `db:"booking_id"`
	Kind        string    `db:"kind"`
	ExcessKm    int64     `db:"excess_km"`
	AmountCents int64     `db:"amount_cents"`
	CreatedAt   time.Time `db:"created_at"`
}

const SettlementExtraKm = "extra_km"

// RefundFollowup records a refund the payment collaborator failed to
// process. Cancellation proceeds anyway; these rows are worked manually.
type RefundFollowup struct {
	ID          uuid.UUID `db:"id"`
	BookingID   uuid.UUID `db:"booking_id"`
	ProviderRef string    `db:"provider_ref"`
	Reason      string    `db:"reason"`
	CreatedAt   time.Time `db:"created_at"`
}
