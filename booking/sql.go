package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/roadsterhq/rentalengine-backend/car"
)

var (
	ErrNotFound        = errors.New("booking not found")
	ErrInvalidDuration = errors.New("invalid booking duration")
	ErrPaymentMissing  = errors.New("no payment recorded for booking")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// GetByID fetches a single booking by its ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Booking, error) {
	var b Booking
	err := r.db.GetContext(ctx, &b, getByIDQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

const getByIDQuery = `SELECT * FROM bookings WHERE id = $1`

// GetByRenter fetches all bookings for a renter, optionally filtered
// by status. Results are sorted by start_time ASC.
func (r *Repository) GetByRenter(ctx context.Context, renterID uuid.UUID, status *Status) ([]Booking, error) {
	var bookings []Booking
	var err error
	if status != nil {
		err = r.db.SelectContext(ctx, &bookings, getByRenterWithStatusQuery, renterID, *status)
	} else {
		err = r.db.SelectContext(ctx, &bookings, getByRenterQuery, renterID)
	}
	return bookings, err
}

const getByRenterQuery = `SELECT * FROM bookings WHERE renter_id = $1 ORDER BY start_time ASC`

const getByRenterWithStatusQuery = `SELECT * FROM bookings WHERE renter_id = $1 AND status = $2 ORDER BY start_time ASC`

// GetCurrentByRenter fetches the renter's ongoing booking, if any.
func (r *Repository) GetCurrentByRenter(ctx context.Context, renterID uuid.UUID) (*Booking, error) {
	var b Booking
	err := r.db.GetContext(ctx, &b, getCurrentByRenterQuery, renterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const getCurrentByRenterQuery = `SELECT * FROM bookings WHERE renter_id = $1 AND status = 'ongoing'`

// CheckAvailability reports whether the car is free for the candidate
// [start, end) window. now drives lazy expiry of abandoned PENDING
// bookings; one value is used for the whole evaluation.
func (r *Repository) CheckAvailability(ctx context.Context, carID uuid.UUID, start, end, now time.Time) (Availability, error) {
	var slots []conflictSlot
	err := r.db.SelectContext(ctx, &slots, conflictSlotsQuery, carID, start, end)
	if err != nil {
		return Availability{}, err
	}
	ids := conflictingIDs(slots, start.UTC(), end.UTC(), now)
	return Availability{Available: len(ids) == 0, ConflictingBookingIDs: ids}, nil
}

const conflictSlotsQuery = `
SELECT b.id, b.start_time, b.end_time, b.status, vt.expires_at AS token_expires_at
FROM bookings b
LEFT JOIN verification_tokens vt
  ON vt.booking_id = b.id AND vt.consumed_at IS NULL AND vt.revoked_at IS NULL
WHERE b.car_id = $1
  AND b.status IN ('pending', 'verified', 'confirmed', 'ongoing')
  AND b.start_time < $3
  AND b.end_time > $2
`

// Create inserts a new booking after the conflict check, both inside
// one transaction. The car row is locked first: two racing creations
// over an empty window would otherwise each see no conflicts and both
// insert, so the lock serializes them and the second sees the first's
// committed row and fails with ErrCarUnavailable. inTx, when non-nil,
// runs inside the same transaction; booking and initial verification
// token commit or roll back together.
func (r *Repository) Create(ctx context.Context, b *Booking, now time.Time, inTx func(context.Context, *sqlx.Tx) error) error {
	if !b.StartTime.Before(b.EndTime) {
		return ErrInvalidDuration
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lockedCar uuid.UUID
	err = tx.GetContext(ctx, &lockedCar, lockCarRowQuery, b.CarID)
	if errors.Is(err, sql.ErrNoRows) {
		return car.ErrNotFound
	}
	if err != nil {
		return err
	}

	var slots []conflictSlot
	err = tx.SelectContext(ctx, &slots, conflictSlotsForUpdateQuery, b.CarID, b.StartTime, b.EndTime)
	if err != nil {
		return err
	}
	if ids := conflictingIDs(slots, b.StartTime, b.EndTime, now); len(ids) > 0 {
		return ErrCarUnavailable
	}

	err = tx.GetContext(ctx, b, createBookingQuery,
		b.ID, b.CarID, b.RenterID, b.GuestName, b.GuestPhone, b.Type, b.Status,
		b.StartTime, b.EndTime,
		b.BasePriceCents, b.TaxCents, b.YoungDriverCents, b.TotalCents, b.DepositCents,
		b.IsWalkIn)
	if err != nil {
		return err
	}

	if inTx != nil {
		if err := inTx(ctx, tx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const lockCarRowQuery = `SELECT id FROM cars WHERE id = $1 FOR UPDATE`

const conflictSlotsForUpdateQuery = `
SELECT b.id, b.start_time, b.end_time, b.status, vt.expires_at AS token_expires_at
FROM bookings b
LEFT JOIN verification_tokens vt
  ON vt.booking_id = b.id AND vt.consumed_at IS NULL AND vt.revoked_at IS NULL
WHERE b.car_id = $1
  AND b.status IN ('pending', 'verified', 'confirmed', 'ongoing')
  AND b.start_time < $3
  AND b.end_time > $2
FOR UPDATE OF b
`

const createBookingQuery = `
INSERT INTO bookings (id, car_id, renter_id, guest_name, guest_phone, booking_type, status,
  start_time, end_time, base_price_cents, tax_cents, young_driver_cents, total_cents,
  deposit_cents, is_walk_in, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
RETURNING *
`

// MarkVerified fires PENDING -> VERIFIED. The token manager has
// already consumed the bound token (or an admin has approved the
// documents) before this is called.
func (r *Repository) MarkVerified(ctx context.Context, id uuid.UUID) (Booking, error) {
	return r.transition(ctx, id, func(b Booking) *GuardError {
		return GuardVerify(b)
	}, setStatusQuery, StatusVerified)
}

// Confirm fires VERIFIED -> CONFIRMED (or PENDING -> CONFIRMED for
// courtesy bookings) once the payment collaborator reports success.
func (r *Repository) Confirm(ctx context.Context, id uuid.UUID, pay PaymentStatus) (Booking, error) {
	return r.transition(ctx, id, func(b Booking) *GuardError {
		return GuardConfirm(b, pay)
	}, setStatusQuery, StatusConfirmed)
}

const setStatusQuery = `UPDATE bookings SET status = $2 WHERE id = $1 RETURNING *`

// StartTrip fires CONFIRMED -> ONGOING and records the starting
// odometer, pushing the reading onto the car in the same transaction.
// A reading below the car's stored odometer is a data-entry error and
// rejects the whole transition with car.ErrOdometerBack.
func (r *Repository) StartTrip(ctx context.Context, id uuid.UUID, documentsApproved bool, startOdometer int64, notes string) (Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Booking{}, err
	}
	defer tx.Rollback()

	b, err := lockBooking(ctx, tx, id)
	if err != nil {
		return Booking{}, err
	}
	if gerr := GuardStartTrip(b, documentsApproved, startOdometer); gerr != nil {
		return Booking{}, gerr
	}

	err = tx.GetContext(ctx, &b, startTripQuery, id, startOdometer, notes)
	if err != nil {
		return Booking{}, err
	}
	if err := car.UpdateOdometerTx(ctx, tx, b.CarID, startOdometer); err != nil {
		return Booking{}, err
	}

	return b, tx.Commit()
}

const startTripQuery = `
UPDATE bookings SET status = 'ongoing', start_odometer = $2, pickup_notes = NULLIF($3, '')
WHERE id = $1 RETURNING *
`

// CompleteTripResult carries the completed booking plus the extra-km
// settlement, when one was recorded.
type CompleteTripResult struct {
	Booking    Booking
	Settlement *Settlement
}

// CompleteTrip fires ONGOING -> COMPLETED, records the ending
// odometer on the booking and the car, and writes an extra-km
// settlement line when the included distance was exceeded. The
// settlement is reported, never folded into the booking total.
func (r *Repository) CompleteTrip(ctx context.Context, id uuid.UUID, excessKm, amountCents, endOdometer int64, notes string) (CompleteTripResult, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return CompleteTripResult{}, err
	}
	defer tx.Rollback()

	b, err := lockBooking(ctx, tx, id)
	if err != nil {
		return CompleteTripResult{}, err
	}
	if gerr := GuardCompleteTrip(b, endOdometer); gerr != nil {
		return CompleteTripResult{}, gerr
	}

	err = tx.GetContext(ctx, &b, completeTripQuery, id, endOdometer, notes)
	if err != nil {
		return CompleteTripResult{}, err
	}
	if err := car.UpdateOdometerTx(ctx, tx, b.CarID, endOdometer); err != nil {
		return CompleteTripResult{}, err
	}

	res := CompleteTripResult{Booking: b}
	if amountCents > 0 {
		var s Settlement
		err = tx.GetContext(ctx, &s, insertSettlementQuery, uuid.New(), id, SettlementExtraKm, excessKm, amountCents)
		if err != nil {
			return CompleteTripResult{}, err
		}
		res.Settlement = &s
	}

	return res, tx.Commit()
}

const completeTripQuery = `
UPDATE bookings SET status = 'completed', end_odometer = $2, return_notes = NULLIF($3, '')
WHERE id = $1 RETURNING *
`

const insertSettlementQuery = `
INSERT INTO settlements (id, booking_id, kind, excess_km, amount_cents, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING *
`

// Cancel fires * -> CANCELLED subject to the actor's window. The
// booking row is kept; cancellation is a terminal status, not a
// deletion.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID, role Role, reason string, now time.Time, window time.Duration) (Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Booking{}, err
	}
	defer tx.Rollback()

	b, err := lockBooking(ctx, tx, id)
	if err != nil {
		return Booking{}, err
	}
	if gerr := GuardCancel(b, role, now, window); gerr != nil {
		return Booking{}, gerr
	}

	err = tx.GetContext(ctx, &b, cancelBookingQuery, id, reason)
	if err != nil {
		return Booking{}, err
	}

	return b, tx.Commit()
}

const cancelBookingQuery = `
UPDATE bookings SET status = 'cancelled', cancelled_at = now(), cancel_reason = NULLIF($2, '')
WHERE id = $1 RETURNING *
`

func lockBooking(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (Booking, error) {
	var b Booking
	err := tx.GetContext(ctx, &b, getBookingForUpdateQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

const getBookingForUpdateQuery = `SELECT * FROM bookings WHERE id = $1 FOR UPDATE`

// transition applies a guarded single-statement status change under a
// row lock. All guard checks happen before any mutation.
func (r *Repository) transition(ctx context.Context, id uuid.UUID, guard func(Booking) *GuardError, query string, to Status) (Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Booking{}, err
	}
	defer tx.Rollback()

	b, err := lockBooking(ctx, tx, id)
	if err != nil {
		return Booking{}, err
	}
	if gerr := guard(b); gerr != nil {
		return Booking{}, gerr
	}

	err = tx.GetContext(ctx, &b, query, id, to)
	if err != nil {
		return Booking{}, err
	}

	return b, tx.Commit()
}

// RecordPayment upserts the collaborator's view of a booking's payment.
func (r *Repository) RecordPayment(ctx context.Context, p *Payment) error {
	return r.db.GetContext(ctx, p, recordPaymentQuery, p.ID, p.BookingID, p.ProviderRef, p.Status, p.AmountCents)
}

const recordPaymentQuery = `
INSERT INTO payments (id, booking_id, provider_ref, status, amount_cents, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (booking_id) DO UPDATE SET
  provider_ref = EXCLUDED.provider_ref,
  status = EXCLUDED.status,
  updated_at = now()
RETURNING *
`

// GetPayment fetches the payment bound to a booking.
func (r *Repository) GetPayment(ctx context.Context, bookingID uuid.UUID) (Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, getPaymentQuery, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrPaymentMissing
	}
	return p, err
}

const getPaymentQuery = `SELECT * FROM payments WHERE booking_id = $1`

// GetSettlements lists the post-trip settlement lines for a booking.
func (r *Repository) GetSettlements(ctx context.Context, bookingID uuid.UUID) ([]Settlement, error) {
	var ss []Settlement
	err := r.db.SelectContext(ctx, &ss, getSettlementsQuery, bookingID)
	return ss, err
}

const getSettlementsQuery = `SELECT * FROM settlements WHERE booking_id = $1 ORDER BY created_at ASC`

// RecordRefundFollowup notes a refund the collaborator failed to
// process so staff can retry it manually.
func (r *Repository) RecordRefundFollowup(ctx context.Context, bookingID uuid.UUID, providerRef, reason string) error {
	_, err := r.db.ExecContext(ctx, recordRefundFollowupQuery, uuid.New(), bookingID, providerRef, reason)
	return err
}

const recordRefundFollowupQuery = `
INSERT INTO refund_followups (id, booking_id, provider_ref, reason, created_at)
VALUES ($1, $2, $3, $4, now())
`

// ListRefundFollowups returns the outstanding manual refund queue.
func (r *Repository) ListRefundFollowups(ctx context.Context) ([]RefundFollowup, error) {
	var fs []RefundFollowup
	err := r.db.SelectContext(ctx, &fs, listRefundFollowupsQuery)
	return fs, err
}

const listRefundFollowupsQuery = `SELECT * FROM refund_followups ORDER BY created_at ASC`
