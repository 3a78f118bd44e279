package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsterhq/rentalengine-backend/car"
	"github.com/roadsterhq/rentalengine-backend/verification"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRepository(sqlx.NewDb(db, "pgx")), mock
}

var conflictSlotColumns = []string{"id", "start_time", "end_time", "status", "token_expires_at"}

func TestRepositoryCreate_ConflictNotInserted(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)
	end := start.Add(48 * time.Hour)

	b := &Booking{
		ID:        uuid.New(),
		CarID:     uuid.New(),
		Type:      TypeRental,
		Status:    StatusPending,
		StartTime: start,
		EndTime:   end,
	}

	mock.ExpectBegin()
	expectCarLock(mock, b.CarID)
	mock.ExpectQuery("SELECT (.+) FROM bookings b").
		WithArgs(b.CarID, start, end).
		WillReturnRows(sqlmock.NewRows(conflictSlotColumns).
			AddRow(uuid.New(), start.Add(-time.Hour), start.Add(time.Hour), "confirmed", nil))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), b, now, nil)
	assert.ErrorIs(t, err, ErrCarUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreate_AbandonedPendingDoesNotConflict(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)
	end := start.Add(48 * time.Hour)

	b := &Booking{
		ID:        uuid.New(),
		CarID:     uuid.New(),
		Type:      TypeRental,
		Status:    StatusPending,
		StartTime: start,
		EndTime:   end,
	}

	mock.ExpectBegin()
	expectCarLock(mock, b.CarID)
	// The only stored overlap is a pending booking whose verification
	// token expired an hour ago: lazily treated as abandoned.
	mock.ExpectQuery("SELECT (.+) FROM bookings b").
		WithArgs(b.CarID, start, end).
		WillReturnRows(sqlmock.NewRows(conflictSlotColumns).
			AddRow(uuid.New(), start, end, "pending", now.Add(-time.Hour)))
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(b.ID, b.CarID, b.RenterID, b.GuestName, b.GuestPhone, b.Type, b.Status,
			start, end, b.BasePriceCents, b.TaxCents, b.YoungDriverCents, b.TotalCents,
			b.DepositCents, b.IsWalkIn).
		WillReturnRows(bookingRows(b, now))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), b, now, nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreate_InvalidDuration(t *testing.T) {
	repo, _ := newMockRepo(t)

	start := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	b := &Booking{ID: uuid.New(), CarID: uuid.New(), StartTime: start, EndTime: start}

	err := repo.Create(context.Background(), b, start, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

// The car row lock is taken before the conflict check: racing
// creations over an empty window serialize on it, so the loser re-runs
// the check against the winner's committed row instead of inserting a
// double-booking. Ordered expectations pin the lock-first sequence.
func TestRepositoryCreate_LocksCarBeforeConflictCheck(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)
	end := start.Add(48 * time.Hour)

	b := &Booking{
		ID:        uuid.New(),
		CarID:     uuid.New(),
		Type:      TypeRental,
		Status:    StatusPending,
		StartTime: start,
		EndTime:   end,
	}

	mock.ExpectBegin()
	expectCarLock(mock, b.CarID)
	mock.ExpectQuery("SELECT (.+) FROM bookings b").
		WithArgs(b.CarID, start, end).
		WillReturnRows(sqlmock.NewRows(conflictSlotColumns))
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(b.ID, b.CarID, b.RenterID, b.GuestName, b.GuestPhone, b.Type, b.Status,
			start, end, b.BasePriceCents, b.TaxCents, b.YoungDriverCents, b.TotalCents,
			b.DepositCents, b.IsWalkIn).
		WillReturnRows(bookingRows(b, now))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), b, now, nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreate_TokenIssuedInSameTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sdb := sqlx.NewDb(db, "pgx")
	repo := NewRepository(sdb)
	tokens := verification.NewRepository(sdb)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)
	end := start.Add(48 * time.Hour)

	b := &Booking{
		ID:        uuid.New(),
		CarID:     uuid.New(),
		Type:      TypeRental,
		Status:    StatusPending,
		StartTime: start,
		EndTime:   end,
	}

	mock.ExpectBegin()
	expectCarLock(mock, b.CarID)
	mock.ExpectQuery("SELECT (.+) FROM bookings b").
		WithArgs(b.CarID, start, end).
		WillReturnRows(sqlmock.NewRows(conflictSlotColumns))
	mock.ExpectQuery("INSERT INTO bookings").
		WillReturnRows(bookingRows(b, now))
	mock.ExpectExec("UPDATE verification_tokens SET revoked_at").
		WithArgs(b.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO verification_tokens").
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id", "token", "expires_at", "consumed_at", "revoked_at", "created_at"}).
			AddRow(uuid.New(), b.ID, "tok", now.Add(time.Hour), nil, nil, now))
	mock.ExpectCommit()

	err = repo.Create(context.Background(), b, now, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tokens.IssueTokenTx(ctx, tx, b.ID, time.Hour)
		return err
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failed token insert rolls the booking insert back with it. A
// committed PENDING booking without a live token would hold the car
// until an admin cancelled it.
func TestRepositoryCreate_TokenFailureRollsBackBooking(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)
	end := start.Add(48 * time.Hour)

	b := &Booking{
		ID:        uuid.New(),
		CarID:     uuid.New(),
		Type:      TypeRental,
		Status:    StatusPending,
		StartTime: start,
		EndTime:   end,
	}

	mock.ExpectBegin()
	expectCarLock(mock, b.CarID)
	mock.ExpectQuery("SELECT (.+) FROM bookings b").
		WithArgs(b.CarID, start, end).
		WillReturnRows(sqlmock.NewRows(conflictSlotColumns))
	mock.ExpectQuery("INSERT INTO bookings").
		WillReturnRows(bookingRows(b, now))
	mock.ExpectRollback()

	issueFailed := errors.New("token insert failed")
	err := repo.Create(context.Background(), b, now, func(ctx context.Context, tx *sqlx.Tx) error {
		return issueFailed
	})
	assert.ErrorIs(t, err, issueFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryStartTrip_RejectsBackwardOdometer(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	b := &Booking{
		ID:        uuid.New(),
		CarID:     uuid.New(),
		Type:      TypeRental,
		Status:    StatusConfirmed,
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(49 * time.Hour),
		IsWalkIn:  true,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs(b.ID).
		WillReturnRows(bookingRows(b, now))
	mock.ExpectQuery("UPDATE bookings SET status = 'ongoing'").
		WithArgs(b.ID, int64(10400), "").
		WillReturnRows(bookingRows(b, now))
	// Car odometer already reads higher than the operator's entry.
	mock.ExpectQuery("SELECT current_odometer FROM cars").
		WithArgs(b.CarID).
		WillReturnRows(sqlmock.NewRows([]string{"current_odometer"}).AddRow(int64(10500)))
	mock.ExpectRollback()

	_, err := repo.StartTrip(context.Background(), b.ID, false, 10400, "")
	assert.ErrorIs(t, err, car.ErrOdometerBack)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectCarLock(mock sqlmock.Sqlmock, carID uuid.UUID) {
	mock.ExpectQuery("SELECT id FROM cars WHERE id").
		WithArgs(carID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(carID))
}

func bookingRows(b *Booking, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "car_id", "renter_id", "guest_name", "guest_phone", "booking_type", "status",
		"start_time", "end_time", "base_price_cents", "tax_cents", "young_driver_cents",
		"total_cents", "deposit_cents", "is_walk_in", "start_odometer", "end_odometer",
		"pickup_notes", "return_notes", "cancelled_at", "cancel_reason", "created_at",
	}).AddRow(
		b.ID, b.CarID, b.RenterID, b.GuestName, b.GuestPhone, string(b.Type), string(b.Status),
		b.StartTime, b.EndTime, b.BasePriceCents, b.TaxCents, b.YoungDriverCents,
		b.TotalCents, b.DepositCents, b.IsWalkIn, nil, nil,
		nil, nil, nil, nil, now,
	)
}
