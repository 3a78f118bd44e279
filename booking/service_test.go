package booking

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway reports a fixed payment status.
type stubGateway struct {
	status PaymentStatus
}

func (g stubGateway) CreateCheckoutSession(ctx context.Context, bookingID uuid.UUID, amountCents int64, description string) (CheckoutSession, error) {
	return CheckoutSession{URL: "https://pay.example/" + bookingID.String(), ProviderRef: "ref"}, nil
}

func (g stubGateway) GetStatus(ctx context.Context, providerRef string) (PaymentStatus, error) {
	return g.status, nil
}

func (g stubGateway) Refund(ctx context.Context, providerRef string) (PaymentStatus, error) {
	return PaymentRefunded, nil
}

var paymentColumns = []string{"id", "booking_id", "provider_ref", "status", "amount_cents", "created_at", "updated_at"}

// Payment providers redeliver success notifications. A second delivery
// for an already-confirmed booking must come back as a success, not an
// invalid-transition conflict.
func TestHandlePaymentUpdate_RedeliveredSuccessIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sdb := sqlx.NewDb(db, "pgx")

	svc := NewService(NewRepository(sdb), nil, nil, nil, nil,
		stubGateway{status: PaymentSucceeded}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)), nil, "")

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	bookingID := uuid.New()
	paymentID := uuid.New()

	confirmed := &Booking{
		ID:        bookingID,
		CarID:     uuid.New(),
		Type:      TypeRental,
		Status:    StatusConfirmed,
		StartTime: now.Add(24 * time.Hour),
		EndTime:   now.Add(72 * time.Hour),
	}

	mock.ExpectQuery("SELECT (.+) FROM payments").
		WithArgs(bookingID).
		WillReturnRows(sqlmock.NewRows(paymentColumns).
			AddRow(paymentID, bookingID, "ref", "succeeded", int64(12000), now, now))
	mock.ExpectQuery("INSERT INTO payments").
		WillReturnRows(sqlmock.NewRows(paymentColumns).
			AddRow(paymentID, bookingID, "ref", "succeeded", int64(12000), now, now))
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs(bookingID).
		WillReturnRows(bookingRows(confirmed, now))

	// No status transition is expected: ExpectationsWereMet fails if
	// an UPDATE bookings ran.
	b, err := svc.HandlePaymentUpdate(context.Background(), bookingID)
	assert.NoError(t, err)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
