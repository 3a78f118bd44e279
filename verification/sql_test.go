package verification

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRepository(sqlx.NewDb(db, "pgx")), mock
}

var tokenColumns = []string{"id", "booking_id", "token", "expires_at", "consumed_at", "revoked_at", "created_at"}

func TestConsumeToken_FirstConsumerWins(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	bookingID := uuid.New()

	mock.ExpectQuery("UPDATE verification_tokens SET consumed_at").
		WithArgs("tok-1", now).
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), bookingID, "tok-1", now.Add(30*time.Minute), now, nil, now.Add(-time.Hour)))

	tok, err := repo.ConsumeToken(context.Background(), "tok-1", now)
	require.NoError(t, err)
	assert.Equal(t, bookingID, tok.BookingID)
	assert.True(t, tok.ConsumedAt.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeToken_SecondConsumerLoses(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	// The CAS matches no row; the re-read shows it was already consumed.
	mock.ExpectQuery("UPDATE verification_tokens SET consumed_at").
		WithArgs("tok-1", now).
		WillReturnRows(sqlmock.NewRows(tokenColumns))
	mock.ExpectQuery("SELECT (.+) FROM verification_tokens WHERE token").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), uuid.New(), "tok-1", now.Add(30*time.Minute), now.Add(-time.Minute), nil, now.Add(-time.Hour)))

	_, err := repo.ConsumeToken(context.Background(), "tok-1", now)
	assert.ErrorIs(t, err, ErrTokenConsumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeToken_Expired(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("UPDATE verification_tokens SET consumed_at").
		WithArgs("tok-1", now).
		WillReturnRows(sqlmock.NewRows(tokenColumns))
	mock.ExpectQuery("SELECT (.+) FROM verification_tokens WHERE token").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), uuid.New(), "tok-1", now.Add(-time.Minute), nil, nil, now.Add(-time.Hour)))

	_, err := repo.ConsumeToken(context.Background(), "tok-1", now)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeToken_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("UPDATE verification_tokens SET consumed_at").
		WithArgs("missing", now).
		WillReturnRows(sqlmock.NewRows(tokenColumns))
	mock.ExpectQuery("SELECT (.+) FROM verification_tokens WHERE token").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(tokenColumns))

	_, err := repo.ConsumeToken(context.Background(), "missing", now)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueToken_RevokesPreviousLiveToken(t *testing.T) {
	repo, mock := newMockRepo(t)

	bookingID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE verification_tokens SET revoked_at").
		WithArgs(bookingID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO verification_tokens").
		WithArgs(sqlmock.AnyArg(), bookingID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), bookingID, "tok-2", now.Add(time.Hour), nil, nil, now))
	mock.ExpectCommit()

	tok, err := repo.IssueToken(context.Background(), bookingID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}
