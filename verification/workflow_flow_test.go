package verification

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

	"github.com/roadsterhq/rentalengine-backend/internal/docstore"
	"github.com/roadsterhq/rentalengine-backend/internal/ocr"
	"github.com/roadsterhq/rentalengine-backend/platform"
)

// stubDirectory hands out a fixed booking context and records which
// bookings were marked verified.
type stubDirectory struct {
	ctx      BookingContext
	verified []uuid.UUID
}

func (d *stubDirectory) VerificationContext(ctx context.Context, bookingID uuid.UUID) (BookingContext, error) {
	return d.ctx, nil
}

func (d *stubDirectory) MarkVerified(ctx context.Context, bookingID uuid.UUID) error {
	d.verified = append(d.verified, bookingID)
	return nil
}

func newMockWorkflow(t *testing.T, bookingID uuid.UUID) (*Workflow, sqlmock.Sqlmock, *stubDirectory) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sdb := sqlx.NewDb(db, "pgx")

	dir := &stubDirectory{ctx: BookingContext{
		BookingID:               bookingID,
		EndTime:                 time.Now().UTC().Add(48 * time.Hour),
		RequiredLicenseCategory: "B",
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wf := NewWorkflow(NewRepository(sdb), dir, ocr.NewFakeClient(), docstore.NewFake(),
		platform.NewRepository(sdb), logger)
	return wf, mock, dir
}

func expectLiveToken(mock sqlmock.Sqlmock, bookingID uuid.UUID) {
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM verification_tokens").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), bookingID, "tok", now.Add(time.Hour), nil, nil, now))
}

func expectDefaultSettings(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT (.+) FROM platform_settings").
		WillReturnRows(sqlmock.NewRows([]string{"tax_percent"}))
}

var profileBaseColumns = []string{"id", "renter_id", "booking_id", "status", "created_at", "updated_at"}

func freshProfileRows(profileID, bookingID uuid.UUID) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(profileBaseColumns).
		AddRow(profileID, nil, bookingID, "pending", now, now)
}

var profileLicenseColumns = []string{
	"id", "renter_id", "booking_id",
	"license_name", "license_number", "license_issue_date", "license_expiry",
	"license_birth_date", "license_categories", "license_front_url", "license_back_url",
	"status", "created_at", "updated_at",
}

func licensedProfileRows(profileID, bookingID uuid.UUID) *sqlmock.Rows {
	now := time.Now().UTC()
	l := validLicense()
	return sqlmock.NewRows(profileLicenseColumns).
		AddRow(profileID, nil, bookingID,
			l.Name, l.Number, l.IssueDate, l.ExpiryDate, l.BirthDate, "B",
			"memory://front.jpg", "memory://back.jpg",
			"pending", now, now)
}

func TestSubmitStep_LicensePersisted(t *testing.T) {
	bookingID := uuid.New()
	wf, mock, _ := newMockWorkflow(t, bookingID)
	profileID := uuid.New()

	expectLiveToken(mock, bookingID)
	expectDefaultSettings(mock)
	// First attempt for this booking: no profile yet, one is opened.
	mock.ExpectQuery("SELECT (.+) FROM verification_profiles WHERE booking_id").
		WithArgs(bookingID).
		WillReturnRows(sqlmock.NewRows(profileBaseColumns))
	mock.ExpectQuery("INSERT INTO verification_profiles").
		WillReturnRows(freshProfileRows(profileID, bookingID))
	mock.ExpectQuery("UPDATE verification_profiles SET license_name").
		WillReturnRows(licensedProfileRows(profileID, bookingID))

	l := validLicense()
	res, err := wf.SubmitStep(context.Background(), "tok", StepSubmission{
		Step:    StepLicense,
		License: &l,
		Files: []File{
			{Name: "front.jpg", Data: []byte("f")},
			{Name: "back.jpg", Data: []byte("b")},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, StepNationalID, res.NextStep)
	assert.False(t, res.Verified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitStep_EnforcesStepOrder(t *testing.T) {
	bookingID := uuid.New()
	wf, mock, _ := newMockWorkflow(t, bookingID)

	expectLiveToken(mock, bookingID)
	expectDefaultSettings(mock)
	// Profile exists but the licence step has never been persisted.
	mock.ExpectQuery("SELECT (.+) FROM verification_profiles WHERE booking_id").
		WithArgs(bookingID).
		WillReturnRows(freshProfileRows(uuid.New(), bookingID))

	_, err := wf.SubmitStep(context.Background(), "tok", StepSubmission{
		Step: StepNationalID,
		NationalID: &IDFields{
			Name: "Alex Martin", Number: "ID987", BirthDate: day(1990, 5, 20), Expiry: day(2030, 1, 1),
		},
		Files: []File{{Name: "f.jpg"}, {Name: "b.jpg"}},
	})
	assert.ErrorIs(t, err, ErrStepOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitStep_MismatchNeedsAcknowledgment(t *testing.T) {
	bookingID := uuid.New()
	wf, mock, _ := newMockWorkflow(t, bookingID)
	profileID := uuid.New()

	expectLiveToken(mock, bookingID)
	expectDefaultSettings(mock)
	mock.ExpectQuery("SELECT (.+) FROM verification_profiles WHERE booking_id").
		WithArgs(bookingID).
		WillReturnRows(licensedProfileRows(profileID, bookingID))

	_, err := wf.SubmitStep(context.Background(), "tok", StepSubmission{
		Step: StepNationalID,
		NationalID: &IDFields{
			Name: "Somebody Else", Number: "ID987", BirthDate: day(1990, 5, 20), Expiry: day(2030, 1, 1),
		},
		Files: []File{{Name: "f.jpg"}, {Name: "b.jpg"}},
	})
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitStep_AcknowledgedMismatchRecordsOverride(t *testing.T) {
	bookingID := uuid.New()
	wf, mock, _ := newMockWorkflow(t, bookingID)
	profileID := uuid.New()

	expectLiveToken(mock, bookingID)
	expectDefaultSettings(mock)
	mock.ExpectQuery("SELECT (.+) FROM verification_profiles WHERE booking_id").
		WithArgs(bookingID).
		WillReturnRows(licensedProfileRows(profileID, bookingID))
	// cross_check_overridden must be persisted as true.
	mock.ExpectQuery("UPDATE verification_profiles SET id_name").
		WithArgs(profileID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), true).
		WillReturnRows(licensedProfileRows(profileID, bookingID))

	res, err := wf.SubmitStep(context.Background(), "tok", StepSubmission{
		Step: StepNationalID,
		NationalID: &IDFields{
			Name: "Somebody Else", Number: "ID987", BirthDate: day(1990, 5, 20), Expiry: day(2030, 1, 1),
		},
		Files:               []File{{Name: "f.jpg"}, {Name: "b.jpg"}},
		AcknowledgeMismatch: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, StepAddress, res.NextStep)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var profileFullColumns = []string{
	"id", "renter_id", "booking_id",
	"license_name", "license_number", "license_issue_date", "license_expiry",
	"license_birth_date", "license_categories", "license_front_url", "license_back_url",
	"id_name", "id_number", "id_birth_date", "id_expiry", "id_front_url", "id_back_url",
	"status", "created_at", "updated_at",
}

func fullProfileRows(profileID, bookingID uuid.UUID) *sqlmock.Rows {
	now := time.Now().UTC()
	l := validLicense()
	return sqlmock.NewRows(profileFullColumns).
		AddRow(profileID, nil, bookingID,
			l.Name, l.Number, l.IssueDate, l.ExpiryDate, l.BirthDate, "B",
			"memory://front.jpg", "memory://back.jpg",
			l.Name, "ID987", l.BirthDate, day(2030, 1, 1),
			"memory://idf.jpg", "memory://idb.jpg",
			"pending", now, now)
}

// The final self-service submission consumes the token and moves the
// booking to VERIFIED.
func TestSubmitStep_FinalStepConsumesTokenAndVerifies(t *testing.T) {
	bookingID := uuid.New()
	wf, mock, dir := newMockWorkflow(t, bookingID)
	profileID := uuid.New()
	now := time.Now().UTC()

	expectLiveToken(mock, bookingID)
	expectDefaultSettings(mock)
	mock.ExpectQuery("SELECT (.+) FROM verification_profiles WHERE booking_id").
		WithArgs(bookingID).
		WillReturnRows(fullProfileRows(profileID, bookingID))
	mock.ExpectQuery("UPDATE verification_profiles SET address").
		WillReturnRows(fullProfileRows(profileID, bookingID))
	mock.ExpectQuery("UPDATE verification_tokens SET consumed_at").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), bookingID, "tok", now.Add(time.Hour), now, nil, now))

	res, err := wf.SubmitStep(context.Background(), "tok", StepSubmission{
		Step:    StepAddress,
		Address: &AddressFields{Address: "12 Harbour Lane, Rotterdam"},
		Files:   []File{{Name: "proof.pdf", Data: []byte("p")}},
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, res.Verified)
	assert.Equal(t, []uuid.UUID{bookingID}, dir.verified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitStep_ExpiredTokenRejected(t *testing.T) {
	bookingID := uuid.New()
	wf, mock, dir := newMockWorkflow(t, bookingID)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM verification_tokens").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), bookingID, "tok", now.Add(-time.Minute), nil, nil, now.Add(-time.Hour)))

	l := validLicense()
	_, err := wf.SubmitStep(context.Background(), "tok", StepSubmission{
		Step:    StepLicense,
		License: &l,
		Files:   []File{{Name: "f.jpg"}, {Name: "b.jpg"}},
	})
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Empty(t, dir.verified)
	assert.NoError(t, mock.ExpectationsWereMet())
}
