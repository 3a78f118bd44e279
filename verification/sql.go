package verification

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrTokenNotFound = errors.New("verification token not found")
	ErrTokenExpired  = errors.New("verification token expired")
	ErrTokenConsumed = errors.New("verification token already consumed")

	ErrProfileNotFound = errors.New("verification profile not found")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// IssueToken creates a fresh token for the booking and revokes any
// previous live one in the same transaction, keeping the one-live-
// token-per-booking invariant.
func (r *Repository) IssueToken(ctx context.Context, bookingID uuid.UUID, ttl time.Duration) (Token, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Token{}, err
	}
	defer tx.Rollback()

	t, err := r.IssueTokenTx(ctx, tx, bookingID, ttl)
	if err != nil {
		return Token{}, err
	}

	return t, tx.Commit()
}

// IssueTokenTx issues inside the caller's transaction. Booking
// creation uses this so the booking row and its initial token commit
// or roll back together.
func (r *Repository) IssueTokenTx(ctx context.Context, tx *sqlx.Tx, bookingID uuid.UUID, ttl time.Duration) (Token, error) {
	_, err := tx.ExecContext(ctx, revokeLiveTokensQuery, bookingID)
	if err != nil {
		return Token{}, err
	}

	var t Token
	err = tx.GetContext(ctx, &t, issueTokenQuery, uuid.New(), bookingID, newOpaqueToken(), time.Now().UTC().Add(ttl))
	return t, err
}

const revokeLiveTokensQuery = `
UPDATE verification_tokens SET revoked_at = now()
WHERE booking_id = $1 AND consumed_at IS NULL AND revoked_at IS NULL
`

const issueTokenQuery = `
INSERT INTO verification_tokens (id, booking_id, token, expires_at, created_at)
VALUES ($1, $2, $3, $4, now())
RETURNING *
`

// GetToken fetches a token by its opaque wire value.
func (r *Repository) GetToken(ctx context.Context, token string) (Token, error) {
	var t Token
	err := r.db.GetContext(ctx, &t, getTokenQuery, token)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrTokenNotFound
	}
	return t, err
}

const getTokenQuery = `SELECT * FROM verification_tokens WHERE token = $1`

// ConsumeToken marks a token used. The update is a compare-and-swap on
// consumed_at so two devices racing on the same link cannot both win;
// the loser's failure is classified by re-reading the row.
func (r *Repository) ConsumeToken(ctx context.Context, token string, now time.Time) (Token, error) {
	var t Token
	err := r.db.GetContext(ctx, &t, consumeTokenQuery, token, now)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Token{}, err
	}

	t, err = r.GetToken(ctx, token)
	if err != nil {
		return Token{}, err
	}
	switch {
	case t.ConsumedAt.Valid:
		return Token{}, ErrTokenConsumed
	case t.RevokedAt.Valid:
		return Token{}, ErrTokenNotFound
	default:
		return Token{}, ErrTokenExpired
	}
}

const consumeTokenQuery = `
UPDATE verification_tokens SET consumed_at = $2
WHERE token = $1 AND consumed_at IS NULL AND revoked_at IS NULL AND expires_at > $2
RETURNING *
`

// GetProfileByBooking fetches the profile captured for a booking.
func (r *Repository) GetProfileByBooking(ctx context.Context, bookingID uuid.UUID) (Profile, error) {
	var p Profile
	err := r.db.GetContext(ctx, &p, getProfileByBookingQuery, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	return p, err
}

const getProfileByBookingQuery = `SELECT * FROM verification_profiles WHERE booking_id = $1`

// GetProfileByRenter fetches the most recent profile for a registered
// renter; the trip-start guard reads this.
func (r *Repository) GetProfileByRenter(ctx context.Context, renterID uuid.UUID) (Profile, error) {
	var p Profile
	err := r.db.GetContext(ctx, &p, getProfileByRenterQuery, renterID)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	return p, err
}

const getProfileByRenterQuery = `
SELECT * FROM verification_profiles WHERE renter_id = $1 ORDER BY updated_at DESC LIMIT 1`

// CreateProfile opens a profile on first verification attempt.
func (r *Repository) CreateProfile(ctx context.Context, p *Profile) error {
	return r.db.GetContext(ctx, p, createProfileQuery, uuid.New(), p.RenterID, p.BookingID)
}

const createProfileQuery = `
INSERT INTO verification_profiles (id, renter_id, booking_id, status, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', now(), now())
RETURNING *
`

// SaveLicenseStep persists the licence step's confirmed fields.
func (r *Repository) SaveLicenseStep(ctx context.Context, p *Profile) error {
	return r.db.GetContext(ctx, p, saveLicenseStepQuery, p.ID,
		p.LicenseName, p.LicenseNumber, p.LicenseIssueDate, p.LicenseExpiry, p.LicenseBirthDate,
		p.LicenseCategories, p.LicenseFrontURL, p.LicenseBackURL)
}

const saveLicenseStepQuery = `
UPDATE verification_profiles SET license_name = $2, license_number = $3, license_issue_date = $4,
  license_expiry = $5, license_birth_date = $6, license_categories = $7,
  license_front_url = $8, license_back_url = $9, updated_at = now()
WHERE id = $1 RETURNING *
`

// SaveIDStep persists the national-ID step, including whether a
// cross-check override was acknowledged.
func (r *Repository) SaveIDStep(ctx context.Context, p *Profile) error {
	return r.db.GetContext(ctx, p, saveIDStepQuery, p.ID,
		p.IDName, p.IDNumber, p.IDBirthDate, p.IDExpiry, p.IDFrontURL, p.IDBackURL,
		p.CrossCheckOverridden)
}

const saveIDStepQuery = `
UPDATE verification_profiles SET id_name = $2, id_number = $3, id_birth_date = $4,
  id_expiry = $5, id_front_url = $6, id_back_url = $7,
  cross_check_overridden = $8,
  override_recorded_at = CASE WHEN $8 THEN now() ELSE override_recorded_at END,
  updated_at = now()
WHERE id = $1 RETURNING *
`

// SaveAddressStep persists the final step and resets the profile to
// pending review.
func (r *Repository) SaveAddressStep(ctx context.Context, p *Profile) error {
	return r.db.GetContext(ctx, p, saveAddressStepQuery, p.ID, p.Address, p.AddressProofURL)
}

const saveAddressStepQuery = `
UPDATE verification_profiles SET address = $2, address_proof_url = $3,
  status = 'pending', rejection_reason = NULL, updated_at = now()
WHERE id = $1 RETURNING *
`

// SetProfileStatus records the admin review decision.
func (r *Repository) SetProfileStatus(ctx context.Context, id uuid.UUID, status Status, reason string) (Profile, error) {
	var p Profile
	err := r.db.GetContext(ctx, &p, setProfileStatusQuery, id, status, reason)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	return p, err
}

const setProfileStatusQuery = `
UPDATE verification_profiles SET status = $2, rejection_reason = NULLIF($3, ''), updated_at = now()
WHERE id = $1 RETURNING *
`
