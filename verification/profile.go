package verification

import (
	"database/sql"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// Profile is the per-renter record of extracted and confirmed document
// fields. Registered renters are keyed by RenterID; walk-in guests by
// the booking the documents were captured for.
type Profile struct {
	ID        uuid.UUID     `db:"id"`
	RenterID  uuid.NullUUID `db:"renter_id"`
	BookingID uuid.UUID     `db:"booking_id"`

	LicenseName       sql.NullString `db:"license_name"`
	LicenseNumber     sql.NullString `db:"license_number"`
	LicenseIssueDate  sql.NullTime   `db:"license_issue_date"`
	LicenseExpiry     sql.NullTime   `db:"license_expiry"`
	LicenseBirthDate  sql.NullTime   `db:"license_birth_date"`
	LicenseCategories sql.NullString `db:"license_categories"`
	LicenseFrontURL   sql.NullString `db:"license_front_url"`
	LicenseBackURL    sql.NullString `db:"license_back_url"`

	IDName      sql.NullString `db:"id_name"`
	IDNumber    sql.NullString `db:"id_number"`
	IDBirthDate sql.NullTime   `db:"id_birth_date"`
	IDExpiry    sql.NullTime   `db:"id_expiry"`
	IDFrontURL  sql.NullString `db:"id_front_url"`
	IDBackURL   sql.NullString `db:"id_back_url"`

	Address         sql.NullString `db:"address"`
	AddressProofURL sql.NullString `db:"address_proof_url"`

	// CrossCheckOverridden records that the renter explicitly
	// acknowledged a name/birth-date mismatch between licence and ID.
	// Kept for audit.
	CrossCheckOverridden bool         `db:"cross_check_overridden"`
	OverrideRecordedAt   sql.NullTime `db:"override_recorded_at"`

	Status          Status         `db:"status"`
	RejectionReason sql.NullString `db:"rejection_reason"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Categories splits the stored comma-separated licence categories.
func (p Profile) Categories() []string {
	if !p.LicenseCategories.Valid || p.LicenseCategories.String == "" {
		return nil
	}
	parts := strings.Split(p.LicenseCategories.String, ",")
	out := make([]string, 0, len(parts))
	for _, c := range parts {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// NextStep is the first step that has not yet been persisted, or ""
// when all three are done.
func (p Profile) NextStep() StepKind {
	switch {
	case !p.licenseComplete():
		return StepLicense
	case !p.idComplete():
		return StepNationalID
	case !p.Address.Valid || !p.AddressProofURL.Valid:
		return StepAddress
	}
	return ""
}

// licenseComplete reports whether the licence step has been persisted.
func (p Profile) licenseComplete() bool {
	return p.LicenseExpiry.Valid && p.LicenseIssueDate.Valid && p.LicenseBirthDate.Valid &&
		p.LicenseFrontURL.Valid && p.LicenseBackURL.Valid
}

// idComplete reports whether the national-ID step has been persisted.
func (p Profile) idComplete() bool {
	return p.IDName.Valid && p.IDNumber.Valid && p.IDBirthDate.Valid && p.IDExpiry.Valid &&
		p.IDFrontURL.Valid && p.IDBackURL.Valid
}
