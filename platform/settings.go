// Package platform holds the platform-wide business settings that the
// booking and verification engines read at runtime.
package platform

import "time"

// Settings are the tunable business knobs. They are stored as a single
// row and cached per request; defaults apply when no row exists yet.
type Settings struct {
	TaxPercent            int   `db:"tax_percent" json:"taxPercent"`
	YoungDriverMinAge     int   `db:"young_driver_min_age" json:"youngDriverMinAge"`
	YoungDriverFeeCents   int64 `db:"young_driver_fee_cents" json:"youngDriverFeeCents"`
	MinLicenseAge         int   `db:"min_license_age" json:"minLicenseAge"`
	MinExperienceYears    int   `db:"min_experience_years" json:"minExperienceYears"`
	TokenTTLMinutes       int   `db:"token_ttl_minutes" json:"tokenTtlMinutes"`
	CancelWindowHours     int   `db:"cancel_window_hours" json:"cancelWindowHours"`
	SameDayMinDurationMin int   `db:"same_day_min_duration_min" json:"sameDayMinDurationMin"`
}

// Defaults returns the compiled-in settings used until an operator
// overrides them.
func Defaults() Settings {
	return Settings{
		TaxPercent:            20,
		YoungDriverMinAge:     25,
		YoungDriverFeeCents:   1500,
		MinLicenseAge:         21,
		MinExperienceYears:    2,
		TokenTTLMinutes:       60,
		CancelWindowHours:     24,
		SameDayMinDurationMin: 120,
	}
}

// TokenTTL is the verification token lifetime.
func (s Settings) TokenTTL() time.Duration {
	return time.Duration(s.TokenTTLMinutes) * time.Minute
}

// CancelWindow is how long before pickup a renter may still cancel a
// confirmed booking.
func (s Settings) CancelWindow() time.Duration {
	return time.Duration(s.CancelWindowHours) * time.Hour
}

// SameDayMinDuration is the minimum rental duration when pickup and
// return fall on the same calendar day.
func (s Settings) SameDayMinDuration() time.Duration {
	return time.Duration(s.SameDayMinDurationMin) * time.Minute
}
