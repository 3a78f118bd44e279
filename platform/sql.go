package platform

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the stored settings, or the defaults when the settings
// row has never been written.
func (r *Repository) Get(ctx context.Context) (Settings, error) {
	var s Settings
	err := r.db.GetContext(ctx, &s, getSettingsQuery)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

const getSettingsQuery = `SELECT tax_percent, young_driver_min_age, young_driver_fee_cents,
min_license_age, min_experience_years, token_ttl_minutes, cancel_window_hours,
same_day_min_duration_min FROM platform_settings LIMIT 1`

// Update overwrites the settings row, inserting it on first use.
func (r *Repository) Update(ctx context.Context, s Settings) error {
	_, err := r.db.ExecContext(ctx, updateSettingsQuery,
		s.TaxPercent, s.YoungDriverMinAge, s.YoungDriverFeeCents,
		s.MinLicenseAge, s.MinExperienceYears, s.TokenTTLMinutes,
		s.CancelWindowHours, s.SameDayMinDurationMin)
	return err
}

const updateSettingsQuery = `
INSERT INTO platform_settings (id, tax_percent, young_driver_min_age, young_driver_fee_cents,
  min_license_age, min_experience_years, token_ttl_minutes, cancel_window_hours, same_day_min_duration_min)
VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
  tax_percent = EXCLUDED.tax_percent,
  young_driver_min_age = EXCLUDED.young_driver_min_age,
  young_driver_fee_cents = EXCLUDED.young_driver_fee_cents,
  min_license_age = EXCLUDED.min_license_age,
  min_experience_years = EXCLUDED.min_experience_years,
  token_ttl_minutes = EXCLUDED.token_ttl_minutes,
  cancel_window_hours = EXCLUDED.cancel_window_hours,
  same_day_min_duration_min = EXCLUDED.same_day_min_duration_min
`
