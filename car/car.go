// Package car
package car

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Status int

const (
	Available Status = iota
	Unavailable
	Maintenance
)

func (s Status) String() string {
	return [...]string{"available", "unavailable", "maintenance"}[s]
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) Scan(i any) error {
	switch v := i.(type) {
	case string:
		switch v {
		case "available":
			*s = Available
			return nil
		case "unavailable":
			*s = Unavailable
			return nil
		case "maintenance":
			*s = Maintenance
			return nil
		}
	}
	panic("invalid scan type")
}

// Car represents a vehicle which can be rented as part of a booking.
type Car struct {
	// ID is an internal identifier for a car
	ID uuid.UUID
	// Brand and Model describe the vehicle (e.g. "Toyota" "Corolla")
	Brand string
	Model string
	// Plate is the registration plate printed on the vehicle. It is
	// what staff key in at pickup and return.
	Plate string

	PricePerDayCents int64 `db:"price_per_day_cents"`
	DepositCents     int64 `db:"deposit_cents"`

	// DailyKmLimit is the included distance per rental day; kilometres
	// beyond it are settled at ExtraKmChargeCents per km.
	DailyKmLimit       int   `db:"daily_km_limit"`
	ExtraKmChargeCents int64 `db:"extra_km_charge_cents"`

	// RequiredLicenseCategory is the licence category a renter must
	// hold (e.g. "B", "C1"). Matched case-insensitively.
	RequiredLicenseCategory string `db:"required_license_category"`

	CurrentOdometer int64 `db:"current_odometer"`

	Status Status

	// ImageURL is a URL to an image of the car
	ImageURL *string `db:"image_url"`
}
