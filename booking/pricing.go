package booking

import (
	"time"

	"github.com/roadsterhq/rentalengine-backend/car"
	"github.com/roadsterhq/rentalengine-backend/platform"
)

// PriceBreakdown is the quoted and invoiced price of a booking. All
// amounts are integer cents so the same inputs always reproduce the
// same breakdown.
type PriceBreakdown struct {
	Days             int   `json:"days"`
	BasePriceCents   int64 `json:"basePriceCents"`
	TaxCents         int64 `json:"taxCents"`
	YoungDriverCents int64 `json:"youngDriverCents"`
	TotalCents       int64 `json:"totalCents"`
	DepositCents     int64 `json:"depositCents"`
}

// RentalDays is the number of billable days for a [start, end)
// interval: the duration divided into 24h blocks, rounded up, never
// less than one.
func RentalDays(start, end time.Time) int {
	d := end.Sub(start)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

// AgeAt returns full years between birth and at.
func AgeAt(birth, at time.Time) int {
	years := at.Year() - birth.Year()
	anniversary := birth.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	return years
}

// ComputePrice quotes a rental. Pure: the only time it considers is
// the booking's own start, so quoting and invoicing agree byte for
// byte. birthDate may be nil when the renter's age is unknown (guests
// whose documents have not been captured yet); the surcharge is then
// not applied at quote time.
func ComputePrice(c car.Car, start, end time.Time, s platform.Settings, birthDate *time.Time) PriceBreakdown {
	days := RentalDays(start, end)

	base := c.PricePerDayCents * int64(days)
	tax := base * int64(s.TaxPercent) / 100

	var young int64
	if birthDate != nil && AgeAt(*birthDate, start) < s.YoungDriverMinAge {
		young = s.YoungDriverFeeCents * int64(days)
	}

	return PriceBreakdown{
		Days:             days,
		BasePriceCents:   base,
		TaxCents:         tax,
		YoungDriverCents: young,
		TotalCents:       base + tax + young,
		DepositCents:     c.DepositCents,
	}
}
