package booking

import (
	"testing"
	"time"

	"github.com/roadsterhq/rentalengine-backend/car"
	"github.com/roadsterhq/rentalengine-backend/platform"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRentalDays(t *testing.T) {
	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{"exactly one day", start.Add(24 * time.Hour), 1},
		{"one hour rounds up to a day", start.Add(time.Hour), 1},
		{"25 hours rounds up to two days", start.Add(25 * time.Hour), 2},
		{"exactly two days", start.Add(48 * time.Hour), 2},
		{"zero duration floors at one day", start, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RentalDays(start, tt.end); got != tt.want {
				t.Errorf("RentalDays() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAgeAt(t *testing.T) {
	birth := date(2000, 6, 15)

	if got := AgeAt(birth, date(2024, 6, 14)); got != 23 {
		t.Errorf("day before birthday: got %d, want 23", got)
	}
	if got := AgeAt(birth, date(2024, 6, 15)); got != 24 {
		t.Errorf("on birthday: got %d, want 24", got)
	}
}

func TestComputePrice(t *testing.T) {
	c := car.Car{
		PricePerDayCents:   5000,
		DepositCents:       30000,
		DailyKmLimit:       200,
		ExtraKmChargeCents: 25,
	}
	settings := platform.Defaults()

	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	t.Run("two day rental with tax", func(t *testing.T) {
		p := ComputePrice(c, start, end, settings, nil)

		if p.Days != 2 {
			t.Errorf("days = %d, want 2", p.Days)
		}
		if p.BasePriceCents != 10000 {
			t.Errorf("base = %d, want 10000", p.BasePriceCents)
		}
		if p.TaxCents != 2000 {
			t.Errorf("tax = %d, want 2000", p.TaxCents)
		}
		if p.YoungDriverCents != 0 {
			t.Errorf("young driver = %d, want 0", p.YoungDriverCents)
		}
		if p.TotalCents != 12000 {
			t.Errorf("total = %d, want 12000", p.TotalCents)
		}
		if p.DepositCents != 30000 {
			t.Errorf("deposit = %d, want 30000", p.DepositCents)
		}
	})

	t.Run("young driver surcharge per day", func(t *testing.T) {
		birth := date(2002, 1, 1) // 22 at pickup, under the default 25
		p := ComputePrice(c, start, end, settings, &birth)

		if p.YoungDriverCents != 3000 {
			t.Errorf("young driver = %d, want 3000", p.YoungDriverCents)
		}
		if p.TotalCents != 15000 {
			t.Errorf("total = %d, want 15000", p.TotalCents)
		}
	})

	t.Run("driver turning the minimum age on pickup day pays no surcharge", func(t *testing.T) {
		birth := start.AddDate(-settings.YoungDriverMinAge, 0, 0)
		p := ComputePrice(c, start, end, settings, &birth)

		if p.YoungDriverCents != 0 {
			t.Errorf("young driver = %d, want 0", p.YoungDriverCents)
		}
	})

	t.Run("deterministic for the same inputs", func(t *testing.T) {
		a := ComputePrice(c, start, end, settings, nil)
		b := ComputePrice(c, start, end, settings, nil)
		if a != b {
			t.Errorf("breakdowns differ: %+v vs %+v", a, b)
		}
	})
}
