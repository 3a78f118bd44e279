package booking

import (
	"database/sql"
	"testing"
	"time"

	"github.com/roadsterhq/rentalengine-backend/car"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusVerified},
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusVerified, StatusConfirmed},
		{StatusVerified, StatusCancelled},
		{StatusConfirmed, StatusOngoing},
		{StatusConfirmed, StatusCancelled},
		{StatusOngoing, StatusCompleted},
		{StatusOngoing, StatusCancelled},
	}
	for _, e := range allowed {
		if !CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be allowed", e.from, e.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusPending, StatusOngoing},
		{StatusPending, StatusCompleted},
		{StatusVerified, StatusOngoing},
		{StatusConfirmed, StatusCompleted},
		{StatusConfirmed, StatusVerified},
		{StatusCompleted, StatusCancelled},
		{StatusCancelled, StatusPending},
		{StatusCancelled, StatusConfirmed},
	}
	for _, e := range forbidden {
		if CanTransition(e.from, e.to) {
			t.Errorf("expected %s -> %s to be forbidden", e.from, e.to)
		}
	}
}

func TestGuardVerify(t *testing.T) {
	if err := GuardVerify(Booking{Status: StatusPending, Type: TypeRental}); err != nil {
		t.Errorf("pending rental should verify: %v", err)
	}
	if err := GuardVerify(Booking{Status: StatusPending, Type: TypeReplacement}); err == nil {
		t.Error("courtesy bookings must not pass through verified")
	}
	if err := GuardVerify(Booking{Status: StatusConfirmed, Type: TypeRental}); err != ErrInvalidTransition {
		t.Errorf("confirmed should not re-verify, got %v", err)
	}
}

func TestGuardConfirm(t *testing.T) {
	if err := GuardConfirm(Booking{Status: StatusVerified, Type: TypeRental}, PaymentSucceeded); err != nil {
		t.Errorf("verified with succeeded payment should confirm: %v", err)
	}
	if err := GuardConfirm(Booking{Status: StatusVerified, Type: TypeRental}, PaymentPending); err != ErrPaymentNotSucceeded {
		t.Errorf("pending payment must block confirmation, got %v", err)
	}
	if err := GuardConfirm(Booking{Status: StatusPending, Type: TypeRental}, PaymentSucceeded); err != ErrNotCourtesy {
		t.Errorf("rentals cannot skip verification, got %v", err)
	}
	if err := GuardConfirm(Booking{Status: StatusPending, Type: TypeReplacement}, PaymentPending); err != nil {
		t.Errorf("courtesy bookings confirm straight from pending: %v", err)
	}
}

func TestGuardStartTrip(t *testing.T) {
	confirmed := Booking{Status: StatusConfirmed, Type: TypeRental}

	if err := GuardStartTrip(confirmed, true, 12000); err != nil {
		t.Errorf("approved documents should start: %v", err)
	}
	if err := GuardStartTrip(confirmed, false, 12000); err != ErrDocumentsNotApproved {
		t.Errorf("unapproved documents must block, got %v", err)
	}
	if err := GuardStartTrip(confirmed, true, -1); err != ErrOdometerInvalid {
		t.Errorf("negative odometer must block, got %v", err)
	}

	walkIn := Booking{Status: StatusConfirmed, Type: TypeRental, IsWalkIn: true}
	if err := GuardStartTrip(walkIn, false, 0); err != nil {
		t.Errorf("walk-ins are checked at the counter, profile not required: %v", err)
	}

	courtesy := Booking{Status: StatusConfirmed, Type: TypeReplacement}
	if err := GuardStartTrip(courtesy, false, 0); err != nil {
		t.Errorf("courtesy bookings waive the profile requirement: %v", err)
	}
}

func TestGuardCompleteTrip(t *testing.T) {
	ongoing := Booking{
		Status:        StatusOngoing,
		StartOdometer: sql.NullInt64{Int64: 10000, Valid: true},
	}

	if err := GuardCompleteTrip(ongoing, 10500); err != nil {
		t.Errorf("forward reading should complete: %v", err)
	}
	if err := GuardCompleteTrip(ongoing, 10000); err != nil {
		t.Errorf("zero distance is valid: %v", err)
	}
	if err := GuardCompleteTrip(ongoing, 9999); err != ErrOdometerInvalid {
		t.Errorf("reading below start must block, got %v", err)
	}
	if err := GuardCompleteTrip(Booking{Status: StatusOngoing}, 10500); err != ErrOdometerInvalid {
		t.Errorf("missing start reading must block, got %v", err)
	}
}

func TestGuardCancel(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	t.Run("renter cancels pending and verified freely", func(t *testing.T) {
		for _, s := range []Status{StatusPending, StatusVerified} {
			b := Booking{Status: s, StartTime: now.Add(time.Hour)}
			if err := GuardCancel(b, RoleRenter, now, window); err != nil {
				t.Errorf("%s: %v", s, err)
			}
		}
	})

	t.Run("renter cancels confirmed only outside the window", func(t *testing.T) {
		open := Booking{Status: StatusConfirmed, StartTime: now.Add(25 * time.Hour)}
		if err := GuardCancel(open, RoleRenter, now, window); err != nil {
			t.Errorf("25h before pickup: %v", err)
		}

		closed := Booking{Status: StatusConfirmed, StartTime: now.Add(23 * time.Hour)}
		if err := GuardCancel(closed, RoleRenter, now, window); err != ErrCancelWindowClosed {
			t.Errorf("23h before pickup, got %v", err)
		}

		boundary := Booking{Status: StatusConfirmed, StartTime: now.Add(window)}
		if err := GuardCancel(boundary, RoleRenter, now, window); err != ErrCancelWindowClosed {
			t.Errorf("exactly at the window boundary, got %v", err)
		}
	})

	t.Run("ongoing is admin only", func(t *testing.T) {
		b := Booking{Status: StatusOngoing, StartTime: now.Add(-time.Hour)}
		if err := GuardCancel(b, RoleRenter, now, window); err != ErrCancelAdminOnly {
			t.Errorf("renter on ongoing, got %v", err)
		}
		if err := GuardCancel(b, RoleAdmin, now, window); err != nil {
			t.Errorf("admin on ongoing: %v", err)
		}
	})

	t.Run("terminal states stay terminal", func(t *testing.T) {
		for _, s := range []Status{StatusCompleted, StatusCancelled} {
			b := Booking{Status: s}
			if err := GuardCancel(b, RoleAdmin, now, window); err != ErrInvalidTransition {
				t.Errorf("%s: got %v", s, err)
			}
		}
	})
}

func TestExtraKm(t *testing.T) {
	carWithLimit := car.Car{DailyKmLimit: 200, ExtraKmChargeCents: 25}
	b := Booking{
		StartTime:     time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
		EndTime:       time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC), // 2 billable days
		StartOdometer: sql.NullInt64{Int64: 10000, Valid: true},
	}

	t.Run("within the included distance", func(t *testing.T) {
		excess, amount := ExtraKm(b, carWithLimit, 10400)
		if excess != 0 || amount != 0 {
			t.Errorf("got excess=%d amount=%d, want zeros", excess, amount)
		}
	})

	t.Run("beyond the included distance", func(t *testing.T) {
		excess, amount := ExtraKm(b, carWithLimit, 10450)
		if excess != 50 {
			t.Errorf("excess = %d, want 50", excess)
		}
		if amount != 1250 {
			t.Errorf("amount = %d, want 1250", amount)
		}
	})
}
