package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/roadsterhq/rentalengine-backend/car"
	"github.com/roadsterhq/rentalengine-backend/internal/o11y"
	"github.com/roadsterhq/rentalengine-backend/platform"
	"github.com/roadsterhq/rentalengine-backend/renter"
	"github.com/roadsterhq/rentalengine-backend/verification"
)

// externalCallTimeout bounds every call to the payment collaborator.
// A call that does not return promptly is treated as failed and the
// booking stays in its prior state.
const externalCallTimeout = 15 * time.Second

// CheckoutSession is the payment collaborator's handle for collecting
// a booking's total.
type CheckoutSession struct {
	URL         string `json:"url"`
	ProviderRef string `json:"-"`
}

// PaymentGateway is the external payment collaborator.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, bookingID uuid.UUID, amountCents int64, description string) (CheckoutSession, error)
	GetStatus(ctx context.Context, providerRef string) (PaymentStatus, error)
	Refund(ctx context.Context, providerRef string) (PaymentStatus, error)
}

// Notifier delivers fire-and-forget customer notifications. Failures
// are logged, never propagated.
type Notifier interface {
	Send(ctx context.Context, event, recipient, body string) error
}

const (
	EventVerificationLink = "verification.link"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
)

// Service is the booking orchestrator: it is the only caller of the
// availability check and the pricing calculator at creation time, and
// it composes the state machine with the external collaborators.
type Service struct {
	repo     *Repository
	cars     *car.Repository
	renters  *renter.Repository
	settings *platform.Repository
	tokens   *verification.Repository
	payments PaymentGateway
	notifier Notifier
	logger   *slog.Logger
	metrics  *o11y.Metrics

	publicBaseURL string
}

func NewService(repo *Repository, cars *car.Repository, renters *renter.Repository,
	settings *platform.Repository, tokens *verification.Repository,
	payments PaymentGateway, notifier Notifier,
	logger *slog.Logger, metrics *o11y.Metrics, publicBaseURL string) *Service {
	return &Service{
		repo:          repo,
		cars:          cars,
		renters:       renters,
		settings:      settings,
		tokens:        tokens,
		payments:      payments,
		notifier:      notifier,
		logger:        logger,
		metrics:       metrics,
		publicBaseURL: publicBaseURL,
	}
}

type CreateInput struct {
	CarID      uuid.UUID
	RenterID   uuid.NullUUID
	GuestName  string
	GuestPhone string
	Start      time.Time
	End        time.Time
	Type       BookingType
	IsWalkIn   bool
}

// CreateResult is a freshly created booking plus, for self-service
// rentals, the verification token the renter completes documents with.
type CreateResult struct {
	Booking Booking
	Token   *verification.Token
}

// Create runs the creation path: validate the window, check the car,
// price the rental, insert atomically against concurrent overlapping
// creations, then issue the verification token (or confirm directly
// for courtesy bookings).
func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	now := time.Now().UTC()
	start, end := in.Start.UTC(), in.End.UTC()

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	if err := validateWindow(start, end, in.Type, settings); err != nil {
		return CreateResult{}, err
	}

	c, err := s.cars.GetCar(ctx, in.CarID)
	if err != nil {
		return CreateResult{}, err
	}
	if c.Status != car.Available {
		return CreateResult{}, car.ErrNotAvailable
	}

	var birthDate *time.Time
	var email string
	if in.RenterID.Valid {
		rn, err := s.renters.GetByID(ctx, in.RenterID.UUID)
		if err != nil {
			return CreateResult{}, err
		}
		if rn.BirthDate.Valid {
			bd := rn.BirthDate.Time
			birthDate = &bd
		}
		if rn.Email.Valid {
			email = rn.Email.String
		}
	}

	b := Booking{
		ID:         uuid.New(),
		CarID:      in.CarID,
		RenterID:   in.RenterID,
		GuestName:  nullString(in.GuestName),
		GuestPhone: nullString(in.GuestPhone),
		Type:       in.Type,
		Status:     StatusPending,
		StartTime:  start,
		EndTime:    end,
		IsWalkIn:   in.IsWalkIn,
	}

	// Courtesy bookings are free of charge; everything else is priced
	// at creation and the same breakdown is used for invoicing.
	if in.Type != TypeReplacement {
		price := ComputePrice(c, start, end, settings, birthDate)
		b.BasePriceCents = price.BasePriceCents
		b.TaxCents = price.TaxCents
		b.YoungDriverCents = price.YoungDriverCents
		b.TotalCents = price.TotalCents
		b.DepositCents = price.DepositCents
	}

	// The initial token rides the creation transaction: a PENDING
	// booking without a live token would block the car until an admin
	// cancelled it.
	var token *verification.Token
	issueInitial := func(ctx context.Context, tx *sqlx.Tx) error {
		if in.Type == TypeReplacement || in.IsWalkIn {
			return nil
		}
		t, err := s.tokens.IssueTokenTx(ctx, tx, b.ID, settings.TokenTTL())
		if err != nil {
			return err
		}
		token = &t
		return nil
	}

	if err := s.repo.Create(ctx, &b, now, issueInitial); err != nil {
		if errors.Is(err, ErrCarUnavailable) {
			s.metrics.BookingConflicts.Inc()
		}
		return CreateResult{}, err
	}
	s.metrics.BookingsCreated.WithLabelValues(string(b.Type)).Inc()

	res := CreateResult{Booking: b}

	switch {
	case in.Type == TypeReplacement:
		// Zero-amount payment auto-satisfies the confirmation gate.
		p := &Payment{ID: uuid.New(), BookingID: b.ID, ProviderRef: "courtesy", Status: PaymentSucceeded}
		if err := s.repo.RecordPayment(ctx, p); err != nil {
			return CreateResult{}, err
		}
		confirmed, err := s.repo.Confirm(ctx, b.ID, PaymentSucceeded)
		if err != nil {
			return CreateResult{}, err
		}
		res.Booking = confirmed
	case token != nil:
		s.metrics.TokensIssued.Inc()
		res.Token = token
		s.sendAsync(EventVerificationLink, email, s.verificationURL(token.Token))
	}

	return res, nil
}

func validateWindow(start, end time.Time, t BookingType, settings platform.Settings) error {
	if !start.Before(end) {
		return ErrInvalidDuration
	}
	if t != TypeRental {
		return nil
	}
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy == ey && sm == em && sd == ed && end.Sub(start) < settings.SameDayMinDuration() {
		return ErrInvalidDuration
	}
	return nil
}

// VerificationLink re-issues the booking's verification token,
// revoking any previous one, and returns the link the renter opens.
func (s *Service) VerificationLink(ctx context.Context, bookingID uuid.UUID) (verification.Token, string, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return verification.Token{}, "", err
	}
	if b.Status != StatusPending || b.Type == TypeReplacement {
		return verification.Token{}, "", ErrInvalidTransition
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return verification.Token{}, "", err
	}
	t, err := s.tokens.IssueToken(ctx, bookingID, settings.TokenTTL())
	if err != nil {
		return verification.Token{}, "", err
	}
	s.metrics.TokensIssued.Inc()
	return t, s.verificationURL(t.Token), nil
}

func (s *Service) verificationURL(token string) string {
	return s.publicBaseURL + "/verify/" + token
}

// CreateCheckout opens a checkout session for a verified booking's
// total and records the pending payment.
func (s *Service) CreateCheckout(ctx context.Context, bookingID uuid.UUID) (CheckoutSession, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if b.Status != StatusVerified {
		return CheckoutSession{}, ErrInvalidTransition
	}

	cctx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()
	cs, err := s.payments.CreateCheckoutSession(cctx, b.ID, b.TotalCents, checkoutDescription(b))
	if err != nil {
		return CheckoutSession{}, err
	}

	p := &Payment{ID: uuid.New(), BookingID: b.ID, ProviderRef: cs.ProviderRef, Status: PaymentPending, AmountCents: b.TotalCents}
	if err := s.repo.RecordPayment(ctx, p); err != nil {
		return CheckoutSession{}, err
	}
	return cs, nil
}

func checkoutDescription(b Booking) string {
	return fmt.Sprintf("Car rental %s, %s to %s",
		b.ID, b.StartTime.Format("2006-01-02"), b.EndTime.Format("2006-01-02"))
}

// HandlePaymentUpdate re-reads the collaborator's status for the
// booking's payment and fires VERIFIED -> CONFIRMED when it succeeded.
func (s *Service) HandlePaymentUpdate(ctx context.Context, bookingID uuid.UUID) (Booking, error) {
	p, err := s.repo.GetPayment(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()
	status, err := s.payments.GetStatus(cctx, p.ProviderRef)
	if err != nil {
		return Booking{}, err
	}

	p.Status = status
	if err := s.repo.RecordPayment(ctx, &p); err != nil {
		return Booking{}, err
	}
	if status != PaymentSucceeded {
		return s.repo.GetByID(ctx, bookingID)
	}

	// Providers redeliver success notifications; once the booking has
	// confirmed (or progressed further) this is a no-op.
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	switch b.Status {
	case StatusConfirmed, StatusOngoing, StatusCompleted:
		return b, nil
	}

	b, err = s.repo.Confirm(ctx, bookingID, status)
	if err != nil {
		return Booking{}, err
	}
	s.sendAsync(EventBookingConfirmed, s.recipient(ctx, b), "Your booking is confirmed")
	return b, nil
}

// StartTrip fires CONFIRMED -> ONGOING. The operator supplies the
// starting odometer; the digital profile must be approved unless the
// booking is a walk-in.
func (s *Service) StartTrip(ctx context.Context, bookingID uuid.UUID, startOdometer int64, notes string) (Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}

	approved, err := s.documentsApproved(ctx, b)
	if err != nil {
		return Booking{}, err
	}

	return s.repo.StartTrip(ctx, bookingID, approved, startOdometer, notes)
}

func (s *Service) documentsApproved(ctx context.Context, b Booking) (bool, error) {
	var (
		p   verification.Profile
		err error
	)
	if b.RenterID.Valid {
		p, err = s.tokens.GetProfileByRenter(ctx, b.RenterID.UUID)
	} else {
		p, err = s.tokens.GetProfileByBooking(ctx, b.ID)
	}
	if errors.Is(err, verification.ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status == verification.StatusApproved, nil
}

// CompleteTrip fires ONGOING -> COMPLETED and records any extra-km
// settlement.
func (s *Service) CompleteTrip(ctx context.Context, bookingID uuid.UUID, endOdometer int64, notes string) (CompleteTripResult, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return CompleteTripResult{}, err
	}
	c, err := s.cars.GetCar(ctx, b.CarID)
	if err != nil {
		return CompleteTripResult{}, err
	}

	excessKm, amountCents := ExtraKm(b, c, endOdometer)
	return s.repo.CompleteTrip(ctx, bookingID, excessKm, amountCents, endOdometer, notes)
}

// CancellationEligibility answers whether the actor could cancel right
// now, with the blocking guard's code when not.
func (s *Service) CancellationEligibility(ctx context.Context, bookingID uuid.UUID, role Role) (bool, string, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return false, "", err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return false, "", err
	}
	if gerr := GuardCancel(b, role, time.Now().UTC(), settings.CancelWindow()); gerr != nil {
		return false, gerr.Code, nil
	}
	return true, "", nil
}

// Cancel fires * -> CANCELLED for the actor and, when a payment had
// succeeded, requests a refund best-effort: a failed refund is queued
// for manual follow-up and never blocks the cancellation.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, role Role, reason string) (Booking, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return Booking{}, err
	}

	b, err := s.repo.Cancel(ctx, bookingID, role, reason, time.Now().UTC(), settings.CancelWindow())
	if err != nil {
		return Booking{}, err
	}

	s.refundIfPaid(ctx, b)
	s.sendAsync(EventBookingCancelled, s.recipient(ctx, b), "Your booking has been cancelled")
	return b, nil
}

func (s *Service) refundIfPaid(ctx context.Context, b Booking) {
	if b.Type == TypeReplacement {
		return
	}
	p, err := s.repo.GetPayment(ctx, b.ID)
	if errors.Is(err, ErrPaymentMissing) {
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read payment for refund", "booking_id", b.ID, "error", err)
		return
	}
	if p.Status != PaymentSucceeded {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()
	status, err := s.payments.Refund(cctx, p.ProviderRef)
	if err != nil || status != PaymentRefunded {
		reason := "refund reported status " + string(status)
		if err != nil {
			reason = err.Error()
		}
		s.metrics.RefundFollowups.Inc()
		s.logger.ErrorContext(ctx, "refund failed, queued for manual follow-up",
			"booking_id", b.ID, "provider_ref", p.ProviderRef, "error", err)
		if rerr := s.repo.RecordRefundFollowup(ctx, b.ID, p.ProviderRef, reason); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to record refund follow-up", "booking_id", b.ID, "error", rerr)
		}
		return
	}

	p.Status = PaymentRefunded
	if err := s.repo.RecordPayment(ctx, &p); err != nil {
		s.logger.ErrorContext(ctx, "failed to record refunded payment", "booking_id", b.ID, "error", err)
	}
}

// VerificationContext implements verification.BookingDirectory.
func (s *Service) VerificationContext(ctx context.Context, bookingID uuid.UUID) (verification.BookingContext, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return verification.BookingContext{}, err
	}
	c, err := s.cars.GetCar(ctx, b.CarID)
	if err != nil {
		return verification.BookingContext{}, err
	}
	return verification.BookingContext{
		BookingID:               b.ID,
		RenterID:                b.RenterID,
		EndTime:                 b.EndTime,
		RequiredLicenseCategory: c.RequiredLicenseCategory,
		IsWalkIn:                b.IsWalkIn,
	}, nil
}

// MarkVerified implements verification.BookingDirectory.
func (s *Service) MarkVerified(ctx context.Context, bookingID uuid.UUID) error {
	_, err := s.repo.MarkVerified(ctx, bookingID)
	return err
}

// recipient picks the notification target for a booking.
func (s *Service) recipient(ctx context.Context, b Booking) string {
	if b.RenterID.Valid {
		rn, err := s.renters.GetByID(ctx, b.RenterID.UUID)
		if err == nil && rn.Email.Valid {
			return rn.Email.String
		}
	}
	if b.GuestPhone.Valid {
		return b.GuestPhone.String
	}
	return ""
}

// sendAsync delivers a notification without blocking or failing the
// request.
func (s *Service) sendAsync(event, recipient, body string) {
	if recipient == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), externalCallTimeout)
		defer cancel()
		if err := s.notifier.Send(ctx, event, recipient, body); err != nil {
			s.logger.Error("notification failed", "event", event, "error", err)
		}
	}()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
