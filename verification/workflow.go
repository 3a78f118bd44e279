package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roadsterhq/rentalengine-backend/internal/docstore"
	"github.com/roadsterhq/rentalengine-backend/internal/ocr"
	"github.com/roadsterhq/rentalengine-backend/platform"
)

type StepKind string

const (
	StepLicense    StepKind = "license"
	StepNationalID StepKind = "national_id"
	StepAddress    StepKind = "address"
)

var (
	ErrUnknownStep     = errors.New("unknown verification step")
	ErrStepOrder       = errors.New("verification steps must be completed in order")
	ErrMissingField    = errors.New("required field is missing")
	ErrMissingDocument = errors.New("required document image is missing")

	// ErrLicenseExpiresBeforeReturn carries the wording staff relay to
	// the renter: a licence that lapses mid-rental voids the insurance.
	ErrLicenseExpiresBeforeReturn = errors.New("license expires before the rental return date; insurance cannot be covered")
	ErrUnderMinimumAge            = errors.New("renter is below the minimum driving age")
	ErrInsufficientExperience     = errors.New("driving experience is below the required minimum")
	ErrCategoryMismatch           = errors.New("no declared license category covers this vehicle")

	// ErrIdentityMismatch is non-fatal: resubmitting with an explicit
	// override acknowledgment proceeds, and the override is recorded.
	ErrIdentityMismatch = errors.New("name or date of birth does not match the license step")
)

// File is an uploaded document image.
type File struct {
	Name string
	Data []byte
}

// LicenseFields are the licence step's user-confirmed values. OCR may
// prefill them; the renter always has the final word.
type LicenseFields struct {
	Name       string
	Number     string
	IssueDate  time.Time
	ExpiryDate time.Time
	BirthDate  time.Time
	Categories []string
}

// IDFields are the national-ID step's user-confirmed values.
type IDFields struct {
	Name      string
	Number    string
	BirthDate time.Time
	Expiry    time.Time
}

// AddressFields is the address-proof step's user-confirmed value.
type AddressFields struct {
	Address string
}

// StepSubmission is one step's worth of confirmed fields and images.
type StepSubmission struct {
	Step       StepKind
	License    *LicenseFields
	NationalID *IDFields
	Address    *AddressFields
	Files      []File

	// AcknowledgeMismatch lets the renter proceed past the licence/ID
	// same-person cross-check after an explicit confirmation.
	AcknowledgeMismatch bool
}

// StepResult reports a step's outcome. Warnings never block; a
// rejected step comes back as an error instead.
type StepResult struct {
	Accepted  bool     `json:"accepted"`
	Warnings  []string `json:"warnings"`
	NextStep  StepKind `json:"nextStep,omitempty"`
	Completed bool     `json:"completed"`
	// Verified is set when the final self-service submission moved the
	// booking to VERIFIED.
	Verified bool `json:"verified"`
}

// BookingContext is what the workflow needs to know about the booking
// a token is bound to.
type BookingContext struct {
	BookingID               uuid.UUID
	RenterID                uuid.NullUUID
	EndTime                 time.Time
	RequiredLicenseCategory string
	IsWalkIn                bool
}

// BookingDirectory is implemented by the booking engine.
type BookingDirectory interface {
	VerificationContext(ctx context.Context, bookingID uuid.UUID) (BookingContext, error)
	MarkVerified(ctx context.Context, bookingID uuid.UUID) error
}

// Workflow drives the three-step document flow: License -> National ID
// -> Address Proof, strictly in order.
type Workflow struct {
	repo     *Repository
	bookings BookingDirectory
	ocr      ocr.Client
	docs     docstore.Store
	settings *platform.Repository
	logger   *slog.Logger
}

func NewWorkflow(repo *Repository, bookings BookingDirectory, ocrClient ocr.Client, docs docstore.Store, settings *platform.Repository, logger *slog.Logger) *Workflow {
	return &Workflow{
		repo:     repo,
		bookings: bookings,
		ocr:      ocrClient,
		docs:     docs,
		settings: settings,
		logger:   logger,
	}
}

// Prefill runs OCR over a document image. It never fails: quota
// exhaustion, outages and low confidence all degrade to a warning and
// the renter fills the fields by hand.
func (w *Workflow) Prefill(ctx context.Context, image []byte, step StepKind, side string) (ocr.Fields, []string) {
	res, err := w.ocr.Extract(ctx, image, string(step), side)
	if err != nil {
		if errors.Is(err, ocr.ErrQuotaExceeded) {
			return ocr.Fields{}, []string{"document recognition quota exhausted; please fill the fields manually"}
		}
		w.logger.WarnContext(ctx, "ocr extract failed", "step", step, "error", err)
		return ocr.Fields{}, []string{"document recognition unavailable; please fill the fields manually"}
	}
	if res.LowConfidence {
		return res.Fields, []string{"document recognition was uncertain; please double-check the prefilled fields"}
	}
	return res.Fields, nil
}

// SubmitStep handles the self-service flow: the token authenticates
// the renter and binds the submission to a booking. Intermediate steps
// only require the token to be live; the final step consumes it and
// moves the booking to VERIFIED, since passing the guided flow already
// enforces the eligibility rules.
func (w *Workflow) SubmitStep(ctx context.Context, token string, sub StepSubmission) (StepResult, error) {
	now := time.Now().UTC()

	t, err := w.repo.GetToken(ctx, token)
	if err != nil {
		return StepResult{}, err
	}
	if !t.Live(now) {
		if t.ConsumedAt.Valid {
			return StepResult{}, ErrTokenConsumed
		}
		if t.RevokedAt.Valid {
			return StepResult{}, ErrTokenNotFound
		}
		return StepResult{}, ErrTokenExpired
	}

	bc, err := w.bookings.VerificationContext(ctx, t.BookingID)
	if err != nil {
		return StepResult{}, err
	}

	res, err := w.applyStep(ctx, bc, sub, now)
	if err != nil || !res.Completed {
		return res, err
	}

	// Final submission: single-use consumption races resolve here; the
	// loser reports ALREADY_CONSUMED rather than double-verifying.
	if _, err := w.repo.ConsumeToken(ctx, token, now); err != nil {
		return StepResult{}, err
	}
	if err := w.bookings.MarkVerified(ctx, t.BookingID); err != nil {
		return StepResult{}, err
	}
	res.Verified = true
	return res, nil
}

// SubmitWalkInStep handles the admin-assisted counter flow. No token
// is involved and completing the documents does not verify the
// booking; an explicit admin approval does that.
func (w *Workflow) SubmitWalkInStep(ctx context.Context, bookingID uuid.UUID, sub StepSubmission) (StepResult, error) {
	bc, err := w.bookings.VerificationContext(ctx, bookingID)
	if err != nil {
		return StepResult{}, err
	}
	return w.applyStep(ctx, bc, sub, time.Now().UTC())
}

// Approve records an admin's approval of a profile. For walk-in
// bookings still pending, approval also fires PENDING -> VERIFIED.
func (w *Workflow) Approve(ctx context.Context, profileID uuid.UUID) (Profile, error) {
	p, err := w.repo.SetProfileStatus(ctx, profileID, StatusApproved, "")
	if err != nil {
		return Profile{}, err
	}

	bc, err := w.bookings.VerificationContext(ctx, p.BookingID)
	if err != nil {
		return Profile{}, err
	}
	if bc.IsWalkIn {
		if err := w.bookings.MarkVerified(ctx, p.BookingID); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}

// Reject records an admin's rejection with a reason the renter sees on
// resubmission.
func (w *Workflow) Reject(ctx context.Context, profileID uuid.UUID, reason string) (Profile, error) {
	return w.repo.SetProfileStatus(ctx, profileID, StatusRejected, reason)
}

func (w *Workflow) applyStep(ctx context.Context, bc BookingContext, sub StepSubmission, now time.Time) (StepResult, error) {
	settings, err := w.settings.Get(ctx)
	if err != nil {
		return StepResult{}, err
	}

	p, err := w.profileFor(ctx, bc)
	if err != nil {
		return StepResult{}, err
	}

	switch sub.Step {
	case StepLicense:
		return w.applyLicense(ctx, &p, bc, sub, settings, now)
	case StepNationalID:
		return w.applyNationalID(ctx, &p, sub, now)
	case StepAddress:
		return w.applyAddress(ctx, &p, bc, sub)
	default:
		return StepResult{}, ErrUnknownStep
	}
}

func (w *Workflow) profileFor(ctx context.Context, bc BookingContext) (Profile, error) {
	var (
		p   Profile
		err error
	)
	if bc.RenterID.Valid {
		p, err = w.repo.GetProfileByRenter(ctx, bc.RenterID.UUID)
	} else {
		p, err = w.repo.GetProfileByBooking(ctx, bc.BookingID)
	}
	if errors.Is(err, ErrProfileNotFound) {
		p = Profile{RenterID: bc.RenterID, BookingID: bc.BookingID}
		err = w.repo.CreateProfile(ctx, &p)
	}
	return p, err
}

func (w *Workflow) applyLicense(ctx context.Context, p *Profile, bc BookingContext, sub StepSubmission, settings platform.Settings, now time.Time) (StepResult, error) {
	if sub.License == nil {
		return StepResult{}, fmt.Errorf("%w: license fields", ErrMissingField)
	}
	if err := ValidateLicense(*sub.License, bc.RequiredLicenseCategory, bc.EndTime, now, settings.MinLicenseAge, settings.MinExperienceYears); err != nil {
		return StepResult{}, err
	}
	if len(sub.Files) != 2 {
		return StepResult{}, fmt.Errorf("%w: license requires front and back images", ErrMissingDocument)
	}

	frontURL, err := w.docs.Persist(ctx, sub.Files[0].Name, sub.Files[0].Data)
	if err != nil {
		return StepResult{}, err
	}
	backURL, err := w.docs.Persist(ctx, sub.Files[1].Name, sub.Files[1].Data)
	if err != nil {
		return StepResult{}, err
	}

	f := sub.License
	p.LicenseName = nullString(f.Name)
	p.LicenseNumber = nullString(f.Number)
	p.LicenseIssueDate = nullTime(f.IssueDate)
	p.LicenseExpiry = nullTime(f.ExpiryDate)
	p.LicenseBirthDate = nullTime(f.BirthDate)
	p.LicenseCategories = nullString(strings.Join(f.Categories, ","))
	p.LicenseFrontURL = nullString(frontURL)
	p.LicenseBackURL = nullString(backURL)
	if err := w.repo.SaveLicenseStep(ctx, p); err != nil {
		return StepResult{}, err
	}

	return StepResult{Accepted: true, NextStep: StepNationalID}, nil
}

func (w *Workflow) applyNationalID(ctx context.Context, p *Profile, sub StepSubmission, now time.Time) (StepResult, error) {
	if !p.licenseComplete() {
		return StepResult{}, ErrStepOrder
	}
	if sub.NationalID == nil {
		return StepResult{}, fmt.Errorf("%w: national id fields", ErrMissingField)
	}
	if err := ValidateID(*sub.NationalID); err != nil {
		return StepResult{}, err
	}
	if len(sub.Files) != 2 {
		return StepResult{}, fmt.Errorf("%w: national id requires front and back images", ErrMissingDocument)
	}

	var warnings []string
	if !crossCheckMatches(*p, *sub.NationalID) {
		if !sub.AcknowledgeMismatch {
			return StepResult{}, ErrIdentityMismatch
		}
		warnings = append(warnings, "identity mismatch against license acknowledged; override recorded")
		p.CrossCheckOverridden = true
		w.logger.InfoContext(ctx, "identity cross-check override recorded",
			"profile_id", p.ID, "booking_id", p.BookingID)
	}

	frontURL, err := w.docs.Persist(ctx, sub.Files[0].Name, sub.Files[0].Data)
	if err != nil {
		return StepResult{}, err
	}
	backURL, err := w.docs.Persist(ctx, sub.Files[1].Name, sub.Files[1].Data)
	if err != nil {
		return StepResult{}, err
	}

	f := sub.NationalID
	p.IDName = nullString(f.Name)
	p.IDNumber = nullString(f.Number)
	p.IDBirthDate = nullTime(f.BirthDate)
	p.IDExpiry = nullTime(f.Expiry)
	p.IDFrontURL = nullString(frontURL)
	p.IDBackURL = nullString(backURL)
	if err := w.repo.SaveIDStep(ctx, p); err != nil {
		return StepResult{}, err
	}

	return StepResult{Accepted: true, Warnings: warnings, NextStep: StepAddress}, nil
}

func (w *Workflow) applyAddress(ctx context.Context, p *Profile, bc BookingContext, sub StepSubmission) (StepResult, error) {
	if !p.licenseComplete() || !p.idComplete() {
		return StepResult{}, ErrStepOrder
	}
	if sub.Address == nil || strings.TrimSpace(sub.Address.Address) == "" {
		return StepResult{}, fmt.Errorf("%w: address", ErrMissingField)
	}
	if len(sub.Files) != 1 {
		return StepResult{}, fmt.Errorf("%w: address requires one proof image", ErrMissingDocument)
	}

	proofURL, err := w.docs.Persist(ctx, sub.Files[0].Name, sub.Files[0].Data)
	if err != nil {
		return StepResult{}, err
	}

	p.Address = nullString(strings.TrimSpace(sub.Address.Address))
	p.AddressProofURL = nullString(proofURL)
	if err := w.repo.SaveAddressStep(ctx, p); err != nil {
		return StepResult{}, err
	}

	return StepResult{Accepted: true, Completed: true}, nil
}

// ValidateLicense applies the licence step's eligibility rules against
// the booking's return date and a single authoritative now.
func ValidateLicense(f LicenseFields, requiredCategory string, bookingEnd, now time.Time, minAge, minExperienceYears int) error {
	if f.ExpiryDate.IsZero() {
		return fmt.Errorf("%w: license expiry date", ErrMissingField)
	}
	if f.IssueDate.IsZero() {
		return fmt.Errorf("%w: license issue date", ErrMissingField)
	}
	if f.BirthDate.IsZero() {
		return fmt.Errorf("%w: date of birth", ErrMissingField)
	}

	if !f.ExpiryDate.After(bookingEnd) {
		return ErrLicenseExpiresBeforeReturn
	}
	if yearsBetween(f.BirthDate, now) < minAge {
		return ErrUnderMinimumAge
	}
	if yearsBetween(f.IssueDate, now) < minExperienceYears {
		return ErrInsufficientExperience
	}

	for _, c := range f.Categories {
		if strings.EqualFold(strings.TrimSpace(c), requiredCategory) {
			return nil
		}
	}
	return ErrCategoryMismatch
}

// ValidateID applies the national-ID step's completeness rules.
func ValidateID(f IDFields) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: name", ErrMissingField)
	}
	if strings.TrimSpace(f.Number) == "" {
		return fmt.Errorf("%w: id number", ErrMissingField)
	}
	if f.BirthDate.IsZero() {
		return fmt.Errorf("%w: date of birth", ErrMissingField)
	}
	if f.Expiry.IsZero() {
		return fmt.Errorf("%w: id expiry date", ErrMissingField)
	}
	return nil
}

// crossCheckMatches compares the ID step's name and birth date against
// the persisted licence step. A missing licence name skips the name
// comparison.
func crossCheckMatches(p Profile, f IDFields) bool {
	if p.LicenseName.Valid && p.LicenseName.String != "" &&
		!strings.EqualFold(strings.TrimSpace(p.LicenseName.String), strings.TrimSpace(f.Name)) {
		return false
	}
	if p.LicenseBirthDate.Valid && !sameDate(p.LicenseBirthDate.Time, f.BirthDate) {
		return false
	}
	return true
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func yearsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	if from.AddDate(years, 0, 0).After(to) {
		years--
	}
	return years
}
