package api

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/roadsterhq/rentalengine-backend/booking"
	"github.com/roadsterhq/rentalengine-backend/internal/middleware"
	"github.com/roadsterhq/rentalengine-backend/verification"
)

const maxDocumentBytes = 10 << 20

// tokenStatusHandler lets the verification page render a countdown and
// resume at the right step.
func (a *API) tokenStatusHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)
	now := time.Now().UTC()

	t, err := a.ver.GetToken(c, c.Param("token"))
	if errors.Is(err, verification.ErrTokenNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "TOKEN_NOT_FOUND", "message": "Verification token not found"})
		return
	}
	if err != nil {
		logger.ErrorContext(c, "failed to get token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if !t.Live(now) {
		code := "TOKEN_EXPIRED"
		if t.ConsumedAt.Valid {
			code = "ALREADY_CONSUMED"
		}
		c.JSON(http.StatusGone, gin.H{"code": code, "message": "Verification link is no longer valid"})
		return
	}

	nextStep := verification.StepLicense
	if p, err := a.ver.GetProfileByBooking(c, t.BookingID); err == nil {
		if s := p.NextStep(); s != "" {
			nextStep = s
		}
	} else if !errors.Is(err, verification.ErrProfileNotFound) {
		logger.ErrorContext(c, "failed to get profile", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookingId":        t.BookingID,
		"expiresAt":        t.ExpiresAt,
		"remainingSeconds": int(t.TimeRemaining(now).Seconds()),
		"nextStep":         nextStep,
	})
}

func (a *API) ocrPrefillHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	t, err := a.ver.GetToken(c, c.Param("token"))
	if errors.Is(err, verification.ErrTokenNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "TOKEN_NOT_FOUND", "message": "Verification token not found"})
		return
	}
	if err != nil {
		logger.ErrorContext(c, "failed to get token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !t.Live(time.Now().UTC()) {
		c.JSON(http.StatusGone, gin.H{"code": "TOKEN_EXPIRED", "message": "Verification link is no longer valid"})
		return
	}

	step := verification.StepKind(c.PostForm("step"))
	side := c.PostForm("side")

	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_DOCUMENT", "message": "An image file is required"})
		return
	}
	image, err := readUpload(fh)
	if err != nil {
		logger.ErrorContext(c, "failed to read upload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Could not read uploaded image"})
		return
	}

	fields, warnings := a.wf.Prefill(c, image, step, side)
	c.JSON(http.StatusOK, gin.H{"fields": fields, "warnings": warnings})
}

// stepFields is the "fields" multipart value: the renter's confirmed
// values for whichever step is being submitted. Dates are YYYY-MM-DD.
type stepFields struct {
	Step    string `json:"step"`
	License *struct {
		Name       string   `json:"name"`
		Number     string   `json:"number"`
		IssueDate  string   `json:"issueDate"`
		ExpiryDate string   `json:"expiryDate"`
		BirthDate  string   `json:"birthDate"`
		Categories []string `json:"categories"`
	} `json:"license"`
	NationalID *struct {
		Name      string `json:"name"`
		Number    string `json:"number"`
		BirthDate string `json:"birthDate"`
		Expiry    string `json:"expiry"`
	} `json:"nationalId"`
	Address *struct {
		Address string `json:"address"`
	} `json:"address"`
	AcknowledgeMismatch bool `json:"acknowledgeMismatch"`
}

func (a *API) submitStepHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	sub, ok := a.bindStepSubmission(c)
	if !ok {
		return
	}

	res, err := a.wf.SubmitStep(c, c.Param("token"), sub)
	if err != nil {
		a.verificationError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) bindStepSubmission(c *gin.Context) (verification.StepSubmission, bool) {
	var raw stepFields
	if err := json.Unmarshal([]byte(c.PostForm("fields")), &raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid fields payload"})
		return verification.StepSubmission{}, false
	}

	sub := verification.StepSubmission{
		Step:                verification.StepKind(raw.Step),
		AcknowledgeMismatch: raw.AcknowledgeMismatch,
	}

	parseDate := func(v string) (time.Time, bool) {
		if v == "" {
			return time.Time{}, true
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid date format, expected YYYY-MM-DD"})
			return time.Time{}, false
		}
		return t, true
	}

	if raw.License != nil {
		issue, ok := parseDate(raw.License.IssueDate)
		if !ok {
			return verification.StepSubmission{}, false
		}
		expiry, ok := parseDate(raw.License.ExpiryDate)
		if !ok {
			return verification.StepSubmission{}, false
		}
		birth, ok := parseDate(raw.License.BirthDate)
		if !ok {
			return verification.StepSubmission{}, false
		}
		sub.License = &verification.LicenseFields{
			Name:       raw.License.Name,
			Number:     raw.License.Number,
			IssueDate:  issue,
			ExpiryDate: expiry,
			BirthDate:  birth,
			Categories: raw.License.Categories,
		}
	}
	if raw.NationalID != nil {
		birth, ok := parseDate(raw.NationalID.BirthDate)
		if !ok {
			return verification.StepSubmission{}, false
		}
		expiry, ok := parseDate(raw.NationalID.Expiry)
		if !ok {
			return verification.StepSubmission{}, false
		}
		sub.NationalID = &verification.IDFields{
			Name:      raw.NationalID.Name,
			Number:    raw.NationalID.Number,
			BirthDate: birth,
			Expiry:    expiry,
		}
	}
	if raw.Address != nil {
		sub.Address = &verification.AddressFields{Address: raw.Address.Address}
	}

	for _, name := range []string{"front", "back", "proof"} {
		fh, err := c.FormFile(name)
		if err != nil {
			continue
		}
		data, err := readUpload(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Could not read uploaded file"})
			return verification.StepSubmission{}, false
		}
		sub.Files = append(sub.Files, verification.File{Name: fh.Filename, Data: data})
	}

	return sub, true
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxDocumentBytes))
}

var stepErrorCodes = map[error]struct {
	status int
	code   string
}{
	verification.ErrTokenNotFound:              {http.StatusNotFound, "TOKEN_NOT_FOUND"},
	verification.ErrTokenExpired:               {http.StatusGone, "TOKEN_EXPIRED"},
	verification.ErrTokenConsumed:              {http.StatusConflict, "ALREADY_CONSUMED"},
	verification.ErrUnknownStep:                {http.StatusBadRequest, "UNKNOWN_STEP"},
	verification.ErrStepOrder:                  {http.StatusUnprocessableEntity, "STEP_ORDER"},
	verification.ErrMissingField:               {http.StatusUnprocessableEntity, "MISSING_FIELD"},
	verification.ErrMissingDocument:            {http.StatusUnprocessableEntity, "MISSING_DOCUMENT"},
	verification.ErrLicenseExpiresBeforeReturn: {http.StatusUnprocessableEntity, "LICENSE_EXPIRES_BEFORE_RETURN"},
	verification.ErrUnderMinimumAge:            {http.StatusUnprocessableEntity, "UNDER_MINIMUM_AGE"},
	verification.ErrInsufficientExperience:     {http.StatusUnprocessableEntity, "INSUFFICIENT_EXPERIENCE"},
	verification.ErrCategoryMismatch:           {http.StatusUnprocessableEntity, "CATEGORY_MISMATCH"},
	verification.ErrIdentityMismatch:           {http.StatusUnprocessableEntity, "IDENTITY_MISMATCH"},
}

func (a *API) verificationError(c *gin.Context, logger *slog.Logger, err error) {
	for sentinel, m := range stepErrorCodes {
		if errors.Is(err, sentinel) {
			c.JSON(m.status, gin.H{"code": m.code, "message": err.Error()})
			return
		}
	}
	if errors.Is(err, verification.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "Verification profile not found"})
		return
	}
	var gerr *booking.GuardError
	if errors.As(err, &gerr) {
		c.JSON(http.StatusConflict, gin.H{"code": gerr.Code, "message": gerr.Message})
		return
	}
	logger.ErrorContext(c, "verification step failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
