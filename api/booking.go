package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roadsterhq/rentalengine-backend/booking"
	"github.com/roadsterhq/rentalengine-backend/car"
	"github.com/roadsterhq/rentalengine-backend/internal/middleware"
	"github.com/roadsterhq/rentalengine-backend/verification"
)

type bookingResponse struct {
	ID               uuid.UUID           `json:"id"`
	CarID            uuid.UUID           `json:"carId"`
	RenterID         *uuid.UUID          `json:"renterId,omitempty"`
	GuestName        string              `json:"guestName,omitempty"`
	GuestPhone       string              `json:"guestPhone,omitempty"`
	Type             booking.BookingType `json:"type"`
	Status           booking.Status      `json:"status"`
	StartTime        time.Time           `json:"startTime"`
	EndTime          time.Time           `json:"endTime"`
	BasePriceCents   int64               `json:"basePriceCents"`
	TaxCents         int64               `json:"taxCents"`
	YoungDriverCents int64               `json:"youngDriverCents"`
	TotalCents       int64               `json:"totalCents"`
	DepositCents     int64               `json:"depositCents"`
	IsWalkIn         bool                `json:"isWalkIn"`
	StartOdometer    *int64              `json:"startOdometer,omitempty"`
	EndOdometer      *int64              `json:"endOdometer,omitempty"`
	CancelReason     string              `json:"cancelReason,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
}

func toBookingResponse(b booking.Booking) bookingResponse {
	resp := bookingResponse{
		ID:               b.ID,
		CarID:            b.CarID,
		Type:             b.Type,
		Status:           b.Status,
		StartTime:        b.StartTime,
		EndTime:          b.EndTime,
		BasePriceCents:   b.BasePriceCents,
		TaxCents:         b.TaxCents,
		YoungDriverCents: b.YoungDriverCents,
		TotalCents:       b.TotalCents,
		DepositCents:     b.DepositCents,
		IsWalkIn:         b.IsWalkIn,
		CreatedAt:        b.CreatedAt,
	}
	if b.RenterID.Valid {
		id := b.RenterID.UUID
		resp.RenterID = &id
	}
	if b.GuestName.Valid {
		resp.GuestName = b.GuestName.String
	}
	if b.GuestPhone.Valid {
		resp.GuestPhone = b.GuestPhone.String
	}
	if b.StartOdometer.Valid {
		v := b.StartOdometer.Int64
		resp.StartOdometer = &v
	}
	if b.EndOdometer.Valid {
		v := b.EndOdometer.Int64
		resp.EndOdometer = &v
	}
	if b.CancelReason.Valid {
		resp.CancelReason = b.CancelReason.String
	}
	return resp
}

type createBookingRequest struct {
	CarID     string `json:"carId" binding:"required"`
	StartTime string `json:"startTime" binding:"required"`
	EndTime   string `json:"endTime" binding:"required"`
}

func (a *API) createBookingHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	rn, ok := a.currentRenter(c)
	if !ok {
		return
	}

	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	carID, err := uuid.Parse(req.CarID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid carId"})
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid startTime format"})
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid endTime format"})
		return
	}

	res, err := a.svc.Create(c, booking.CreateInput{
		CarID:    carID,
		RenterID: uuid.NullUUID{UUID: rn.ID, Valid: true},
		Start:    start,
		End:      end,
		Type:     booking.TypeRental,
	})
	if err != nil {
		a.bookingError(c, logger, err, "failed to create booking")
		return
	}

	resp := gin.H{"booking": toBookingResponse(res.Booking)}
	if res.Token != nil {
		resp["verificationToken"] = res.Token.Token
		resp["verificationExpiresAt"] = res.Token.ExpiresAt
	}
	c.JSON(http.StatusCreated, resp)
}

func (a *API) getBookingsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	rn, ok := a.currentRenter(c)
	if !ok {
		return
	}

	var statusPtr *booking.Status
	if s := c.Query("status"); s != "" {
		status := booking.Status(s)
		statusPtr = &status
	}

	bookings, err := a.bookings.GetByRenter(c, rn.ID, statusPtr)
	if err != nil {
		logger.ErrorContext(c, "failed to get bookings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	responses := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		responses = append(responses, toBookingResponse(b))
	}
	c.JSON(http.StatusOK, responses)
}

func (a *API) getCurrentBookingHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	rn, ok := a.currentRenter(c)
	if !ok {
		return
	}

	b, err := a.bookings.GetCurrentByRenter(c, rn.ID)
	if err != nil {
		logger.ErrorContext(c, "failed to get current booking", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if b == nil {
		c.JSON(http.StatusOK, gin.H{"booking": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": toBookingResponse(*b)})
}

func (a *API) getBookingHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	b, ok := a.ownedBooking(c)
	if !ok {
		return
	}

	resp := gin.H{"booking": toBookingResponse(b)}
	if p, err := a.bookings.GetPayment(c, b.ID); err == nil {
		resp["payment"] = gin.H{
			"status":      p.Status,
			"amountCents": p.AmountCents,
			"providerRef": p.ProviderRef,
		}
	} else if !errors.Is(err, booking.ErrPaymentMissing) {
		logger.ErrorContext(c, "failed to get payment", "error", err)
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) verificationLinkHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	b, ok := a.ownedBooking(c)
	if !ok {
		return
	}

	token, url, err := a.svc.VerificationLink(c, b.ID)
	if err != nil {
		a.bookingError(c, logger, err, "failed to issue verification link")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token.Token,
		"url":       url,
		"expiresAt": token.ExpiresAt,
	})
}

func (a *API) checkoutHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	b, ok := a.ownedBooking(c)
	if !ok {
		return
	}

	session, err := a.svc.CreateCheckout(c, b.ID)
	if err != nil {
		a.bookingError(c, logger, err, "failed to create checkout session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": session.URL})
}

func (a *API) paymentUpdateHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	b, ok := a.ownedBooking(c)
	if !ok {
		return
	}

	updated, err := a.svc.HandlePaymentUpdate(c, b.ID)
	if err != nil {
		a.bookingError(c, logger, err, "failed to handle payment update")
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": toBookingResponse(updated)})
}

func (a *API) cancellationEligibilityHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	b, ok := a.ownedBooking(c)
	if !ok {
		return
	}

	eligible, code, err := a.svc.CancellationEligibility(c, b.ID, booking.RoleRenter)
	if err != nil {
		a.bookingError(c, logger, err, "failed to check cancellation eligibility")
		return
	}
	resp := gin.H{"eligible": eligible}
	if code != "" {
		resp["reason"] = code
	}
	c.JSON(http.StatusOK, resp)
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

func (a *API) cancelBookingHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	b, ok := a.ownedBooking(c)
	if !ok {
		return
	}

	var req cancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	cancelled, err := a.svc.Cancel(c, b.ID, booking.RoleRenter, req.Reason)
	if err != nil {
		a.bookingError(c, logger, err, "failed to cancel booking")
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": toBookingResponse(cancelled)})
}

// ownedBooking loads the path booking and enforces that the caller
// owns it. Admin routes do their own loading and skip this check.
func (a *API) ownedBooking(c *gin.Context) (booking.Booking, bool) {
	logger := middleware.GetLogger(c)

	rn, ok := a.currentRenter(c)
	if !ok {
		return booking.Booking{}, false
	}

	id, err := uuid.Parse(c.Param("bookingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid booking ID"})
		return booking.Booking{}, false
	}

	b, err := a.bookings.GetByID(c, id)
	if errors.Is(err, booking.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "Booking not found"})
		return booking.Booking{}, false
	}
	if err != nil {
		logger.ErrorContext(c, "failed to get booking", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return booking.Booking{}, false
	}

	if !b.RenterID.Valid || b.RenterID.UUID != rn.ID {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "Booking not found"})
		return booking.Booking{}, false
	}
	return b, true
}

// bookingError maps domain errors onto the wire. Guard violations keep
// their code as a 409; everything unexpected is a 500.
func (a *API) bookingError(c *gin.Context, logger *slog.Logger, err error, logMsg string) {
	var gerr *booking.GuardError
	if errors.As(err, &gerr) {
		c.JSON(http.StatusConflict, gin.H{"code": gerr.Code, "message": gerr.Message})
		return
	}
	switch {
	case errors.Is(err, booking.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "Booking not found"})
	case errors.Is(err, booking.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_DURATION", "message": err.Error()})
	case errors.Is(err, booking.ErrPaymentMissing):
		c.JSON(http.StatusConflict, gin.H{"code": "ERR_PAYMENT_MISSING", "message": "No payment recorded for this booking"})
	case errors.Is(err, car.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "Car not found"})
	case errors.Is(err, car.ErrNotAvailable):
		c.JSON(http.StatusConflict, gin.H{"code": "CAR_NOT_AVAILABLE", "message": "Car is not available for rental"})
	case errors.Is(err, car.ErrOdometerBack):
		c.JSON(http.StatusConflict, gin.H{"code": "ERR_ODOMETER_BACKWARD", "message": "Odometer reading is below the car's current value"})
	case errors.Is(err, verification.ErrTokenNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "TOKEN_NOT_FOUND", "message": "Verification token not found"})
	default:
		logger.ErrorContext(c, logMsg, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
