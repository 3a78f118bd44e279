package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roadsterhq/rentalengine-backend/booking"
	"github.com/roadsterhq/rentalengine-backend/car"
	"github.com/roadsterhq/rentalengine-backend/internal/middleware"
	"github.com/roadsterhq/rentalengine-backend/platform"
)

type adminCreateBookingRequest struct {
	CarID      string `json:"carId"`
	Plate      string `json:"plate"`
	RenterID   string `json:"renterId"`
	GuestName  string `json:"guestName"`
	GuestPhone string `json:"guestPhone"`
	StartTime  string `json:"startTime" binding:"required"`
	EndTime    string `json:"endTime" binding:"required"`
	Type       string `json:"type"`
}

// adminCreateBookingHandler covers the counter flows: walk-in rentals
// for guests and courtesy replacement bookings, which skip payment and
// verification entirely. The car is referenced by ID or, as counter
// staff usually do, by its plate.
func (a *API) adminCreateBookingHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req adminCreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	var carID uuid.UUID
	switch {
	case req.CarID != "":
		var err error
		carID, err = uuid.Parse(req.CarID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid carId"})
			return
		}
	case req.Plate != "":
		cr, err := a.cars.GetCarByPlate(c, req.Plate)
		if errors.Is(err, car.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "No car with that plate"})
			return
		}
		if err != nil {
			logger.ErrorContext(c, "failed to look up car by plate", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		carID = cr.ID
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Either carId or plate is required"})
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

	bookingType := booking.TypeRental
	if req.Type != "" {
		switch booking.BookingType(req.Type) {
		case booking.TypeRental, booking.TypeReplacement:
			bookingType = booking.BookingType(req.Type)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Unknown booking type"})
			return
		}
	}

	in := booking.CreateInput{
		CarID:      carID,
		GuestName:  req.GuestName,
		GuestPhone: req.GuestPhone,
		Start:      start,
		End:        end,
		Type:       bookingType,
		IsWalkIn:   true,
	}
	if req.RenterID != "" {
		renterID, err := uuid.Parse(req.RenterID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid renterId"})
			return
		}
		in.RenterID = uuid.NullUUID{UUID: renterID, Valid: true}
	} else if req.GuestName == "" || req.GuestPhone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Guest bookings require guestName and guestPhone"})
		return
	}

	res, err := a.svc.Create(c, in)
	if err != nil {
		a.bookingError(c, logger, err, "failed to create walk-in booking")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"booking": toBookingResponse(res.Booking)})
}

type startTripRequest struct {
	StartOdometer int64  `json:"startOdometer"`
	Notes         string `json:"notes"`
}

func (a *API) startTripHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("bookingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid booking ID"})
		return
	}

	var req startTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	b, err := a.svc.StartTrip(c, id, req.StartOdometer, req.Notes)
	if err != nil {
		a.bookingError(c, logger, err, "failed to start trip")
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": toBookingResponse(b)})
}

type completeTripRequest struct {
	EndOdometer int64  `json:"endOdometer"`
	Notes       string `json:"notes"`
}

func (a *API) completeTripHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("bookingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid booking ID"})
		return
	}

	var req completeTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	res, err := a.svc.CompleteTrip(c, id, req.EndOdometer, req.Notes)
	if err != nil {
		a.bookingError(c, logger, err, "failed to complete trip")
		return
	}

	resp := gin.H{"booking": toBookingResponse(res.Booking)}
	if res.Settlement != nil {
		resp["settlement"] = gin.H{
			"kind":        res.Settlement.Kind,
			"excessKm":    res.Settlement.ExcessKm,
			"amountCents": res.Settlement.AmountCents,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) adminCancelBookingHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("bookingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid booking ID"})
		return
	}

	var req cancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	b, err := a.svc.Cancel(c, id, booking.RoleAdmin, req.Reason)
	if err != nil {
		a.bookingError(c, logger, err, "failed to cancel booking")
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": toBookingResponse(b)})
}

// walkInDocumentsHandler runs the admin-assisted document capture for
// counter bookings. Same step semantics as self-service, no token, and
// completion does not verify the booking on its own.
func (a *API) walkInDocumentsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("bookingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid booking ID"})
		return
	}

	sub, ok := a.bindStepSubmission(c)
	if !ok {
		return
	}

	res, err := a.wf.SubmitWalkInStep(c, id, sub)
	if err != nil {
		a.verificationError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) approveProfileHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("profileId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid profile ID"})
		return
	}

	p, err := a.wf.Approve(c, id)
	if err != nil {
		a.verificationError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profileId": p.ID, "status": p.Status})
}

type rejectProfileRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (a *API) rejectProfileHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("profileId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid profile ID"})
		return
	}

	var req rejectProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	p, err := a.wf.Reject(c, id, req.Reason)
	if err != nil {
		a.verificationError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profileId": p.ID, "status": p.Status})
}

func (a *API) refundFollowupsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	followups, err := a.bookings.ListRefundFollowups(c)
	if err != nil {
		logger.ErrorContext(c, "failed to list refund followups", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	responses := make([]gin.H, 0, len(followups))
	for _, f := range followups {
		responses = append(responses, gin.H{
			"id":          f.ID,
			"bookingId":   f.BookingID,
			"providerRef": f.ProviderRef,
			"reason":      f.Reason,
			"createdAt":   f.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, responses)
}

func (a *API) updateSettingsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var s platform.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	if err := a.settings.Update(c, s); err != nil {
		logger.ErrorContext(c, "failed to update settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, s)
}
