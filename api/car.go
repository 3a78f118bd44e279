package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roadsterhq/rentalengine-backend/car"
	"github.com/roadsterhq/rentalengine-backend/internal/middleware"
)

type carResponse struct {
	ID                      uuid.UUID  `json:"id"`
	Brand                   string     `json:"brand"`
	Model                   string     `json:"model"`
	Plate                   string     `json:"plate"`
	PricePerDayCents        int64      `json:"pricePerDayCents"`
	DepositCents            int64      `json:"depositCents"`
	DailyKmLimit            int        `json:"dailyKmLimit"`
	ExtraKmChargeCents      int64      `json:"extraKmChargeCents"`
	RequiredLicenseCategory string     `json:"requiredLicenseCategory"`
	CurrentOdometer         int64      `json:"currentOdometer"`
	Status                  car.Status `json:"status"`
	ImageURL                string     `json:"imageUrl,omitempty"`
}

func toCarResponse(cr car.Car) carResponse {
	resp := carResponse{
		ID:                      cr.ID,
		Brand:                   cr.Brand,
		Model:                   cr.Model,
		Plate:                   cr.Plate,
		PricePerDayCents:        cr.PricePerDayCents,
		DepositCents:            cr.DepositCents,
		DailyKmLimit:            cr.DailyKmLimit,
		ExtraKmChargeCents:      cr.ExtraKmChargeCents,
		RequiredLicenseCategory: cr.RequiredLicenseCategory,
		CurrentOdometer:         cr.CurrentOdometer,
		Status:                  cr.Status,
	}
	if cr.ImageURL != nil {
		resp.ImageURL = *cr.ImageURL
	}
	return resp
}

func (a *API) carsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	cars, err := a.cars.GetCars(c)
	if err != nil {
		logger.ErrorContext(c, "failed to get cars", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	responses := make([]carResponse, 0, len(cars))
	for _, cr := range cars {
		responses = append(responses, toCarResponse(cr))
	}
	c.JSON(http.StatusOK, responses)
}

func (a *API) carHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid car ID"})
		return
	}

	cr, err := a.cars.GetCar(c, id)
	if errors.Is(err, car.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "Car not found"})
		return
	}
	if err != nil {
		logger.ErrorContext(c, "failed to get car", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, toCarResponse(cr))
}

func (a *API) availabilityHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid car ID"})
		return
	}

	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid start format"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid end format"})
		return
	}
	if !end.After(start) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_DURATION", "message": "end must be after start"})
		return
	}

	avail, err := a.bookings.CheckAvailability(c, id, start.UTC(), end.UTC(), time.Now().UTC())
	if err != nil {
		logger.ErrorContext(c, "failed to check availability", "carId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, avail)
}

type setCarStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (a *API) setCarStatusHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid car ID"})
		return
	}

	var req setCarStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	var status car.Status
	switch req.Status {
	case "available":
		status = car.Available
	case "unavailable":
		status = car.Unavailable
	case "maintenance":
		status = car.Maintenance
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Unknown car status"})
		return
	}

	if err := a.cars.SetStatus(c, id, status); err != nil {
		if errors.Is(err, car.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "Car not found"})
			return
		}
		logger.ErrorContext(c, "failed to set car status", "carId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// settlementsHandler lists post-trip charges for one booking.
func (a *API) settlementsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	id, err := uuid.Parse(c.Param("bookingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid booking ID"})
		return
	}

	settlements, err := a.bookings.GetSettlements(c, id)
	if err != nil {
		logger.ErrorContext(c, "failed to get settlements", "bookingId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	responses := make([]gin.H, 0, len(settlements))
	for _, s := range settlements {
		responses = append(responses, gin.H{
			"id":          s.ID,
			"kind":        s.Kind,
			"excessKm":    s.ExcessKm,
			"amountCents": s.AmountCents,
			"createdAt":   s.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, responses)
}
