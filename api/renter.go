package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/roadsterhq/rentalengine-backend/internal/middleware"
	"github.com/roadsterhq/rentalengine-backend/renter"
)

type renterResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	BirthDate string    `json:"birthDate,omitempty"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

func toRenterResponse(rn *renter.Renter) renterResponse {
	resp := renterResponse{
		ID:        rn.ID,
		IsAdmin:   rn.IsAdmin,
		CreatedAt: rn.CreatedAt,
	}
	if rn.Email.Valid {
		resp.Email = rn.Email.String
	}
	if rn.Name.Valid {
		resp.Name = rn.Name.String
	}
	if rn.BirthDate.Valid {
		resp.BirthDate = rn.BirthDate.Time.Format("2006-01-02")
	}
	return resp
}

func (a *API) meHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	rn, ok := a.currentRenter(c)
	if !ok {
		return
	}

	// First sight of a renter with no profile: pull what the identity
	// provider knows and store it.
	if !rn.Email.Valid {
		if token := bearerToken(c); token != "" {
			info, err := a.auth.GetUserInfo(c, token)
			if err != nil {
				logger.WarnContext(c, "failed to fetch user info", "error", err)
			} else {
				err = a.renters.UpdateProfile(c, rn.Auth0ID, info.Email, info.Name, info.BirthdateTime())
				if err != nil {
					logger.ErrorContext(c, "failed to sync renter profile", "error", err)
				} else if synced, err := a.renters.GetByAuth0ID(c, rn.Auth0ID); err == nil {
					rn = synced
				}
			}
		}
	}

	c.JSON(http.StatusOK, toRenterResponse(rn))
}

type updateProfileRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	BirthDate string `json:"birthDate"`
}

func (a *API) updateProfileHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	rn, ok := a.currentRenter(c)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	var birthDate *time.Time
	if req.BirthDate != "" {
		t, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "Invalid birthDate format"})
			return
		}
		birthDate = &t
	}

	if err := a.renters.UpdateProfile(c, rn.Auth0ID, req.Email, req.Name, birthDate); err != nil {
		logger.ErrorContext(c, "failed to update profile", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	updated, err := a.renters.GetByAuth0ID(c, rn.Auth0ID)
	if err != nil {
		logger.ErrorContext(c, "failed to reload renter", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, toRenterResponse(updated))
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}
