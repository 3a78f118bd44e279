package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roadsterhq/rentalengine-backend/booking"
	"github.com/roadsterhq/rentalengine-backend/car"
	"github.com/roadsterhq/rentalengine-backend/internal/auth0"
	"github.com/roadsterhq/rentalengine-backend/internal/middleware"
	"github.com/roadsterhq/rentalengine-backend/internal/o11y"
	"github.com/roadsterhq/rentalengine-backend/platform"
	"github.com/roadsterhq/rentalengine-backend/renter"
	"github.com/roadsterhq/rentalengine-backend/verification"
)

type Config struct {
	Auth0Domain     string
	Audience        string
	MetricsUsername string
	MetricsPassword string
}

type API struct {
	r *gin.Engine

	cars     *car.Repository
	renters  *renter.Repository
	bookings *booking.Repository
	ver      *verification.Repository
	settings *platform.Repository

	svc  *booking.Service
	wf   *verification.Workflow
	auth auth0.Client
	obs  *o11y.Observability
}

func New(cars *car.Repository, renters *renter.Repository, bookings *booking.Repository,
	ver *verification.Repository, settings *platform.Repository,
	svc *booking.Service, wf *verification.Workflow,
	auth auth0.Client, obs *o11y.Observability, cfg Config) (*API, error) {

	a := &API{
		r:        gin.New(),
		cars:     cars,
		renters:  renters,
		bookings: bookings,
		ver:      ver,
		settings: settings,
		svc:      svc,
		wf:       wf,
		auth:     auth,
		obs:      obs,
	}

	a.r.Use(gin.Recovery())
	a.r.Use(middleware.Tracing())
	a.r.Use(middleware.Logging(obs.Logger))
	a.r.Use(middleware.Metrics(obs.Registry))

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	a.r.GET("/metrics", gin.BasicAuth(gin.Accounts{cfg.MetricsUsername: cfg.MetricsPassword}),
		gin.WrapH(promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{})))

	// Token-authenticated self-service verification flow: the opaque
	// token is the credential, no JWT involved.
	a.r.GET("/verify/:token", a.tokenStatusHandler)
	a.r.POST("/verify/:token/ocr", a.ocrPrefillHandler)
	a.r.POST("/verify/:token/steps", a.submitStepHandler)

	jwt, err := middleware.EnsureValidToken(cfg.Auth0Domain, cfg.Audience)
	if err != nil {
		return nil, err
	}

	protected := a.r.Group("/", jwt)
	{
		protected.GET("/cars", a.carsHandler)
		protected.GET("/cars/:id", a.carHandler)
		protected.GET("/cars/:id/availability", a.availabilityHandler)

		protected.GET("/me", a.meHandler)
		protected.PUT("/me/profile", a.updateProfileHandler)

		protected.POST("/bookings", a.createBookingHandler)
		protected.GET("/bookings", a.getBookingsHandler)
		protected.GET("/bookings/current", a.getCurrentBookingHandler)
		protected.GET("/bookings/:bookingId", a.getBookingHandler)
		protected.POST("/bookings/:bookingId/verification-link", a.verificationLinkHandler)
		protected.POST("/bookings/:bookingId/checkout", a.checkoutHandler)
		protected.POST("/bookings/:bookingId/payment-update", a.paymentUpdateHandler)
		protected.GET("/bookings/:bookingId/cancellation-eligibility", a.cancellationEligibilityHandler)
		protected.POST("/bookings/:bookingId/cancel", a.cancelBookingHandler)
	}

	admin := a.r.Group("/admin", jwt, middleware.RequireAdmin())
	{
		admin.POST("/bookings", a.adminCreateBookingHandler)
		admin.POST("/bookings/:bookingId/start", a.startTripHandler)
		admin.POST("/bookings/:bookingId/complete", a.completeTripHandler)
		admin.POST("/bookings/:bookingId/cancel", a.adminCancelBookingHandler)
		admin.POST("/bookings/:bookingId/documents", a.walkInDocumentsHandler)
		admin.GET("/bookings/:bookingId/settlements", a.settlementsHandler)
		admin.POST("/profiles/:profileId/approve", a.approveProfileHandler)
		admin.POST("/profiles/:profileId/reject", a.rejectProfileHandler)
		admin.GET("/refund-followups", a.refundFollowupsHandler)
		admin.PUT("/cars/:id/status", a.setCarStatusHandler)
		admin.PUT("/settings", a.updateSettingsHandler)
	}

	return a, nil
}

func (a *API) Router() *gin.Engine {
	return a.r
}

// currentRenter resolves (and lazily provisions) the renter bound to
// the request's subject.
func (a *API) currentRenter(c *gin.Context) (*renter.Renter, bool) {
	userID, ok := middleware.GetAuth0ID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "Authentication required"})
		return nil, false
	}

	rn, err := a.renters.GetByAuth0ID(c, userID)
	if err == nil {
		return rn, true
	}
	if err != renter.ErrNotFound {
		middleware.GetLogger(c).ErrorContext(c, "failed to get renter", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}

	rn, err = a.renters.Create(c, userID)
	if err != nil {
		middleware.GetLogger(c).ErrorContext(c, "failed to create renter", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return rn, true
}
