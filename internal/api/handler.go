package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"inventory-service/internal/service"
	"inventory-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	reservations *service.ReservationService
	catalog      *service.CatalogService
	reporter     *service.Reporter
}

// NewHandler creates a new HTTP handler
func NewHandler(
	reservations *service.ReservationService,
	catalog *service.CatalogService,
	reporter *service.Reporter,
) *Handler {
	return &Handler{
		reservations: reservations,
		catalog:      catalog,
		reporter:     reporter,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/skus", h.registerSKU)
		v1.GET("/skus", h.listSKUs)
		v1.GET("/skus/:id", h.getSKU)

		v1.POST("/holds", h.createHold)
		v1.POST("/allocations", h.createAllocation)
		v1.GET("/reservations/:id", h.getReservation)
		v1.POST("/reservations/:id/convert", h.convertReservation)
		v1.POST("/reservations/:id/release", h.releaseReservation)

		v1.GET("/availability", h.getAvailability)
		v1.GET("/consistency", h.checkConsistency)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// registerSKU handles SKU registration
func (h *Handler) registerSKU(c *gin.Context) {
	var req service.RegisterSKURequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	sku, err := h.catalog.RegisterSKU(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sku)
}

// listSKUs handles SKU listing
func (h *Handler) listSKUs(c *gin.Context) {
	skus, err := h.catalog.ListSKUs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"skus": skus})
}

// getSKU handles SKU lookup by ID
func (h *Handler) getSKU(c *gin.Context) {
	sku, err := h.catalog.GetSKU(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sku)
}

// createHold handles hold creation
func (h *Handler) createHold(c *gin.Context) {
	var req service.HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.ClientToken == "" {
		req.ClientToken = c.GetHeader("Idempotency-Key")
	}

	reservation, err := h.reservations.CreateHold(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

// createAllocation handles direct allocation
func (h *Handler) createAllocation(c *gin.Context) {
	var req service.AllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.ClientToken == "" {
		req.ClientToken = c.GetHeader("Idempotency-Key")
	}

	reservation, err := h.reservations.CreateAllocation(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

// getReservation handles reservation lookup
func (h *Handler) getReservation(c *gin.Context) {
	reservation, err := h.reservations.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

type transitionRequest struct {
	Strategy string `json:"strategy,omitempty"`
}

// convertReservation handles hold-to-allocation conversion
func (h *Handler) convertReservation(c *gin.Context) {
	var req transitionRequest
	_ = c.ShouldBindJSON(&req)

	reservation, err := h.reservations.Convert(c.Request.Context(), c.Param("id"), req.Strategy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

// releaseReservation handles hold release
func (h *Handler) releaseReservation(c *gin.Context) {
	var req transitionRequest
	_ = c.ShouldBindJSON(&req)

	reservation, err := h.reservations.Release(c.Request.Context(), c.Param("id"), req.Strategy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

// getAvailability handles availability snapshots; repeat sku_id to filter
func (h *Handler) getAvailability(c *gin.Context) {
	skuIDs := c.QueryArray("sku_id")

	availability, err := h.reporter.Availability(c.Request.Context(), skuIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"availability": availability})
}

// checkConsistency handles the read-only consistency check
func (h *Handler) checkConsistency(c *gin.Context) {
	report, err := h.reporter.CheckConsistency(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// respondError maps the service error taxonomy to HTTP statuses
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, service.ErrReservationNotFound),
		errors.Is(err, service.ErrSKUNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrDuplicateItem),
		errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, service.ErrUnknownStrategy):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInsufficientInventory),
		errors.Is(err, service.ErrConcurrencyExhausted),
		errors.Is(err, service.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, service.ErrHoldExpired):
		status = http.StatusGone
	case errors.Is(err, service.ErrLockTimeout):
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
