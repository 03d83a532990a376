package handlers

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/langchou/garagebook/internal/models"
)

// ListServices 服务目录
// GET /api/services
func (h *Handler) ListServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.pricing.Services()})
}

// GetQuote 报价
// GET /api/quotes?service_id=full_service&fuel_type=petrol&engine_cc=1400
// 提供 registration 而不提供 fuel_type 时从车辆档案读取燃料与排量
func (h *Handler) GetQuote(c *gin.Context) {
	serviceID := c.Query("service_id")
	if serviceID == "" {
		h.respondError(c, &models.InputError{Field: "service_id", Reason: "required"})
		return
	}

	fuel := models.FuelType(c.Query("fuel_type"))
	var engineCC *int
	if raw := c.Query("engine_cc"); raw != "" {
		cc, err := strconv.Atoi(raw)
		if err != nil || cc < 0 {
			h.respondError(c, &models.InputError{Field: "engine_cc", Value: raw, Reason: "not a non-negative integer"})
			return
		}
		engineCC = &cc
	}

	if reg := c.Query("registration"); reg != "" && fuel == "" {
		profile, err := h.vehicleService.Lookup(c.Request.Context(), reg, false)
		if err != nil {
			h.respondError(c, err)
			return
		}
		fuel = profile.FuelType
		if engineCC == nil {
			engineCC = profile.EngineCC
		}
	}
	if fuel == "" {
		fuel = models.FuelUnknown
	}

	q, err := h.pricing.Quote(serviceID, fuel, engineCC)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": q})
}

// FindSlots 可用时段
// GET /api/slots?date=2025-06-02&service_id=mot_test,brake_check
// GET /api/slots?date=2025-06-02&duration_minutes=45&resource_class=service
func (h *Handler) FindSlots(c *gin.Context) {
	rawDate := c.Query("date")
	date, err := time.ParseInLocation(time.DateOnly, rawDate, h.scheduler.Location())
	if err != nil {
		h.respondError(c, &models.InputError{Field: "date", Value: rawDate, Reason: "want YYYY-MM-DD"})
		return
	}

	duration := 0
	class := c.Query("resource_class")
	if ids := c.Query("service_id"); ids != "" {
		plan, err := h.bookingService.PlanServices(strings.Split(ids, ","))
		if err != nil {
			h.respondError(c, err)
			return
		}
		duration = plan.DurationMinutes
		if class == "" {
			class = plan.ResourceClass
		}
	}
	if raw := c.Query("duration_minutes"); raw != "" {
		if duration, err = strconv.Atoi(raw); err != nil {
			h.respondError(c, &models.InputError{Field: "duration_minutes", Value: raw, Reason: "not an integer"})
			return
		}
	}
	if class == "" {
		class = models.ResourceService
	}

	slots, err := h.scheduler.FindAvailableSlots(c.Request.Context(), date, duration, class)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := slices.Collect(slots)
	if out == nil {
		out = []models.Slot{}
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// CreateBooking 创建待支付预约
// POST /api/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	var draft models.BookingDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		h.respondError(c, &models.InputError{Field: "body", Reason: err.Error()})
		return
	}

	b, err := h.bookingService.Create(c.Request.Context(), draft)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": b})
}

// GetBooking 查询预约
// GET /api/bookings/:reference
func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.bookingService.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": b})
}

type eventRequest struct {
	Event string `json:"event" binding:"required"`
}

// TransitionBooking 触发预约事件
// POST /api/bookings/:reference/events {"event": "cancel"}
func (h *Handler) TransitionBooking(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, &models.InputError{Field: "event", Reason: err.Error()})
		return
	}

	t, err := h.bookingService.Transition(c.Request.Context(), c.Param("reference"), req.Event, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": t})
}

// ConfirmPayment 支付确认回调
// POST /api/payments/confirmation {"booking_reference": "GB-...", "amount": 24500, "success": true}
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var pc models.PaymentConfirmation
	if err := c.ShouldBindJSON(&pc); err != nil {
		h.respondError(c, &models.InputError{Field: "body", Reason: err.Error()})
		return
	}
	if pc.BookingReference == "" {
		h.respondError(c, &models.InputError{Field: "booking_reference", Reason: "required"})
		return
	}

	t, err := h.bookingService.ConfirmPayment(c.Request.Context(), pc)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": t})
}
