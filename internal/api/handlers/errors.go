package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/garagebook/internal/api/upstream"
	"github.com/langchou/garagebook/internal/models"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// 顺序有意义：非法输入优先于不存在
var errorMappings = []errorMapping{
	{models.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{models.ErrUnknownService, http.StatusNotFound, "unknown_service"},
	{models.ErrVehicleNotFound, http.StatusNotFound, "vehicle_not_found"},
	{models.ErrBookingNotFound, http.StatusNotFound, "booking_not_found"},
	{models.ErrSlotNoLongerAvailable, http.StatusConflict, "slot_no_longer_available"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrConcurrentUpdate, http.StatusConflict, "concurrent_update"},
	{models.ErrHoldElapsed, http.StatusConflict, "hold_elapsed"},
	{models.ErrPaymentFailed, http.StatusUnprocessableEntity, "payment_failed"},
	{models.ErrPaymentMismatch, http.StatusUnprocessableEntity, "payment_mismatch"},
	{models.ErrAppointmentPending, http.StatusUnprocessableEntity, "appointment_pending"},
	{models.ErrHoldActive, http.StatusUnprocessableEntity, "hold_active"},
	{models.ErrLookupFailed, http.StatusServiceUnavailable, "lookup_failed"},
	{upstream.ErrUpstreamUnavailable, http.StatusBadGateway, "upstream_unavailable"},
}

// respondError 将领域错误映射为 HTTP 状态码，并附带上下文字段
func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			status, code = m.status, m.code
			break
		}
	}

	body := gin.H{"error": err.Error(), "code": code}

	var inputErr *models.InputError
	if errors.As(err, &inputErr) {
		body["field"] = inputErr.Field
	}
	var slotErr *models.SlotError
	if errors.As(err, &slotErr) {
		if slotErr.ResourceID != "" {
			body["resource_id"] = slotErr.ResourceID
		}
		body["start"] = slotErr.Start.Format(time.RFC3339)
	}
	var transErr *models.InvalidTransitionError
	if errors.As(err, &transErr) {
		body["reference"] = transErr.Reference
		body["state"] = transErr.From
		body["event"] = transErr.Event
	}
	var notFound *models.NotFoundError
	if errors.As(err, &notFound) {
		body["registration"] = notFound.Registration
	}
	var lookupErr *models.LookupError
	if errors.As(err, &lookupErr) {
		body["registration"] = lookupErr.Registration
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		if status == http.StatusInternalServerError {
			body["error"] = "internal error"
		}
	}
	c.JSON(status, body)
}
