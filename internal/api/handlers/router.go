package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/garagebook/internal/metrics"
	"github.com/langchou/garagebook/internal/pricing"
	"github.com/langchou/garagebook/internal/scheduler"
	"github.com/langchou/garagebook/internal/service"
	"github.com/langchou/garagebook/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger         *zap.Logger
	vehicleService *service.VehicleService
	bookingService *service.BookingService
	pricing        *pricing.Engine
	scheduler      *scheduler.Scheduler
	tally          *metrics.Tally
	wsHub          *ws.Hub
	upgrader       websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	vehicleService *service.VehicleService,
	bookingService *service.BookingService,
	engine *pricing.Engine,
	sched *scheduler.Scheduler,
	tally *metrics.Tally,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:         logger,
		vehicleService: vehicleService,
		bookingService: bookingService,
		pricing:        engine,
		scheduler:      sched,
		tally:          tally,
		wsHub:          wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 车辆
		api.GET("/vehicles/:registration", h.LookupVehicle)
		api.DELETE("/vehicles/:registration/cache", h.InvalidateVehicle)

		// 服务与报价
		api.GET("/services", h.ListServices)
		api.GET("/quotes", h.GetQuote)

		// 排期与预约
		api.GET("/slots", h.FindSlots)
		api.POST("/bookings", h.CreateBooking)
		api.GET("/bookings/:reference", h.GetBooking)
		api.POST("/bookings/:reference/events", h.TransitionBooking)
		api.POST("/payments/confirmation", h.ConfirmPayment)

		// 上游连通性
		api.GET("/connections", h.TestConnections)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	if !client.Register() {
		conn.Close()
		return
	}

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
