package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/langchou/garagebook/internal/state"
)

// Notifier 派发状态机产生的通知
type Notifier interface {
	Notify(ctx context.Context, t *state.Transition)
}

// Broadcaster 实时推送
type Broadcaster interface {
	BroadcastBookingEvent(event any)
}

// BookingEvent 推送给 WebSocket 客户端的预约事件
type BookingEvent struct {
	Reference     string               `json:"reference"`
	Event         string               `json:"event,omitempty"`
	From          string               `json:"from"`
	To            string               `json:"to"`
	ResourceID    string               `json:"resource_id"`
	Notifications []state.Notification `json:"notifications"`
}

// Dispatcher 记录通知并通过 WebSocket 广播；邮件发送由外部订阅方负责
type Dispatcher struct {
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewDispatcher 创建通知派发器，broadcaster 可为 nil
func NewDispatcher(broadcaster Broadcaster, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{broadcaster: broadcaster, logger: logger}
}

// Notify 派发通知
func (d *Dispatcher) Notify(_ context.Context, t *state.Transition) {
	for _, n := range t.Notifications {
		d.logger.Info("Booking notification",
			zap.String("reference", t.Booking.Reference),
			zap.String("notification", string(n)),
			zap.String("state", string(t.To)))
	}

	if d.broadcaster != nil {
		d.broadcaster.BroadcastBookingEvent(BookingEvent{
			Reference:     t.Booking.Reference,
			Event:         t.Event,
			From:          string(t.From),
			To:            string(t.To),
			ResourceID:    t.Booking.Slot.ResourceID,
			Notifications: t.Notifications,
		})
	}
}
