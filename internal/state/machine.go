// Package state 预约状态机；只计算转换与待派发的通知，不执行任何副作用
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/langchou/garagebook/internal/models"
)

// 事件常量
const (
	EventConfirmPayment = "confirm_payment"
	EventComplete       = "complete"
	EventExpire         = "expire"
	EventCancel         = "cancel"
)

// Notification 交由调用方派发的外部动作
type Notification string

const (
	NotifyAwaitPayment     Notification = "await_payment"
	NotifyHoldSlot         Notification = "hold_slot"
	NotifySendConfirmation Notification = "send_confirmation"
	NotifyReleaseSlot      Notification = "release_slot"
	NotifySendCancellation Notification = "send_cancellation"
	NotifySendExpiryNotice Notification = "send_expiry_notice"
	NotifyRequestFeedback  Notification = "request_feedback"
)

var notifications = map[string][]Notification{
	EventConfirmPayment: {NotifySendConfirmation},
	EventComplete:       {NotifyRequestFeedback},
	EventExpire:         {NotifyReleaseSlot, NotifySendExpiryNotice},
	EventCancel:         {NotifyReleaseSlot, NotifySendCancellation},
}

// Input 事件参数
type Input struct {
	Now     time.Time
	Payment *models.PaymentConfirmation // 仅 confirm_payment 使用
}

// Transition 一次转换的结果
type Transition struct {
	Event         string              `json:"event"`
	From          models.BookingState `json:"from"`
	To            models.BookingState `json:"to"`
	Booking       models.Booking      `json:"booking"`
	Notifications []Notification      `json:"notifications"`
}

// Changed 状态是否发生变化
func (t *Transition) Changed() bool {
	return t.From != t.To
}

// Open 新建预约时的通知
func Open(b models.Booking) *Transition {
	return &Transition{
		From:          b.State,
		To:            b.State,
		Booking:       b,
		Notifications: []Notification{NotifyAwaitPayment, NotifyHoldSlot},
	}
}

// Machine 单个预约的状态机
type Machine struct {
	mu       sync.Mutex
	booking  models.Booking
	fsm      *fsm.FSM
	input    Input
	guardErr error
}

// NewMachine 以预约当前状态创建状态机
func NewMachine(b models.Booking) *Machine {
	m := &Machine{booking: b}

	m.fsm = fsm.NewFSM(
		string(b.State),
		fsm.Events{
			{Name: EventConfirmPayment, Src: []string{string(models.StatePendingPayment)}, Dst: string(models.StateConfirmed)},
			{Name: EventComplete, Src: []string{string(models.StateConfirmed)}, Dst: string(models.StateCompleted)},
			{Name: EventExpire, Src: []string{string(models.StatePendingPayment)}, Dst: string(models.StateExpired)},
			{Name: EventCancel, Src: []string{string(models.StatePendingPayment), string(models.StateConfirmed)}, Dst: string(models.StateCancelled)},
		},
		fsm.Callbacks{
			"before_event": func(_ context.Context, e *fsm.Event) {
				if err := m.guard(e.Event); err != nil {
					m.guardErr = err
					e.Cancel(err)
				}
			},
		},
	)
	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() models.BookingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.BookingState(m.fsm.Current())
}

// Booking 获取预约副本
func (m *Machine) Booking() models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.booking
}

// CanTransition 检查事件在当前状态是否合法（不含守卫条件）
func (m *Machine) CanTransition(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Can(event)
}

// Trigger 触发事件；失败时状态保持不变
func (m *Machine) Trigger(event string, in Input) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.booking.State

	// 已确认预约重复收到成功支付，视为无操作
	if event == EventConfirmPayment && from == models.StateConfirmed && in.Payment != nil && in.Payment.Success {
		return &Transition{Event: event, From: from, To: from, Booking: m.booking, Notifications: []Notification{}}, nil
	}

	m.input = in
	m.guardErr = nil
	if err := m.fsm.Event(context.Background(), event); err != nil {
		if m.guardErr != nil {
			return nil, m.guardErr
		}
		return nil, &models.InvalidTransitionError{Reference: m.booking.Reference, From: from, Event: event}
	}

	m.booking.State = models.BookingState(m.fsm.Current())
	m.booking.UpdatedAt = in.Now
	if event == EventConfirmPayment && in.Payment.PaymentReference != "" {
		m.booking.PaymentReference = in.Payment.PaymentReference
	}

	return &Transition{
		Event:         event,
		From:          from,
		To:            m.booking.State,
		Booking:       m.booking,
		Notifications: append([]Notification(nil), notifications[event]...),
	}, nil
}

// guard 转换前置条件
func (m *Machine) guard(event string) error {
	b := &m.booking
	now := m.input.Now

	switch event {
	case EventConfirmPayment:
		p := m.input.Payment
		if p == nil || !p.Success {
			return fmt.Errorf("booking %s: %w", b.Reference, models.ErrPaymentFailed)
		}
		if p.AmountPence != b.TotalPence {
			return fmt.Errorf("booking %s: paid %d, total %d: %w", b.Reference, p.AmountPence, b.TotalPence, models.ErrPaymentMismatch)
		}
		if !now.Before(b.HoldExpiresAt) {
			return fmt.Errorf("booking %s: hold expired at %s: %w", b.Reference, b.HoldExpiresAt.Format(time.RFC3339), models.ErrHoldElapsed)
		}
	case EventComplete:
		if now.Before(b.Slot.End) {
			return fmt.Errorf("booking %s: appointment ends %s: %w", b.Reference, b.Slot.End.Format(time.RFC3339), models.ErrAppointmentPending)
		}
	case EventExpire:
		if now.Before(b.HoldExpiresAt) {
			return fmt.Errorf("booking %s: hold until %s: %w", b.Reference, b.HoldExpiresAt.Format(time.RFC3339), models.ErrHoldActive)
		}
	}
	return nil
}

// Apply 对预约应用单个事件
func Apply(b models.Booking, event string, in Input) (*Transition, error) {
	return NewMachine(b).Trigger(event, in)
}
