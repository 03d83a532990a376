package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// 聚合错误
	ErrVehicleNotFound = errors.New("vehicle not found")
	ErrLookupFailed    = errors.New("vehicle lookup failed")

	// 定价
	ErrUnknownService = errors.New("unknown service")

	// 排期
	ErrSlotNoLongerAvailable = errors.New("slot no longer available")

	// 预约
	ErrBookingNotFound    = errors.New("booking not found")
	ErrInvalidTransition  = errors.New("invalid booking transition")
	ErrHoldElapsed        = errors.New("reservation hold elapsed")
	ErrHoldActive         = errors.New("reservation hold still active")
	ErrPaymentFailed      = errors.New("payment not successful")
	ErrPaymentMismatch    = errors.New("payment amount does not match booking total")
	ErrAppointmentPending = errors.New("appointment has not finished yet")
	ErrConcurrentUpdate   = errors.New("booking changed concurrently")

	// 通用
	ErrInvalidInput = errors.New("invalid input")
)

// LookupError 车辆查询失败，同时携带两路上游错误
type LookupError struct {
	Registration  string
	RegistryErr   error
	InspectionErr error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s: registry: %v; inspection history: %v", e.Registration, e.RegistryErr, e.InspectionErr)
}

func (e *LookupError) Is(target error) bool { return target == ErrLookupFailed }

func (e *LookupError) Unwrap() []error {
	return []error{e.RegistryErr, e.InspectionErr}
}

// NotFoundError 车辆不存在或车牌非法
type NotFoundError struct {
	Registration string
	Err          error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vehicle %s not found: %v", e.Registration, e.Err)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrVehicleNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// InvalidTransitionError 非法状态转换，状态保持不变
type InvalidTransitionError struct {
	Reference string
	From      BookingState
	Event     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("booking %s: event %q not allowed in state %s", e.Reference, e.Event, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// SlotError 排期冲突，调用方应重新获取可用时段
type SlotError struct {
	ResourceID string
	Start      time.Time
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("slot %s at %s: %v", e.ResourceID, e.Start.Format(time.RFC3339), ErrSlotNoLongerAvailable)
}

func (e *SlotError) Is(target error) bool { return target == ErrSlotNoLongerAvailable }

// InputError 参数非法
type InputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }
