package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/garagebook/internal/models"
	"github.com/langchou/garagebook/internal/pricing"
	"github.com/langchou/garagebook/internal/repository"
	"github.com/langchou/garagebook/internal/scheduler"
	"github.com/langchou/garagebook/internal/state"
)

// ReferencePrefix 预约号前缀
const ReferencePrefix = "GB-"

// sweepBatch 每轮清理的最大预约数
const sweepBatch = 100

// ProfileLookup 创建预约时补全燃料与排量
type ProfileLookup interface {
	Lookup(ctx context.Context, registration string, force bool) (*models.VehicleProfile, error)
}

// BookingOptions 预约服务配置
type BookingOptions struct {
	HoldWindow   time.Duration
	Now          func() time.Time
	NewReference func() string
}

// BookingService 预约创建与状态推进
type BookingService struct {
	pricing   *pricing.Engine
	scheduler *scheduler.Scheduler
	store     repository.BookingStore
	vehicles  ProfileLookup
	notifier  Notifier
	opts      BookingOptions
	logger    *zap.Logger
}

// NewBookingService 创建预约服务，vehicles 可为 nil
func NewBookingService(
	engine *pricing.Engine,
	sched *scheduler.Scheduler,
	store repository.BookingStore,
	vehicles ProfileLookup,
	notifier Notifier,
	opts BookingOptions,
	logger *zap.Logger,
) *BookingService {
	if opts.HoldWindow <= 0 {
		opts.HoldWindow = 15 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewReference == nil {
		opts.NewReference = NewReference
	}
	return &BookingService{
		pricing:   engine,
		scheduler: sched,
		store:     store,
		vehicles:  vehicles,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
	}
}

// NewReference 生成 GB-XXXXXXXX 形式的预约号
func NewReference() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return ReferencePrefix + id[:8]
}

// Plan 多项服务需使用同一类工位，时长累加
type Plan struct {
	Services        []models.Service
	DurationMinutes int
	ResourceClass   string
}

// PlanServices 校验服务组合
func (s *BookingService) PlanServices(ids []string) (*Plan, error) {
	if len(ids) == 0 {
		return nil, &models.InputError{Field: "services", Reason: "at least one service required"}
	}
	plan := &Plan{}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, &models.InputError{Field: "services", Value: id, Reason: "duplicate service"}
		}
		seen[id] = true

		svc, err := s.pricing.Service(id)
		if err != nil {
			return nil, err
		}
		if plan.ResourceClass == "" {
			plan.ResourceClass = svc.ResourceClass
		} else if plan.ResourceClass != svc.ResourceClass {
			return nil, &models.InputError{Field: "services", Value: id, Reason: fmt.Sprintf("needs a %s bay, others need %s", svc.ResourceClass, plan.ResourceClass)}
		}
		plan.Services = append(plan.Services, svc)
		plan.DurationMinutes += svc.DurationMinutes
	}
	return plan, nil
}

// Create 报价并占用时段，返回待支付预约
func (s *BookingService) Create(ctx context.Context, draft models.BookingDraft) (*models.Booking, error) {
	if err := validateDraft(&draft); err != nil {
		return nil, err
	}
	plan, err := s.PlanServices(draft.Services)
	if err != nil {
		return nil, err
	}

	fuel, engineCC := s.vehicleFuel(ctx, draft)

	now := s.opts.Now()
	b := &models.Booking{
		Reference:           s.opts.NewReference(),
		Customer:            draft.Customer,
		Registration:        draft.Registration,
		Services:            draft.Services,
		Currency:            pricing.Currency,
		State:               models.StatePendingPayment,
		HoldExpiresAt:       now.Add(s.opts.HoldWindow),
		SpecialRequirements: draft.SpecialRequirements,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for _, svc := range plan.Services {
		q, err := s.pricing.Quote(svc.ID, fuel, engineCC)
		if err != nil {
			return nil, err
		}
		b.Quotes = append(b.Quotes, q)
		b.TotalPence += q.TotalPence
	}

	slot := models.Slot{
		Start:         draft.SlotStart,
		End:           draft.SlotStart.Add(time.Duration(plan.DurationMinutes) * time.Minute),
		ResourceID:    draft.ResourceID,
		ResourceClass: plan.ResourceClass,
	}
	if slot.ResourceID == "" {
		if slot, err = s.firstFreeBay(ctx, slot, plan); err != nil {
			return nil, err
		}
	}

	err = s.scheduler.ReserveSlot(ctx, slot, b)
	if errors.Is(err, models.ErrConcurrentUpdate) {
		// 预约号碰撞，换号重试一次
		s.logger.Warn("Booking reference collision, regenerating", zap.String("reference", b.Reference))
		b.Reference = s.opts.NewReference()
		err = s.scheduler.ReserveSlot(ctx, slot, b)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking created",
		zap.String("reference", b.Reference),
		zap.String("registration", b.Registration),
		zap.Strings("services", b.Services),
		zap.Int64("total_pence", b.TotalPence))
	s.notify(ctx, state.Open(*b))
	return b, nil
}

// firstFreeBay 未指定工位时选择该时间第一个空闲工位
func (s *BookingService) firstFreeBay(ctx context.Context, slot models.Slot, plan *Plan) (models.Slot, error) {
	slots, err := s.scheduler.FindAvailableSlots(ctx, slot.Start, plan.DurationMinutes, plan.ResourceClass)
	if err != nil {
		return slot, err
	}
	for candidate := range slots {
		if candidate.Start.Equal(slot.Start) {
			return candidate, nil
		}
	}
	return slot, &models.SlotError{Start: slot.Start}
}

func validateDraft(d *models.BookingDraft) error {
	d.Registration = models.NormalizeRegistration(d.Registration)
	if !models.ValidRegistration(d.Registration) {
		return &models.InputError{Field: "registration", Value: d.Registration, Reason: "malformed registration"}
	}
	d.Customer.Name = strings.TrimSpace(d.Customer.Name)
	d.Customer.Email = strings.TrimSpace(d.Customer.Email)
	if d.Customer.Name == "" {
		return &models.InputError{Field: "customer.name", Reason: "required"}
	}
	if at := strings.Index(d.Customer.Email, "@"); at <= 0 || at == len(d.Customer.Email)-1 {
		return &models.InputError{Field: "customer.email", Value: d.Customer.Email, Reason: "not an email address"}
	}
	if d.SlotStart.IsZero() {
		return &models.InputError{Field: "slot_start", Reason: "required"}
	}
	return nil
}

// vehicleFuel 请求未提供燃料类型时查询车辆档案；查询失败按未知燃料报价
func (s *BookingService) vehicleFuel(ctx context.Context, d models.BookingDraft) (models.FuelType, *int) {
	if d.FuelType != "" || s.vehicles == nil {
		return d.FuelType, d.EngineCC
	}
	profile, err := s.vehicles.Lookup(ctx, d.Registration, false)
	if err != nil {
		s.logger.Warn("Vehicle lookup failed, quoting without vehicle data",
			zap.String("registration", d.Registration), zap.Error(err))
		return models.FuelUnknown, d.EngineCC
	}
	if d.EngineCC != nil {
		return profile.FuelType, d.EngineCC
	}
	return profile.FuelType, profile.EngineCC
}

// Get 查询预约
func (s *BookingService) Get(ctx context.Context, reference string) (*models.Booking, error) {
	return s.store.Get(ctx, strings.ToUpper(strings.TrimSpace(reference)))
}

// Transition 对预约触发事件（cancel / complete / expire / confirm_payment）
func (s *BookingService) Transition(ctx context.Context, reference, event string, payment *models.PaymentConfirmation) (*state.Transition, error) {
	b, err := s.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, b, event, payment)
}

// ConfirmPayment 处理支付确认事件；保留期已过时立即过期并释放时段
func (s *BookingService) ConfirmPayment(ctx context.Context, pc models.PaymentConfirmation) (*state.Transition, error) {
	b, err := s.Get(ctx, pc.BookingReference)
	if err != nil {
		return nil, err
	}

	t, err := s.apply(ctx, b, state.EventConfirmPayment, &pc)
	if errors.Is(err, models.ErrConcurrentUpdate) {
		// 重复的支付回调同时到达，按最新状态重试一次
		if b, err = s.Get(ctx, pc.BookingReference); err != nil {
			return nil, err
		}
		t, err = s.apply(ctx, b, state.EventConfirmPayment, &pc)
	}
	if errors.Is(err, models.ErrHoldElapsed) {
		if _, expErr := s.apply(ctx, b, state.EventExpire, nil); expErr != nil && !errors.Is(expErr, models.ErrConcurrentUpdate) {
			s.logger.Warn("Failed to expire booking after late payment",
				zap.String("reference", b.Reference), zap.Error(expErr))
		}
	}
	return t, err
}

func (s *BookingService) apply(ctx context.Context, b *models.Booking, event string, payment *models.PaymentConfirmation) (*state.Transition, error) {
	t, err := state.Apply(*b, event, state.Input{Now: s.opts.Now(), Payment: payment})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			s.logger.Warn("Rejected booking transition",
				zap.String("reference", b.Reference),
				zap.String("state", string(b.State)),
				zap.String("event", event))
		}
		return nil, err
	}
	if !t.Changed() {
		return t, nil
	}

	if t.To == models.StateCancelled || t.To == models.StateExpired {
		err = s.scheduler.ReleaseSlot(ctx, &t.Booking, t.From)
	} else {
		err = s.store.UpdateState(ctx, &t.Booking, t.From)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking transitioned",
		zap.String("reference", t.Booking.Reference),
		zap.String("event", event),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)))
	s.notify(ctx, t)
	return t, nil
}

func (s *BookingService) notify(ctx context.Context, t *state.Transition) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, t)
	}
}

// ExpireStale 将保留期已过的待支付预约置为过期
func (s *BookingService) ExpireStale(ctx context.Context) (int, error) {
	return s.sweep(ctx, state.EventExpire, s.store.ListExpiredHolds)
}

// CompletePast 将已结束的已确认预约置为完成
func (s *BookingService) CompletePast(ctx context.Context) (int, error) {
	return s.sweep(ctx, state.EventComplete, s.store.ListEndedConfirmed)
}

func (s *BookingService) sweep(ctx context.Context, event string, list func(context.Context, time.Time, int) ([]models.Booking, error)) (int, error) {
	bookings, err := list(ctx, s.opts.Now(), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list bookings for %s: %w", event, err)
	}

	var (
		done int
		errs []error
	)
	for i := range bookings {
		if _, err := s.apply(ctx, &bookings[i], event, nil); err != nil {
			// 并发支付或取消已处理该预约
			if errors.Is(err, models.ErrConcurrentUpdate) {
				continue
			}
			s.logger.Error("Sweep failed for booking",
				zap.String("reference", bookings[i].Reference),
				zap.String("event", event),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s %s: %w", event, bookings[i].Reference, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}
