// Package scheduler 工位排期：按营业时间生成可用时段，并原子地占用时段
package scheduler

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/garagebook/internal/models"
)

// ReservationStore 排期所需的存储能力
type ReservationStore interface {
	Reserve(ctx context.Context, b *models.Booking) error
	UpdateState(ctx context.Context, b *models.Booking, expected models.BookingState) error
	ListActive(ctx context.Context, resourceIDs []string, from, to time.Time) ([]models.Slot, error)
}

// Options 排期配置
type Options struct {
	Location    *time.Location
	Step        time.Duration
	HorizonDays int
	Hours       models.OpeningHours
	Resources   []models.Resource
	Now         func() time.Time
}

// Scheduler 工位排期
type Scheduler struct {
	store     ReservationStore
	opts      Options
	resources []models.Resource // 按 ID 排序
	logger    *zap.Logger
}

// New 创建排期器
func New(store ReservationStore, opts Options, logger *zap.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Step <= 0 {
		opts.Step = 30 * time.Minute
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 30
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	resources := slices.Clone(opts.Resources)
	slices.SortFunc(resources, func(a, b models.Resource) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	return &Scheduler{
		store:     store,
		opts:      opts,
		resources: resources,
		logger:    logger,
	}
}

// Location 排期时区
func (s *Scheduler) Location() *time.Location {
	return s.opts.Location
}

// Resources 工位列表
func (s *Scheduler) Resources() []models.Resource {
	return s.resources
}

func (s *Scheduler) resourcesOf(class string) []models.Resource {
	var out []models.Resource
	for _, r := range s.resources {
		if r.Class == class {
			out = append(out, r)
		}
	}
	return out
}

func (s *Scheduler) resource(id string) (models.Resource, bool) {
	for _, r := range s.resources {
		if r.ID == id {
			return r, true
		}
	}
	return models.Resource{}, false
}

// day 将任意时刻归到排期时区当天零点
func (s *Scheduler) day(t time.Time) time.Time {
	y, m, d := t.In(s.opts.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.opts.Location)
}

// at 当天零点起第 minutes 分钟，夏令时切换日同样按墙上时间计算
func (s *Scheduler) at(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, minutes, 0, 0, s.opts.Location)
}

// FindAvailableSlots 返回指定日期某类工位的可用时段
// 结果按开始时间升序，同一时间按工位 ID 排序；可重复遍历
func (s *Scheduler) FindAvailableSlots(ctx context.Context, date time.Time, durationMinutes int, resourceClass string) (iter.Seq[models.Slot], error) {
	if durationMinutes <= 0 {
		return nil, &models.InputError{Field: "duration_minutes", Value: fmt.Sprint(durationMinutes), Reason: "must be positive"}
	}
	resources := s.resourcesOf(resourceClass)
	if len(resources) == 0 {
		return nil, &models.InputError{Field: "resource_class", Value: resourceClass, Reason: "no bays of this class"}
	}

	now := s.opts.Now()
	day := s.day(date)
	today := s.day(now)
	if day.Before(today) || day.After(today.AddDate(0, 0, s.opts.HorizonDays)) {
		return nil, &models.InputError{
			Field:  "date",
			Value:  day.Format(time.DateOnly),
			Reason: fmt.Sprintf("must be between %s and %s", today.Format(time.DateOnly), today.AddDate(0, 0, s.opts.HorizonDays).Format(time.DateOnly)),
		}
	}

	hours, ok := s.opts.Hours[day.Weekday()]
	if !ok || hours.Closed {
		return func(func(models.Slot) bool) {}, nil
	}

	ids := make([]string, len(resources))
	for i, r := range resources {
		ids[i] = r.ID
	}
	busy, err := s.store.ListActive(ctx, ids, s.at(day, hours.Open), s.at(day, hours.Close))
	if err != nil {
		return nil, fmt.Errorf("load reservations for %s: %w", day.Format(time.DateOnly), err)
	}

	step := int(s.opts.Step / time.Minute)
	return func(yield func(models.Slot) bool) {
		for start := hours.Open; start+durationMinutes <= hours.Close; start += step {
			begin := s.at(day, start)
			if begin.Before(now) {
				continue
			}
			end := s.at(day, start+durationMinutes)
			for _, r := range resources {
				slot := models.Slot{Start: begin, End: end, ResourceID: r.ID, ResourceClass: r.Class}
				if overlapsAny(slot, busy) {
					continue
				}
				if !yield(slot) {
					return
				}
			}
		}
	}, nil
}

func overlapsAny(slot models.Slot, busy []models.Slot) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}

// ValidateSlot 校验时段是否落在营业时间内、与步长对齐且未过去
func (s *Scheduler) ValidateSlot(slot models.Slot) error {
	r, ok := s.resource(slot.ResourceID)
	if !ok {
		return &models.InputError{Field: "resource_id", Value: slot.ResourceID, Reason: "unknown bay"}
	}
	if slot.ResourceClass != "" && slot.ResourceClass != r.Class {
		return &models.InputError{Field: "resource_id", Value: slot.ResourceID, Reason: fmt.Sprintf("bay is %s, not %s", r.Class, slot.ResourceClass)}
	}
	if !slot.End.After(slot.Start) {
		return &models.InputError{Field: "slot", Value: slot.Start.Format(time.RFC3339), Reason: "end must be after start"}
	}

	now := s.opts.Now()
	day := s.day(slot.Start)
	today := s.day(now)
	if slot.Start.Before(now) || day.After(today.AddDate(0, 0, s.opts.HorizonDays)) {
		return &models.InputError{Field: "slot_start", Value: slot.Start.Format(time.RFC3339), Reason: "outside booking horizon"}
	}

	hours, ok := s.opts.Hours[day.Weekday()]
	if !ok || hours.Closed || slot.Start.Before(s.at(day, hours.Open)) || slot.End.After(s.at(day, hours.Close)) {
		return &models.InputError{Field: "slot_start", Value: slot.Start.Format(time.RFC3339), Reason: "outside opening hours"}
	}
	if offset := slot.Start.Sub(s.at(day, hours.Open)); offset%s.opts.Step != 0 {
		return &models.InputError{Field: "slot_start", Value: slot.Start.Format(time.RFC3339), Reason: fmt.Sprintf("not aligned to %s steps", s.opts.Step)}
	}
	return nil
}

// ReserveSlot 校验时段并原子写入待支付预约；竞争失败返回 ErrSlotNoLongerAvailable
func (s *Scheduler) ReserveSlot(ctx context.Context, slot models.Slot, b *models.Booking) error {
	if err := s.ValidateSlot(slot); err != nil {
		return err
	}
	r, _ := s.resource(slot.ResourceID)
	slot.ResourceClass = r.Class
	b.Slot = slot

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Reserve(ctx, b); err != nil {
		return err
	}

	s.logger.Info("Slot reserved",
		zap.String("reference", b.Reference),
		zap.String("resource_id", slot.ResourceID),
		zap.Time("start", slot.Start),
		zap.Time("end", slot.End))
	return nil
}

// ReleaseSlot 将已转换为取消/过期的预约写回存储，from 为转换前状态
func (s *Scheduler) ReleaseSlot(ctx context.Context, b *models.Booking, from models.BookingState) error {
	if !from.Active() {
		return &models.InvalidTransitionError{Reference: b.Reference, From: from, Event: "release"}
	}
	if b.State != models.StateCancelled && b.State != models.StateExpired {
		return &models.InvalidTransitionError{Reference: b.Reference, From: from, Event: "release to " + string(b.State)}
	}
	if err := s.store.UpdateState(ctx, b, from); err != nil {
		return err
	}

	s.logger.Info("Slot released",
		zap.String("reference", b.Reference),
		zap.String("resource_id", b.Slot.ResourceID),
		zap.String("state", string(b.State)))
	return nil
}
