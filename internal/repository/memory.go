package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/langchou/garagebook/internal/models"
)

// MemoryBookingStore 未配置数据库时使用的内存存储
// 每个工位一把锁，保证同一工位上的校验与写入是原子的
type MemoryBookingStore struct {
	mu       sync.RWMutex
	bookings map[string]*models.Booking

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryBookingStore 创建内存存储
func NewMemoryBookingStore() *MemoryBookingStore {
	return &MemoryBookingStore{
		bookings: make(map[string]*models.Booking),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MemoryBookingStore) resourceLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Reserve 校验冲突并写入
func (s *MemoryBookingStore) Reserve(ctx context.Context, b *models.Booking) error {
	lock := s.resourceLock(b.Slot.ResourceID)
	lock.Lock()
	defer lock.Unlock()

	// 提交前检查取消，取消后不留下任何记录
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[b.Reference]; ok {
		return fmt.Errorf("booking %s already exists: %w", b.Reference, models.ErrConcurrentUpdate)
	}
	for _, existing := range s.bookings {
		if existing.State.Active() && existing.Slot.Overlaps(b.Slot) {
			return &models.SlotError{ResourceID: b.Slot.ResourceID, Start: b.Slot.Start}
		}
	}

	stored := cloneBooking(b)
	s.bookings[b.Reference] = stored
	return nil
}

// Get 按预约号查询
func (s *MemoryBookingStore) Get(_ context.Context, reference string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[reference]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", reference, models.ErrBookingNotFound)
	}
	return cloneBooking(b), nil
}

// UpdateState 比较并交换状态
func (s *MemoryBookingStore) UpdateState(_ context.Context, b *models.Booking, expected models.BookingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.bookings[b.Reference]
	if !ok {
		return fmt.Errorf("booking %s: %w", b.Reference, models.ErrBookingNotFound)
	}
	if stored.State != expected {
		return fmt.Errorf("booking %s no longer %s: %w", b.Reference, expected, models.ErrConcurrentUpdate)
	}
	stored.State = b.State
	stored.PaymentReference = b.PaymentReference
	stored.UpdatedAt = b.UpdatedAt
	return nil
}

// ListActive 与 [from, to) 相交的待支付/已确认时段
func (s *MemoryBookingStore) ListActive(_ context.Context, resourceIDs []string, from, to time.Time) ([]models.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var slots []models.Slot
	for _, b := range s.bookings {
		if !b.State.Active() || !slices.Contains(resourceIDs, b.Slot.ResourceID) {
			continue
		}
		if b.Slot.Start.Before(to) && from.Before(b.Slot.End) {
			slots = append(slots, b.Slot)
		}
	}
	slices.SortFunc(slots, func(a, b models.Slot) int {
		if a.ResourceID != b.ResourceID {
			if a.ResourceID < b.ResourceID {
				return -1
			}
			return 1
		}
		return a.Start.Compare(b.Start)
	})
	return slots, nil
}

// ListExpiredHolds 保留期已过的待支付预约
func (s *MemoryBookingStore) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return s.filter(limit, func(b *models.Booking) bool {
		return b.State == models.StatePendingPayment && !b.HoldExpiresAt.After(now)
	}), nil
}

// ListEndedConfirmed 预约时段已结束的已确认预约
func (s *MemoryBookingStore) ListEndedConfirmed(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return s.filter(limit, func(b *models.Booking) bool {
		return b.State == models.StateConfirmed && !b.Slot.End.After(now)
	}), nil
}

func (s *MemoryBookingStore) filter(limit int, match func(*models.Booking) bool) []models.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Booking
	for _, b := range s.bookings {
		if match(b) {
			out = append(out, *cloneBooking(b))
		}
	}
	slices.SortFunc(out, func(a, b models.Booking) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneBooking(b *models.Booking) *models.Booking {
	c := *b
	c.Services = slices.Clone(b.Services)
	c.Quotes = slices.Clone(b.Quotes)
	return &c
}
