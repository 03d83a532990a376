package repository

import (
	"context"
	"time"

	"github.com/langchou/garagebook/internal/models"
)

// BookingStore 预约存储
// Reserve 必须在同一原子操作内完成冲突校验与写入
type BookingStore interface {
	Reserve(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, reference string) (*models.Booking, error)
	UpdateState(ctx context.Context, b *models.Booking, expected models.BookingState) error
	ListActive(ctx context.Context, resourceIDs []string, from, to time.Time) ([]models.Slot, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	ListEndedConfirmed(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
}

var (
	_ BookingStore = (*BookingRepository)(nil)
	_ BookingStore = (*MemoryBookingStore)(nil)
)
