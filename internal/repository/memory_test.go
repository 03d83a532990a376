package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/garagebook/internal/models"
)

var base = time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)

func booking(ref, bay string, start time.Time, minutes int) *models.Booking {
	return &models.Booking{
		Reference:     ref,
		Registration:  "AB12CDE",
		Services:      []string{"mot_test"},
		Slot:          models.Slot{Start: start, End: start.Add(time.Duration(minutes) * time.Minute), ResourceID: bay, ResourceClass: models.ResourceService},
		State:         models.StatePendingPayment,
		HoldExpiresAt: base.Add(-time.Hour),
		CreatedAt:     base.Add(-2 * time.Hour),
		UpdatedAt:     base.Add(-2 * time.Hour),
	}
}

func TestMemoryStore_ReserveRejectsOverlap(t *testing.T) {
	s := NewMemoryBookingStore()
	ctx := context.Background()

	require.NoError(t, s.Reserve(ctx, booking("GB-1", "bay-1", base, 45)))

	err := s.Reserve(ctx, booking("GB-2", "bay-1", base.Add(30*time.Minute), 45))
	assert.ErrorIs(t, err, models.ErrSlotNoLongerAvailable)

	// 半开区间：紧接着结束时间开始不冲突
	require.NoError(t, s.Reserve(ctx, booking("GB-3", "bay-1", base.Add(45*time.Minute), 30)))
	require.NoError(t, s.Reserve(ctx, booking("GB-4", "bay-2", base, 45)))

	err = s.Reserve(ctx, booking("GB-1", "bay-3", base, 45))
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)
}

func TestMemoryStore_ReserveHonoursCancelledContext(t *testing.T) {
	s := NewMemoryBookingStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Reserve(ctx, booking("GB-1", "bay-1", base, 45))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Get(context.Background(), "GB-1")
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryBookingStore()
	ctx := context.Background()
	b := booking("GB-1", "bay-1", base, 45)
	require.NoError(t, s.Reserve(ctx, b))

	b.Services[0] = "changed"
	got, err := s.Get(ctx, "GB-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mot_test"}, got.Services)

	got.State = models.StateConfirmed
	again, _ := s.Get(ctx, "GB-1")
	assert.Equal(t, models.StatePendingPayment, again.State)
}

func TestMemoryStore_UpdateStateCompareAndSwap(t *testing.T) {
	s := NewMemoryBookingStore()
	ctx := context.Background()
	require.NoError(t, s.Reserve(ctx, booking("GB-1", "bay-1", base, 45)))

	b, _ := s.Get(ctx, "GB-1")
	b.State = models.StateConfirmed
	b.PaymentReference = "pay_1"
	require.NoError(t, s.UpdateState(ctx, b, models.StatePendingPayment))

	stale, _ := s.Get(ctx, "GB-1")
	stale.State = models.StateExpired
	err := s.UpdateState(ctx, stale, models.StatePendingPayment)
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)

	got, _ := s.Get(ctx, "GB-1")
	assert.Equal(t, models.StateConfirmed, got.State)
	assert.Equal(t, "pay_1", got.PaymentReference)

	missing := booking("GB-404", "bay-1", base, 45)
	assert.ErrorIs(t, s.UpdateState(ctx, missing, models.StatePendingPayment), models.ErrBookingNotFound)
}

func TestMemoryStore_ListActive(t *testing.T) {
	s := NewMemoryBookingStore()
	ctx := context.Background()
	require.NoError(t, s.Reserve(ctx, booking("GB-1", "bay-2", base, 45)))
	require.NoError(t, s.Reserve(ctx, booking("GB-2", "bay-1", base.Add(2*time.Hour), 45)))
	require.NoError(t, s.Reserve(ctx, booking("GB-3", "bay-1", base, 45)))
	require.NoError(t, s.Reserve(ctx, booking("GB-4", "tyre-1", base, 30)))
	require.NoError(t, s.Reserve(ctx, booking("GB-5", "bay-1", base.AddDate(0, 0, 1), 45)))

	cancelled, _ := s.Get(ctx, "GB-2")
	cancelled.State = models.StateCancelled
	require.NoError(t, s.UpdateState(ctx, cancelled, models.StatePendingPayment))

	slots, err := s.ListActive(ctx, []string{"bay-1", "bay-2"}, base, base.Add(10*time.Hour))
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "bay-1", slots[0].ResourceID)
	assert.Equal(t, "bay-2", slots[1].ResourceID)
}

func TestMemoryStore_SweepQueries(t *testing.T) {
	s := NewMemoryBookingStore()
	ctx := context.Background()
	now := base.Add(time.Hour)

	held := booking("GB-1", "bay-1", base.Add(3*time.Hour), 45)
	held.HoldExpiresAt = now.Add(10 * time.Minute)
	require.NoError(t, s.Reserve(ctx, held))

	elapsed := booking("GB-2", "bay-2", base.Add(3*time.Hour), 45)
	elapsed.CreatedAt = base.Add(-3 * time.Hour)
	require.NoError(t, s.Reserve(ctx, elapsed))
	require.NoError(t, s.Reserve(ctx, booking("GB-3", "bay-3", base.Add(3*time.Hour), 45)))

	done := booking("GB-4", "bay-1", base, 45)
	require.NoError(t, s.Reserve(ctx, done))
	done.State = models.StateConfirmed
	require.NoError(t, s.UpdateState(ctx, done, models.StatePendingPayment))

	expired, err := s.ListExpiredHolds(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "GB-2", expired[0].Reference, "oldest first")

	limited, _ := s.ListExpiredHolds(ctx, now, 1)
	assert.Len(t, limited, 1)

	ended, err := s.ListEndedConfirmed(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, "GB-4", ended[0].Reference)
}
