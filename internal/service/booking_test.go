package service

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/langchou/garagebook/internal/config"
	"github.com/langchou/garagebook/internal/models"
	"github.com/langchou/garagebook/internal/pricing"
	"github.com/langchou/garagebook/internal/repository"
	"github.com/langchou/garagebook/internal/scheduler"
	"github.com/langchou/garagebook/internal/state"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu          sync.Mutex
	transitions []*state.Transition
}

func (n *recordingNotifier) Notify(_ context.Context, t *state.Transition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, t)
}

func (n *recordingNotifier) last() *state.Transition {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.transitions) == 0 {
		return nil
	}
	return n.transitions[len(n.transitions)-1]
}

type profileFunc func(ctx context.Context, reg string, force bool) (*models.VehicleProfile, error)

func (f profileFunc) Lookup(ctx context.Context, reg string, force bool) (*models.VehicleProfile, error) {
	return f(ctx, reg, force)
}

type bookingFixture struct {
	svc      *BookingService
	sched    *scheduler.Scheduler
	store    *repository.MemoryBookingStore
	notifier *recordingNotifier
	clock    *clock
	loc      *time.Location
	logs     *observer.ObservedLogs
}

type fixtureOptions struct {
	wrap         func(*repository.MemoryBookingStore) repository.BookingStore
	newReference func() string
}

// 当前时间为 2025-06-02（周一）07:00 伦敦时间，默认三个工位
func newBookingFixture(t *testing.T, vehicles ProfileLookup) *bookingFixture {
	return newBookingFixtureWith(t, vehicles, fixtureOptions{})
}

func newBookingFixtureWith(t *testing.T, vehicles ProfileLookup, opts fixtureOptions) *bookingFixture {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	hours, err := config.ParseOpeningHours(config.DefaultOpeningHours)
	require.NoError(t, err)
	bays, err := config.ParseResources(config.DefaultBays)
	require.NoError(t, err)
	engine, err := pricing.NewEngine(config.DefaultCatalogue(), zap.NewNop())
	require.NoError(t, err)
	core, logs := observer.New(zap.WarnLevel)

	f := &bookingFixture{
		store:    repository.NewMemoryBookingStore(),
		notifier: &recordingNotifier{},
		clock:    &clock{now: time.Date(2025, 6, 2, 7, 0, 0, 0, loc)},
		loc:      loc,
		logs:     logs,
	}
	var store repository.BookingStore = f.store
	if opts.wrap != nil {
		store = opts.wrap(f.store)
	}
	f.sched = scheduler.New(store, scheduler.Options{
		Location:    loc,
		Step:        30 * time.Minute,
		HorizonDays: 30,
		Hours:       hours,
		Resources:   bays,
		Now:         f.clock.Now,
	}, zap.NewNop())
	f.svc = NewBookingService(engine, f.sched, store, vehicles, f.notifier, BookingOptions{
		HoldWindow:   15 * time.Minute,
		Now:          f.clock.Now,
		NewReference: opts.newReference,
	}, zap.New(core))
	return f
}

func (f *bookingFixture) tuesday(hour, minute int) time.Time {
	return time.Date(2025, 6, 3, hour, minute, 0, 0, f.loc)
}

func (f *bookingFixture) draft(services ...string) models.BookingDraft {
	return models.BookingDraft{
		Customer:     models.Customer{Name: " Ada Lovelace ", Email: "ada@example.com"},
		Registration: "ab12 cde",
		Services:     services,
		FuelType:     models.FuelPetrol,
		EngineCC:     ptr(1400),
		SlotStart:    f.tuesday(10, 0),
		ResourceID:   "bay-1",
	}
}

func (f *bookingFixture) available(t *testing.T, minutes int, class string) []models.Slot {
	t.Helper()
	seq, err := f.sched.FindAvailableSlots(context.Background(), f.tuesday(0, 0), minutes, class)
	require.NoError(t, err)
	return slices.Collect(seq)
}

func payment(b *models.Booking, amount int64, success bool) models.PaymentConfirmation {
	return models.PaymentConfirmation{BookingReference: b.Reference, AmountPence: amount, Success: success, PaymentReference: "pay_" + b.Reference}
}

func TestNewReference(t *testing.T) {
	re := regexp.MustCompile(`^GB-[0-9A-F]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ref := NewReference()
		assert.Regexp(t, re, ref)
		seen[ref] = true
	}
	assert.Len(t, seen, 100)
}

func TestCreate_PendingWithHold(t *testing.T) {
	f := newBookingFixture(t, nil)

	b, err := f.svc.Create(context.Background(), f.draft("mot_test"))
	require.NoError(t, err)

	assert.Regexp(t, `^GB-[0-9A-F]{8}$`, b.Reference)
	assert.Equal(t, models.StatePendingPayment, b.State)
	assert.Equal(t, "AB12CDE", b.Registration)
	assert.Equal(t, "Ada Lovelace", b.Customer.Name)
	assert.Equal(t, int64(5485), b.TotalPence)
	assert.Equal(t, "GBP", b.Currency)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), b.HoldExpiresAt)
	assert.Equal(t, models.Slot{Start: f.tuesday(10, 0), End: f.tuesday(10, 45), ResourceID: "bay-1", ResourceClass: models.ResourceService}, b.Slot)

	tr := f.notifier.last()
	require.NotNil(t, tr)
	assert.Equal(t, []state.Notification{state.NotifyAwaitPayment, state.NotifyHoldSlot}, tr.Notifications)

	stored, err := f.svc.Get(context.Background(), " "+b.Reference[3:]+" ")
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
	assert.Nil(t, stored)

	stored, err = f.svc.Get(context.Background(), "gb-"+b.Reference[3:])
	require.NoError(t, err)
	assert.Equal(t, b.Reference, stored.Reference)
}

func TestCreate_MultipleServices(t *testing.T) {
	f := newBookingFixture(t, nil)

	b, err := f.svc.Create(context.Background(), f.draft("mot_test", "brake_check"))
	require.NoError(t, err)
	assert.Equal(t, f.tuesday(11, 15), b.Slot.End)
	assert.Equal(t, int64(5485+3000), b.TotalPence)
	require.Len(t, b.Quotes, 2)
	assert.Equal(t, "brake_check", b.Quotes[1].ServiceID)
}

func TestCreate_RejectsBadInput(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.BookingDraft)
		want   error
	}{
		{"no services", func(d *models.BookingDraft) { d.Services = nil }, models.ErrInvalidInput},
		{"duplicate service", func(d *models.BookingDraft) { d.Services = []string{"mot_test", "mot_test"} }, models.ErrInvalidInput},
		{"mixed bay classes", func(d *models.BookingDraft) { d.Services = []string{"mot_test", "tyre_fitting"} }, models.ErrInvalidInput},
		{"unknown service", func(d *models.BookingDraft) { d.Services = []string{"valet"} }, models.ErrUnknownService},
		{"bad registration", func(d *models.BookingDraft) { d.Registration = "???" }, models.ErrInvalidInput},
		{"missing name", func(d *models.BookingDraft) { d.Customer.Name = "  " }, models.ErrInvalidInput},
		{"bad email", func(d *models.BookingDraft) { d.Customer.Email = "ada.example.com" }, models.ErrInvalidInput},
		{"missing start", func(d *models.BookingDraft) { d.SlotStart = time.Time{} }, models.ErrInvalidInput},
		{"misaligned start", func(d *models.BookingDraft) { d.SlotStart = f.tuesday(10, 10) }, models.ErrInvalidInput},
		{"wrong bay class", func(d *models.BookingDraft) { d.ResourceID = "tyre-1" }, models.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.draft("mot_test")
			tt.mutate(&d)
			_, err := f.svc.Create(ctx, d)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Nil(t, f.notifier.last())
}

func TestCreate_PicksFirstFreeBay(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()

	d := f.draft("mot_test")
	d.ResourceID = ""

	first, err := f.svc.Create(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "bay-1", first.Slot.ResourceID)

	second, err := f.svc.Create(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "bay-2", second.Slot.ResourceID)

	_, err = f.svc.Create(ctx, d)
	assert.ErrorIs(t, err, models.ErrSlotNoLongerAvailable)
}

func TestCreate_SlotTakenTwice(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)

	d := f.draft("brake_check")
	d.SlotStart = f.tuesday(10, 30)
	_, err = f.svc.Create(ctx, d)
	assert.ErrorIs(t, err, models.ErrSlotNoLongerAvailable)
}

func TestCreate_UsesVehicleProfile(t *testing.T) {
	vehicles := profileFunc(func(_ context.Context, reg string, _ bool) (*models.VehicleProfile, error) {
		assert.Equal(t, "AB12CDE", reg)
		return &models.VehicleProfile{Registration: reg, FuelType: models.FuelDiesel, EngineCC: ptr(1968)}, nil
	})
	f := newBookingFixture(t, vehicles)

	d := f.draft("full_service")
	d.FuelType = ""
	d.EngineCC = nil
	b, err := f.svc.Create(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(28500), b.TotalPence)
	assert.Equal(t, models.FuelDiesel, b.Quotes[0].FuelType)
}

func TestCreate_VehicleLookupFailureQuotesUnknownFuel(t *testing.T) {
	vehicles := profileFunc(func(context.Context, string, bool) (*models.VehicleProfile, error) {
		return nil, &models.LookupError{Registration: "AB12CDE", RegistryErr: errors.New("down"), InspectionErr: errors.New("down")}
	})
	f := newBookingFixture(t, vehicles)

	d := f.draft("full_service")
	d.FuelType = ""
	d.EngineCC = nil
	b, err := f.svc.Create(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, b.Quotes[0].Warning)
	assert.Equal(t, int64(35500), b.TotalPence)
}

func TestConfirmPayment(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	tr, err := f.svc.ConfirmPayment(ctx, payment(b, 5485, true))
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, tr.To)
	assert.Equal(t, []state.Notification{state.NotifySendConfirmation}, tr.Notifications)

	stored, err := f.svc.Get(ctx, b.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, stored.State)
	assert.Equal(t, "pay_"+b.Reference, stored.PaymentReference)

	// 重复回调
	again, err := f.svc.ConfirmPayment(ctx, payment(b, 5485, true))
	require.NoError(t, err)
	assert.False(t, again.Changed())
}

func TestConfirmPayment_Rejected(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(ctx, payment(b, 5000, true))
	assert.ErrorIs(t, err, models.ErrPaymentMismatch)

	_, err = f.svc.ConfirmPayment(ctx, payment(b, 5485, false))
	assert.ErrorIs(t, err, models.ErrPaymentFailed)

	stored, _ := f.svc.Get(ctx, b.Reference)
	assert.Equal(t, models.StatePendingPayment, stored.State)

	_, err = f.svc.ConfirmPayment(ctx, models.PaymentConfirmation{BookingReference: "GB-FFFFFFFF", AmountPence: 1, Success: true})
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
}

func TestConfirmPayment_AfterHoldExpires(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.ConfirmPayment(ctx, payment(b, 5485, true))
	assert.ErrorIs(t, err, models.ErrHoldElapsed)

	stored, _ := f.svc.Get(ctx, b.Reference)
	assert.Equal(t, models.StateExpired, stored.State)

	tr := f.notifier.last()
	assert.Equal(t, []state.Notification{state.NotifyReleaseSlot, state.NotifySendExpiryNotice}, tr.Notifications)
	assert.Contains(t, f.available(t, 45, models.ResourceService), b.Slot)
}

func TestCancel_ReleasesSlot(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, payment(b, 5485, true))
	require.NoError(t, err)
	assert.NotContains(t, f.available(t, 45, models.ResourceService), b.Slot)

	tr, err := f.svc.Transition(ctx, b.Reference, state.EventCancel, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, tr.From)
	assert.Equal(t, models.StateCancelled, tr.To)
	assert.Equal(t, []state.Notification{state.NotifyReleaseSlot, state.NotifySendCancellation}, tr.Notifications)
	assert.Contains(t, f.available(t, 45, models.ResourceService), b.Slot)

	_, err = f.svc.Transition(ctx, b.Reference, state.EventCancel, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = f.svc.ConfirmPayment(ctx, payment(b, 5485, true))
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestComplete_BeforeEndRejected(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, payment(b, 5485, true))
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, b.Reference, state.EventComplete, nil)
	assert.ErrorIs(t, err, models.ErrAppointmentPending)
}

func TestExpireStale(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)
	d := f.draft("mot_test")
	d.ResourceID = "bay-2"
	second, err := f.svc.Create(ctx, d)
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "holds still active")

	f.clock.Advance(15 * time.Minute)
	n, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	slots := f.available(t, 45, models.ResourceService)
	assert.Contains(t, slots, first.Slot)
	assert.Contains(t, slots, second.Slot)

	n, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompletePast(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, payment(b, 5485, true))
	require.NoError(t, err)

	f.clock.Advance(27*time.Hour + 45*time.Minute)
	n, err := f.svc.CompletePast(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.svc.Get(ctx, b.Reference)
	assert.Equal(t, models.StateCompleted, stored.State)
	assert.Equal(t, []state.Notification{state.NotifyRequestFeedback}, f.notifier.last().Notifications)
}

func TestDispatcher_Broadcasts(t *testing.T) {
	var got []any
	d := NewDispatcher(broadcastFunc(func(e any) { got = append(got, e) }), zap.NewNop())

	b := models.Booking{Reference: "GB-0000ABCD", State: models.StatePendingPayment, Slot: models.Slot{ResourceID: "bay-1"}}
	d.Notify(context.Background(), state.Open(b))

	require.Len(t, got, 1)
	ev := got[0].(BookingEvent)
	assert.Equal(t, "GB-0000ABCD", ev.Reference)
	assert.Equal(t, "bay-1", ev.ResourceID)
	assert.Equal(t, []state.Notification{state.NotifyAwaitPayment, state.NotifyHoldSlot}, ev.Notifications)

	NewDispatcher(nil, zap.NewNop()).Notify(context.Background(), state.Open(b))
}

type broadcastFunc func(any)

func (f broadcastFunc) BroadcastBookingEvent(e any) { f(e) }

// failingStore 对指定预约的状态写入返回存储错误
type failingStore struct {
	repository.BookingStore
	reference string
}

func (s *failingStore) UpdateState(ctx context.Context, b *models.Booking, expected models.BookingState) error {
	if b.Reference == s.reference {
		return errors.New("disk full")
	}
	return s.BookingStore.UpdateState(ctx, b, expected)
}

func TestExpireStale_ContinuesPastFailedBooking(t *testing.T) {
	refs := []string{"GB-0000000A", "GB-0000000B"}
	var n int
	f := newBookingFixtureWith(t, nil, fixtureOptions{
		wrap: func(m *repository.MemoryBookingStore) repository.BookingStore {
			return &failingStore{BookingStore: m, reference: refs[0]}
		},
		newReference: func() string {
			n++
			return refs[n-1]
		},
	})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)
	d := f.draft("mot_test")
	d.ResourceID = "bay-2"
	_, err = f.svc.Create(ctx, d)
	require.NoError(t, err)

	f.clock.Advance(15 * time.Minute)
	expired, err := f.svc.ExpireStale(ctx)
	assert.Equal(t, 1, expired)
	require.Error(t, err)
	assert.Contains(t, err.Error(), refs[0])

	stuck, _ := f.svc.Get(ctx, refs[0])
	assert.Equal(t, models.StatePendingPayment, stuck.State)
	done, _ := f.svc.Get(ctx, refs[1])
	assert.Equal(t, models.StateExpired, done.State)
	assert.Equal(t, 1, f.logs.FilterMessage("Sweep failed for booking").Len())
}

func TestCreate_RegeneratesCollidingReference(t *testing.T) {
	refs := []string{"GB-00000001", "GB-00000001", "GB-00000002"}
	var n int
	f := newBookingFixtureWith(t, nil, fixtureOptions{
		newReference: func() string {
			n++
			return refs[n-1]
		},
	})
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)
	d := f.draft("mot_test")
	d.ResourceID = "bay-2"
	second, err := f.svc.Create(ctx, d)
	require.NoError(t, err)

	assert.Equal(t, "GB-00000001", first.Reference)
	assert.Equal(t, "GB-00000002", second.Reference)
	stored, err := f.svc.Get(ctx, "GB-00000002")
	require.NoError(t, err)
	assert.Equal(t, "bay-2", stored.Slot.ResourceID)
}

func TestTransition_InvalidIsLogged(t *testing.T) {
	f := newBookingFixture(t, nil)
	ctx := context.Background()
	b, err := f.svc.Create(ctx, f.draft("mot_test"))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, b.Reference, state.EventCancel, nil)
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, b.Reference, state.EventCancel, nil)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	entries := f.logs.FilterMessage("Rejected booking transition").All()
	require.Len(t, entries, 1)
	assert.Equal(t, b.Reference, entries[0].ContextMap()["reference"])
	assert.Equal(t, string(models.StateCancelled), entries[0].ContextMap()["state"])
}
