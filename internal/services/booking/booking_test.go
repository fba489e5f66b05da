package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
	ledgerservice "github.com/magabrotheeeer/yoga-studio/internal/services/ledger"
	"github.com/magabrotheeeer/yoga-studio/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type ReminderMock struct{ mock.Mock }

func (m *ReminderMock) ScheduleReminder(ctx context.Context, b *models.Booking) (string, error) {
	args := m.Called(ctx, b)
	return args.String(0), args.Error(1)
}

func (m *ReminderMock) CancelReminder(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

// failingBookings не сохраняет новые записи.
type failingBookings struct {
	*memory.Store
}

func (failingBookings) CreateBooking(context.Context, *models.Booking) error {
	return apperr.Newf(apperr.ErrStorageUnavailable, "disk full")
}

// flakyUpdates не сохраняет первые failures изменений записей.
type flakyUpdates struct {
	*memory.Store
	failures atomic.Int32
}

func (f *flakyUpdates) UpdateBooking(ctx context.Context, b *models.Booking) error {
	if f.failures.Add(-1) >= 0 {
		return apperr.Newf(apperr.ErrStorageUnavailable, "connection reset")
	}
	return f.Store.UpdateBooking(ctx, b)
}

// brokenCredit не возвращает занятия на абонемент.
type brokenCredit struct {
	*ledgerservice.Ledger
}

func (brokenCredit) Credit(context.Context, string) error {
	return apperr.Newf(apperr.ErrStorageUnavailable, "connection reset")
}

type fixture struct {
	store  *memory.Store
	ledger *ledgerservice.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for _, c := range []*models.Client{{ID: "cli_1", Name: "Анна"}, {ID: "cli_2", Name: "Олег"}} {
		require.NoError(t, store.SaveClient(ctx, c))
	}
	// у каждого абонемента своё время создания
	var tick atomic.Int64
	clock := func() time.Time { return testNow.Add(time.Duration(tick.Add(1)) * time.Millisecond) }
	return &fixture{
		store:  store,
		ledger: ledgerservice.New(store, store, newNoopLogger(), ledgerservice.WithClock(clock)),
	}
}

func (f *fixture) coordinator(repo BookingRepository, ledger Ledger, opts ...Option) *Coordinator {
	if repo == nil {
		repo = f.store
	}
	if ledger == nil {
		ledger = f.ledger
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(repo, ledger, f.store, newNoopLogger(), opts...)
}

func (f *fixture) activeSubscription(t *testing.T, clientID string, typ models.SubscriptionType) *models.Subscription {
	t.Helper()
	ctx := context.Background()
	sub, err := f.ledger.Purchase(ctx, clientID, typ, time.Time{})
	require.NoError(t, err)
	sub, err = f.ledger.ConfirmPayment(ctx, sub.ID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) used(t *testing.T, id string) int {
	t.Helper()
	sub, err := f.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	return sub.UsedClasses
}

func bookingRequest(clientID string, in time.Duration) models.BookingRequest {
	return models.BookingRequest{
		ClientID:  clientID,
		ClassDate: testNow.Add(in),
		ClassType: "Хатха",
	}
}

func TestCoordinator_CreateBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activeSubscription(t, "cli_1", models.TypePackage4)
	other := f.activeSubscription(t, "cli_2", models.TypePackage4)
	_, err := f.ledger.Purchase(ctx, "cli_2", models.TypePackage8, time.Time{})
	require.NoError(t, err)
	c := f.coordinator(nil, nil)

	tests := []struct {
		name    string
		req     func() models.BookingRequest
		wantErr error
	}{
		{
			name: "picks active subscription",
			req:  func() models.BookingRequest { return bookingRequest("cli_1", 24*time.Hour) },
		},
		{
			name: "explicit subscription",
			req: func() models.BookingRequest {
				r := bookingRequest("cli_1", 48*time.Hour)
				r.SubscriptionID = sub.ID
				return r
			},
		},
		{
			name:    "class in the past",
			req:     func() models.BookingRequest { return bookingRequest("cli_1", -time.Hour) },
			wantErr: apperr.ErrValidation,
		},
		{
			name: "class starting right now",
			req:  func() models.BookingRequest { return bookingRequest("cli_1", 0) },
		},
		{
			name: "duration too short",
			req: func() models.BookingRequest {
				r := bookingRequest("cli_1", 24*time.Hour)
				r.ClassDuration = 20
				return r
			},
			wantErr: apperr.ErrValidation,
		},
		{
			name: "missing class type",
			req: func() models.BookingRequest {
				r := bookingRequest("cli_1", 24*time.Hour)
				r.ClassType = ""
				return r
			},
			wantErr: apperr.ErrValidation,
		},
		{
			name:    "unknown client",
			req:     func() models.BookingRequest { return bookingRequest("cli_missing", 24*time.Hour) },
			wantErr: apperr.ErrClientNotFound,
		},
		{
			name: "subscription of another client",
			req: func() models.BookingRequest {
				r := bookingRequest("cli_1", 24*time.Hour)
				r.SubscriptionID = other.ID
				return r
			},
			wantErr: apperr.ErrSubscriptionNotOwned,
		},
		{
			name: "malformed subscription id",
			req: func() models.BookingRequest {
				r := bookingRequest("cli_1", 24*time.Hour)
				r.SubscriptionID = "42"
				return r
			},
			wantErr: apperr.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.used(t, sub.ID)
			b, err := c.CreateBooking(ctx, tt.req())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, f.used(t, sub.ID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.BookingScheduled, b.Status)
			assert.Equal(t, sub.ID, b.SubscriptionID)
			assert.Equal(t, models.DefaultClassDuration, b.ClassDuration)
			assert.Equal(t, before+1, f.used(t, sub.ID))
		})
	}
}

func TestCoordinator_NoActiveSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ledger.Purchase(ctx, "cli_1", models.TypePackage4, time.Time{})
	require.NoError(t, err)
	c := f.coordinator(nil, nil)

	_, err = c.CreateBooking(ctx, bookingRequest("cli_1", 24*time.Hour))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNoActiveSubscription)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestCoordinator_PackageRunsOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activeSubscription(t, "cli_1", models.TypePackage4)
	c := f.coordinator(nil, nil)

	for i := range 4 {
		_, err := c.CreateBooking(ctx, bookingRequest("cli_1", time.Duration(i+1)*24*time.Hour))
		require.NoError(t, err)
	}
	got, err := f.ledger.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionExhausted, got.Status)

	req := bookingRequest("cli_1", 5*24*time.Hour)
	req.SubscriptionID = sub.ID
	_, err = c.CreateBooking(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrInsufficientCredit)

	_, err = c.CreateBooking(ctx, bookingRequest("cli_1", 5*24*time.Hour))
	assert.ErrorIs(t, err, apperr.ErrNoActiveSubscription)

	list, err := c.ListForClient(ctx, "cli_1", false)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestCoordinator_Unlimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activeSubscription(t, "cli_1", models.TypeUnlimited)
	c := f.coordinator(nil, nil)

	for i := range 6 {
		_, err := c.CreateBooking(ctx, bookingRequest("cli_1", time.Duration(i+1)*24*time.Hour))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, f.used(t, sub.ID))
}

func TestCoordinator_RefundsWhenBookingNotSaved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activeSubscription(t, "cli_1", models.TypePackage4)
	c := f.coordinator(failingBookings{f.store}, nil)

	_, err := c.CreateBooking(ctx, bookingRequest("cli_1", 24*time.Hour))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
	assert.Equal(t, 0, f.used(t, sub.ID))
}

func TestCoordinator_CancelBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activeSubscription(t, "cli_1", models.TypePackage4)
	c := f.coordinator(nil, nil)

	b, err := c.CreateBooking(ctx, bookingRequest("cli_1", 24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, f.used(t, sub.ID))

	res, err := c.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, res.CreditReturned)
	assert.Empty(t, res.CreditWarning)
	assert.Equal(t, models.BookingCancelled, res.Booking.Status)
	assert.NotNil(t, res.Booking.CancelledAt)
	assert.Equal(t, 0, f.used(t, sub.ID))

	_, err = c.CancelBooking(ctx, b.ID)
	assert.ErrorIs(t, err, apperr.ErrBookingNotCancellable)
	assert.Equal(t, 0, f.used(t, sub.ID))
}

func TestCoordinator_CancelTooLate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activeSubscription(t, "cli_1", models.TypePackage4)
	c := f.coordinator(nil, nil)

	b, err := c.CreateBooking(ctx, bookingRequest("cli_1", 90*time.Minute))
	require.NoError(t, err)

	_, err = c.CancelBooking(ctx, b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrBookingNotCancellable)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Equal(t, 1, f.used(t, sub.ID))

	got, err := c.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingScheduled, got.Status)
}

func TestCoordinator_CancelWhenCreditFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activeSubscription(t, "cli_1", models.TypePackage4)
	c := f.coordinator(nil, brokenCredit{f.ledger})

	b, err := c.CreateBooking(ctx, bookingRequest("cli_1", 24*time.Hour))
	require.NoError(t, err)

	res, err := c.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, res.CreditReturned)
	assert.Contains(t, res.CreditWarning, "connection reset")
	assert.Equal(t, models.BookingCancelled, res.Booking.Status)
	assert.Equal(t, 1, f.used(t, sub.ID))
}

func TestCoordinator_Reminders(t *testing.T) {
	ctx := context.Background()

	t.Run("scheduled and cancelled", func(t *testing.T) {
		f := newFixture(t)
		f.activeSubscription(t, "cli_1", models.TypePackage8)
		reminders := &ReminderMock{}
		c := f.coordinator(nil, nil, WithReminders(reminders))

		reminders.On("ScheduleReminder", mock.Anything, mock.AnythingOfType("*models.Booking")).Return("ntf_1", nil).Once()
		b, err := c.CreateBooking(ctx, bookingRequest("cli_1", 24*time.Hour))
		require.NoError(t, err)

		got, err := c.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "ntf_1", got.ReminderID)

		reminders.On("CancelReminder", mock.Anything, mock.MatchedBy(func(b *models.Booking) bool {
			return b.ReminderID == "ntf_1"
		})).Return(nil).Once()
		_, err = c.CancelBooking(ctx, b.ID)
		require.NoError(t, err)
		reminders.AssertExpectations(t)
	})

	t.Run("cancelled when reminder id was not stored", func(t *testing.T) {
		f := newFixture(t)
		f.activeSubscription(t, "cli_1", models.TypePackage8)
		repo := &flakyUpdates{Store: f.store}
		repo.failures.Store(1)
		reminders := &ReminderMock{}
		c := f.coordinator(repo, nil, WithReminders(reminders))

		reminders.On("ScheduleReminder", mock.Anything, mock.Anything).Return("ntf_1", nil).Once()
		b, err := c.CreateBooking(ctx, bookingRequest("cli_1", 24*time.Hour))
		require.NoError(t, err)

		got, err := c.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, got.ReminderID)

		reminders.On("CancelReminder", mock.Anything, mock.MatchedBy(func(cb *models.Booking) bool {
			return cb.ID == b.ID && cb.ReminderID == ""
		})).Return(nil).Once()
		res, err := c.CancelBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingCancelled, res.Booking.Status)
		reminders.AssertExpectations(t)
	})

	t.Run("failure does not block booking", func(t *testing.T) {
		f := newFixture(t)
		sub := f.activeSubscription(t, "cli_1", models.TypePackage8)
		reminders := &ReminderMock{}
		c := f.coordinator(nil, nil, WithReminders(reminders))

		reminders.On("ScheduleReminder", mock.Anything, mock.Anything).Return("", errors.New("queue down")).Once()
		b, err := c.CreateBooking(ctx, bookingRequest("cli_1", 24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, b.ReminderID)
		assert.Equal(t, 1, f.used(t, sub.ID))
	})
}

func TestCoordinator_SelectionPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	older := f.activeSubscription(t, "cli_1", models.TypePackage4)
	newer, err := f.ledger.Purchase(ctx, "cli_1", models.TypePackage8, time.Time{})
	require.NoError(t, err)
	_, err = f.ledger.ConfirmPayment(ctx, newer.ID)
	require.NoError(t, err)
	_, err = f.ledger.Extend(ctx, newer.ID, 10)
	require.NoError(t, err)

	tests := []struct {
		name   string
		policy SelectionPolicy
		want   string
	}{
		{name: "most recent", policy: MostRecent, want: newer.ID},
		{name: "earliest expiring", policy: EarliestExpiring, want: older.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := f.coordinator(nil, nil, WithPolicy(tt.policy))
			b, err := c.CreateBooking(ctx, bookingRequest("cli_1", 24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.SubscriptionID)
		})
	}
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"", PolicyMostRecent, PolicyEarliestExpiring} {
		p, err := PolicyByName(name)
		require.NoError(t, err)
		assert.NotNil(t, p)
	}
	_, err := PolicyByName("random")
	assert.Error(t, err)
}

func TestCoordinator_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activeSubscription(t, "cli_1", models.TypePackage8)
	c := f.coordinator(nil, nil)

	b, err := c.CreateBooking(ctx, bookingRequest("cli_1", 24*time.Hour))
	require.NoError(t, err)

	got, err := c.Confirm(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.NotNil(t, got.ConfirmedAt)

	got, err = c.MarkAttended(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingAttended, got.Status)
	assert.NotNil(t, got.AttendedAt)

	_, err = c.MarkMissed(ctx, b.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	_, err = c.Confirm(ctx, b.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	missed, err := c.CreateBooking(ctx, bookingRequest("cli_1", 48*time.Hour))
	require.NoError(t, err)
	got, err = c.MarkMissed(ctx, missed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingMissed, got.Status)
	assert.Equal(t, 2, f.used(t, sub.ID))

	_, err = c.Confirm(ctx, "bkg_missing")
	assert.ErrorIs(t, err, apperr.ErrBookingNotFound)
}

func TestCoordinator_Listing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activeSubscription(t, "cli_1", models.TypePackage8)
	f.activeSubscription(t, "cli_2", models.TypePackage8)
	c := f.coordinator(nil, nil)

	tomorrow := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	for _, req := range []models.BookingRequest{
		{ClientID: "cli_1", ClassDate: tomorrow.Add(9 * time.Hour), ClassType: "Хатха"},
		{ClientID: "cli_2", ClassDate: tomorrow.Add(19 * time.Hour), ClassType: "Аштанга"},
		{ClientID: "cli_1", ClassDate: tomorrow.Add(33 * time.Hour), ClassType: "Йога-нидра"},
	} {
		_, err := c.CreateBooking(ctx, req)
		require.NoError(t, err)
	}

	day, err := c.ListForDay(ctx, tomorrow.Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "Хатха", day[0].ClassType)
	assert.Equal(t, "Аштанга", day[1].ClassType)

	own, err := c.ListForClient(ctx, "cli_1", true)
	require.NoError(t, err)
	assert.Len(t, own, 2)

	_, err = c.CancelBooking(ctx, own[1].ID)
	require.NoError(t, err)
	own, err = c.ListForClient(ctx, "cli_1", true)
	require.NoError(t, err)
	assert.Len(t, own, 1)
}
