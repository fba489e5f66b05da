package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_Derived(t *testing.T) {
	today := time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name          string
		sub           Subscription
		wantRemaining int
		wantActive    bool
		wantExpired   bool
		wantExhausted bool
	}{
		{
			name: "active package with credits",
			sub: Subscription{Type: TypePackage4, TotalClasses: 4, UsedClasses: 1,
				Status: SubscriptionActive, EndDate: Date(today.AddDate(0, 0, 5))},
			wantRemaining: 3,
			wantActive:    true,
		},
		{
			name: "ends today is still active",
			sub: Subscription{Type: TypeSingle, TotalClasses: 1,
				Status: SubscriptionActive, EndDate: Date(today)},
			wantRemaining: 1,
			wantActive:    true,
		},
		{
			name: "past end date",
			sub: Subscription{Type: TypePackage8, TotalClasses: 8,
				Status: SubscriptionActive, EndDate: Date(today.AddDate(0, 0, -1))},
			wantRemaining: 8,
			wantExpired:   true,
		},
		{
			name: "no credits left",
			sub: Subscription{Type: TypeTrial, TotalClasses: 1, UsedClasses: 1,
				Status: SubscriptionExhausted, EndDate: Date(today.AddDate(0, 0, 3))},
			wantRemaining: 0,
			wantExhausted: true,
		},
		{
			name: "used above total is floored",
			sub: Subscription{Type: TypePackage4, TotalClasses: 4, UsedClasses: 6,
				Status: SubscriptionActive, EndDate: Date(today)},
			wantRemaining: 0,
			wantExhausted: true,
		},
		{
			name: "unlimited never exhausts",
			sub: Subscription{Type: TypeUnlimited, TotalClasses: UnlimitedClasses, UsedClasses: 12000,
				Status: SubscriptionActive, EndDate: Date(today)},
			wantRemaining: UnlimitedClasses,
			wantActive:    true,
		},
		{
			name: "pending is not active",
			sub: Subscription{Type: TypePackage4, TotalClasses: 4,
				Status: SubscriptionPending, EndDate: Date(today.AddDate(0, 1, 0))},
			wantRemaining: 4,
		},
		{
			name: "expired status",
			sub: Subscription{Type: TypePackage4, TotalClasses: 4,
				Status: SubscriptionExpired, EndDate: Date(today.AddDate(0, 1, 0))},
			wantRemaining: 4,
			wantExpired:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRemaining, tt.sub.RemainingClasses())
			assert.Equal(t, tt.wantActive, tt.sub.IsActive(today))
			assert.Equal(t, tt.wantExpired, tt.sub.IsExpired(today))
			assert.Equal(t, tt.wantExhausted, tt.sub.IsExhausted())
		})
	}
}

func TestSubscription_DaysLeft(t *testing.T) {
	today := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	sub := Subscription{EndDate: Date(today.AddDate(0, 0, 3))}
	assert.Equal(t, 3, sub.DaysLeft(today))

	sub.EndDate = Date(today.AddDate(0, 0, -2))
	assert.Equal(t, 0, sub.DaysLeft(today))
}

func TestDate(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	got := Date(time.Date(2025, 1, 2, 1, 30, 0, 0, loc))
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), got)
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog()

	p, ok := c.Plan(TypePackage4)
	require.True(t, ok)
	assert.Equal(t, Plan{TotalClasses: 4, DurationDays: 30, Price: 3200}, p)
	assert.Equal(t, int64(500), c.Price(TypeTrial))
	assert.Equal(t, int64(0), c.Price(SubscriptionType("GOLD")))

	plans := c.Plans()
	plans[TypeTrial] = Plan{}
	assert.Equal(t, int64(500), c.Price(TypeTrial), "catalog must not be mutated through Plans")
}

func TestNewCatalog(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[SubscriptionType]Plan
		wantErr   bool
		check     func(t *testing.T, c Catalog)
	}{
		{
			name:      "price override",
			overrides: map[SubscriptionType]Plan{TypePackage8: {TotalClasses: 8, DurationDays: 45, Price: 7500}},
			check: func(t *testing.T, c Catalog) {
				assert.Equal(t, int64(7500), c.Price(TypePackage8))
				assert.Equal(t, int64(3200), c.Price(TypePackage4))
			},
		},
		{
			name:      "unlimited keeps sentinel",
			overrides: map[SubscriptionType]Plan{TypeUnlimited: {TotalClasses: 10, DurationDays: 30, Price: 12000}},
			check: func(t *testing.T, c Catalog) {
				p, _ := c.Plan(TypeUnlimited)
				assert.Equal(t, UnlimitedClasses, p.TotalClasses)
			},
		},
		{
			name:      "unknown type",
			overrides: map[SubscriptionType]Plan{"GOLD": {TotalClasses: 1, DurationDays: 1}},
			wantErr:   true,
		},
		{
			name:      "zero duration",
			overrides: map[SubscriptionType]Plan{TypeSingle: {TotalClasses: 1}},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCatalog(tt.overrides)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}
