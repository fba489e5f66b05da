package studio

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/yoga-studio/internal/config"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

func localConfig() *config.Config {
	return &config.Config{
		Env:      config.EnvLocal,
		Timezone: "UTC",
		HTTPServer: config.HTTPServer{
			AddressHTTP: "127.0.0.1:0",
			TimeoutHTTP: time.Second,
		},
		Ledger: config.Ledger{MaxAttempts: 3, SelectionPolicy: "most_recent"},
		Notifications: config.Notifications{
			Transport:    "direct",
			SendTimeout:  time.Second,
			Concurrency:  2,
			ReminderLead: 2 * time.Hour,
		},
		Scheduler: config.Scheduler{
			ProcessScheduledEvery: 5 * time.Minute,
			RetryFailedEvery:      30 * time.Minute,
			RefreshStatusesAt:     "00:05",
			ExpiringCheckAt:       "10:00",
			ExpiringDaysBefore:    3,
		},
	}
}

func TestNew_InMemory(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, localConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	client := &models.Client{ID: "cli_anna", Name: "Анна", TelegramID: 42, CreatedAt: time.Now()}
	require.NoError(t, app.Clients.SaveClient(ctx, client))

	sub, err := app.Ledger.Purchase(ctx, client.ID, models.TypePackage4, time.Now())
	require.NoError(t, err)
	_, err = app.Ledger.ConfirmPayment(ctx, sub.ID)
	require.NoError(t, err)

	classDate := time.Now().Add(48 * time.Hour).Truncate(time.Minute)
	b, err := app.Bookings.CreateBooking(ctx, models.BookingRequest{
		ClientID:  client.ID,
		ClassDate: classDate,
		ClassType: "Хатха",
	})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, b.SubscriptionID)

	sub, err = app.Ledger.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.UsedClasses)

	list, err := app.Notifications.ListForClient(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.NotificationClassReminder, list[0].Type)
	require.NotNil(t, list[0].ScheduledAt)
	assert.True(t, list[0].ScheduledAt.Equal(classDate.Add(-2*time.Hour)))

	sent, err := app.Notifications.Send(ctx, list[0].ID)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestNew_UnknownPolicy(t *testing.T) {
	cfg := localConfig()
	cfg.Ledger.SelectionPolicy = "random"
	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
