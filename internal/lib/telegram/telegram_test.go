package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/yoga-studio/internal/config"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type APIMock struct {
	mock.Mock
}

func (m *APIMock) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func TestBot_Send(t *testing.T) {
	api := new(APIMock)
	api.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 42 &&
			msg.ParseMode == ModeMarkdown &&
			msg.Text == "*Напоминание*\n\nЗанятие в 18:00"
	})).Return(tgbotapi.Message{MessageID: 777}, nil)

	bot := NewWithAPI(api, config.Telegram{ParseMode: ModeMarkdown, RateLimit: 100, RateBurst: 1}, newNoopLogger())
	ref, err := bot.Send(context.Background(), 42, "Напоминание", "Занятие в 18:00")
	require.NoError(t, err)
	assert.Equal(t, "777", ref)
	api.AssertExpectations(t)
}

func TestBot_SendPlainText(t *testing.T) {
	api := new(APIMock)
	api.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg := c.(tgbotapi.MessageConfig)
		return msg.ParseMode == "" && msg.Text == "a_b\n\nc*d"
	})).Return(tgbotapi.Message{MessageID: 1}, nil)

	bot := NewWithAPI(api, config.Telegram{}, newNoopLogger())
	_, err := bot.Send(context.Background(), 7, "a_b", "c*d")
	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestBot_SendErrors(t *testing.T) {
	t.Run("no chat", func(t *testing.T) {
		api := new(APIMock)
		bot := NewWithAPI(api, config.Telegram{}, newNoopLogger())
		_, err := bot.Send(context.Background(), 0, "t", "m")
		assert.ErrorIs(t, err, ErrNoChat)
		api.AssertNotCalled(t, "Send", mock.Anything)
	})

	t.Run("api error", func(t *testing.T) {
		api := new(APIMock)
		api.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user"))
		bot := NewWithAPI(api, config.Telegram{}, newNoopLogger())
		_, err := bot.Send(context.Background(), 42, "t", "m")
		assert.Error(t, err)
	})

	t.Run("cancelled while rate limited", func(t *testing.T) {
		api := new(APIMock)
		api.On("Send", mock.Anything).Return(tgbotapi.Message{MessageID: 1}, nil)
		bot := NewWithAPI(api, config.Telegram{RateLimit: 0.001, RateBurst: 1}, newNoopLogger())

		_, err := bot.Send(context.Background(), 42, "t", "m")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = bot.Send(ctx, 42, "t", "m")
		assert.Error(t, err)
		api.AssertNumberOfCalls(t, "Send", 1)
	})
}

func TestBot_DryRun(t *testing.T) {
	bot, err := New(config.Telegram{DryRun: true}, newNoopLogger())
	require.NoError(t, err)

	ref, err := bot.Send(context.Background(), 42, "t", "m")
	require.NoError(t, err)
	assert.Equal(t, "dry-run", ref)
}

func TestBot_SendStopsOnDeadline(t *testing.T) {
	api := new(APIMock)
	release := make(chan struct{})
	api.On("Send", mock.Anything).Run(func(mock.Arguments) {
		<-release
	}).Return(tgbotapi.Message{MessageID: 5}, nil)
	defer close(release)

	bot := NewWithAPI(api, config.Telegram{}, newNoopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	ref, err := bot.Send(ctx, 42, "Напоминание", "Занятие в 18:00")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, ref)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
