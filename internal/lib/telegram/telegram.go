// Package telegram доставляет сообщения клиентам через Telegram-бота.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/yoga-studio/internal/config"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/render"
)

// ModeMarkdown режим разметки, для которого текст экранируется.
const ModeMarkdown = "Markdown"

// ErrNoChat возвращается, если у клиента нет Telegram-чата.
var ErrNoChat = errors.New("telegram: chat id is not set")

// API часть *tgbotapi.BotAPI, нужная для отправки.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot отправляет сообщения с ограничением частоты запросов к Telegram API.
type Bot struct {
	api       API
	limiter   *rate.Limiter
	parseMode string
	dryRun    bool
	log       *slog.Logger
}

// New подключается к Telegram API по токену из конфига.
// В режиме DryRun подключение не выполняется.
func New(cfg config.Telegram, log *slog.Logger) (*Bot, error) {
	const op = "telegram.New"
	if cfg.DryRun {
		log.Warn("telegram bot runs in dry-run mode")
		return NewWithAPI(nil, cfg, log), nil
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%s: bot token is empty", op)
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("telegram bot authorized", slog.String("username", api.Self.UserName))
	return NewWithAPI(api, cfg, log), nil
}

// NewWithAPI создаёт Bot поверх готового клиента API.
func NewWithAPI(api API, cfg config.Telegram, log *slog.Logger) *Bot {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Bot{
		api:       api,
		limiter:   rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
		parseMode: cfg.ParseMode,
		dryRun:    cfg.DryRun || api == nil,
		log:       log,
	}
}

// Send отправляет в чат chatID сообщение с заголовком title.
// Возвращает идентификатор сообщения в Telegram. Ожидание ответа API
// прерывается отменой или истечением ctx.
func (b *Bot) Send(ctx context.Context, chatID int64, title, text string) (string, error) {
	const op = "telegram.Send"

	if chatID == 0 {
		return "", fmt.Errorf("%s: %w", op, ErrNoChat)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	body := title + "\n\n" + text
	if b.parseMode == ModeMarkdown {
		body = render.Telegram(title, text)
	}

	if b.dryRun {
		b.log.Info("telegram message (dry run)",
			slog.Int64("chat_id", chatID),
			slog.String("text", body))
		return "dry-run", nil
	}

	msg := tgbotapi.NewMessage(chatID, body)
	msg.ParseMode = b.parseMode
	type result struct {
		sent tgbotapi.Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sent, err := b.api.Send(msg)
		done <- result{sent: sent, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("%s: %w", op, res.err)
		}
		return strconv.Itoa(res.sent.MessageID), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
