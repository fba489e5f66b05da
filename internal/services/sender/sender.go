// Package services доставляет уведомления клиентам по каналам Telegram и email.
// Sender используется и напрямую как транспорт движка уведомлений, и как обработчик
// очереди доставки в отдельном воркере.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// TelegramSender отправляет сообщение в чат.
type TelegramSender interface {
	Send(ctx context.Context, chatID int64, title, text string) (string, error)
}

// EmailSender отправляет письмо.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ClientDirectory источник контактов клиента.
type ClientDirectory interface {
	GetClient(ctx context.Context, id string) (*models.Client, error)
}

// Receipts принимает подтверждения доставки.
type Receipts interface {
	MarkDelivered(ctx context.Context, id string) (*models.Notification, error)
	MarkFailed(ctx context.Context, id, reason string) (*models.Notification, error)
}

// DefaultSendTimeout ограничение на одну доставку в HandleDispatch.
const DefaultSendTimeout = 10 * time.Second

// ErrChannelUnavailable канал не настроен или у клиента нет контакта для него.
var ErrChannelUnavailable = errors.New("delivery channel is unavailable")

// Sender маршрутизирует сообщения по каналам.
type Sender struct {
	telegram    TelegramSender
	email       EmailSender
	clients     ClientDirectory
	receipts    Receipts
	log         *slog.Logger
	sendTimeout time.Duration
}

// Option настраивает Sender.
type Option func(*Sender)

// WithTelegram подключает канал Telegram.
func WithTelegram(t TelegramSender) Option {
	return func(s *Sender) { s.telegram = t }
}

// WithEmail подключает почтовый канал.
func WithEmail(e EmailSender) Option {
	return func(s *Sender) { s.email = e }
}

// WithReceipts задаёт получателя подтверждений для HandleDispatch.
func WithReceipts(r Receipts) Option {
	return func(s *Sender) { s.receipts = r }
}

// WithSendTimeout задаёт ограничение на одну доставку из очереди.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// New создаёт Sender.
func New(clients ClientDirectory, log *slog.Logger, opts ...Option) *Sender {
	s := &Sender{clients: clients, log: log, sendTimeout: DefaultSendTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch доставляет сообщение клиенту по его каналу и возвращает ссылку на сообщение.
func (s *Sender) Dispatch(ctx context.Context, msg models.OutboundMessage) (string, error) {
	const op = "sender.Dispatch"

	client, err := s.clients.GetClient(ctx, msg.ClientID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	switch msg.Channel {
	case models.ChannelTelegram:
		if s.telegram == nil || client.TelegramID == 0 {
			return "", fmt.Errorf("%s: %s: %w", op, msg.Channel, ErrChannelUnavailable)
		}
		ref, err := s.telegram.Send(ctx, client.TelegramID, msg.Title, msg.Text)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.ErrDispatchFailed, err))
		}
		return "tg:" + ref, nil

	case models.ChannelEmail:
		if s.email == nil || client.Email == "" {
			return "", fmt.Errorf("%s: %s: %w", op, msg.Channel, ErrChannelUnavailable)
		}
		if err := s.email.Send(ctx, client.Email, msg.Title, msg.Text); err != nil {
			return "", fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.ErrDispatchFailed, err))
		}
		return "email:" + msg.NotificationID, nil

	default:
		return "", fmt.Errorf("%s: unknown channel %q: %w", op, msg.Channel, ErrChannelUnavailable)
	}
}

// HandleDispatch обрабатывает сообщение из очереди доставки: отправляет его
// не дольше sendTimeout и сообщает результат через Receipts. Некорректные сообщения пишутся в лог
// и отбрасываются. Ошибка возвращается, только если не удалось записать результат,
// тогда сообщение нужно вернуть в очередь.
func (s *Sender) HandleDispatch(ctx context.Context, body []byte) error {
	const op = "sender.HandleDispatch"

	var msg models.OutboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		s.log.Error("failed to unmarshal message body, dropping", sl.Err(err))
		return nil
	}
	if msg.NotificationID == "" || msg.ClientID == "" {
		s.log.Error("message without notification or client id, dropping", slog.String("body", string(body)))
		return nil
	}

	log := s.log.With(
		slog.String("notification_id", msg.NotificationID),
		slog.String("channel", string(msg.Channel)),
	)

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	_, err := s.Dispatch(sendCtx, msg)
	cancel()
	if err != nil {
		log.Warn("delivery failed", sl.Err(err))
		if _, markErr := s.receipts.MarkFailed(ctx, msg.NotificationID, err.Error()); markErr != nil {
			return receiptError(op, log, markErr)
		}
		return nil
	}

	if _, err := s.receipts.MarkDelivered(ctx, msg.NotificationID); err != nil {
		return receiptError(op, log, err)
	}
	log.Info("notification delivered")
	return nil
}

// receiptError решает, стоит ли повторять запись результата. Бизнес-ошибки
// (уведомление удалено или уже в конечном статусе) повтором не исправить.
func receiptError(op string, log *slog.Logger, err error) error {
	if apperr.IsBusiness(err) {
		log.Warn("receipt rejected", sl.Err(err))
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
