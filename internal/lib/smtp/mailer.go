package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
)

// ErrNoRecipient возвращается, если адрес получателя пуст.
var ErrNoRecipient = errors.New("smtp: empty recipient")

// Mailer формирует и отправляет текстовые письма.
type Mailer struct {
	dialer Dialer
	log    *slog.Logger
}

// NewMailer создаёт Mailer.
func NewMailer(dialer Dialer, log *slog.Logger) *Mailer {
	return &Mailer{dialer: dialer, log: log}
}

// Send отправляет письмо с темой subject на адрес to. Сессия SMTP ограничена сроком ctx.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	const op = "smtp.Send"

	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("%s: %w", op, ErrNoRecipient)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	from := m.dialer.From()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	client, err := m.dialer.Connect(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("%s: MAIL FROM: %w", op, err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("%s: RCPT TO: %w", op, err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("%s: DATA: %w", op, err)
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("%s: failed to write email body: %w", op, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("%s: failed to close data writer: %w", op, err)
	}

	if err := client.Quit(); err != nil {
		m.log.Warn("failed to quit SMTP session", slog.String("to", to), slog.Any("err", err))
	}

	m.log.Debug("email sent", slog.String("to", to))
	return nil
}
