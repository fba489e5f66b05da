// Package rabbitmq содержит подключение к RabbitMQ, объявление очередей уведомлений,
// публикацию сообщений и пул обработчиков очереди.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
)

// Connect подключается к брокеру, повторяя попытки retries раз с паузой delay.
func Connect(ctx context.Context, url string, retries int, delay time.Duration, log *slog.Logger) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	var (
		conn *amqp.Connection
		err  error
	)

	for attempt := 1; attempt <= max(retries, 1); attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn("rabbitmq is not reachable yet", slog.Int("attempt", attempt), sl.Err(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%s: %w", op, err)
}
