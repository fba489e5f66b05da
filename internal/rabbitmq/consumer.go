package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
)

// DefaultPoolSize число одновременно обрабатываемых сообщений.
const DefaultPoolSize = 10

// Consumer часть *amqp.Channel, нужная для чтения очереди.
type Consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Handler обрабатывает тело сообщения. Ошибка возвращает сообщение в очередь.
type Handler func(ctx context.Context, body []byte) error

// ConsumeMessages читает очередь queueName и обрабатывает сообщения пулом из poolSize горутин.
// Блокируется до отмены ctx или закрытия канала доставок и ждёт завершения начатых обработок.
func ConsumeMessages(ctx context.Context, ch Consumer, queueName string, poolSize int, log *slog.Logger, handler Handler) error {
	const op = "rabbitmq.ConsumeMessages"

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	log = log.With(slog.String("queue", queueName))
	log.Info("consumer started", slog.Int("pool", poolSize))

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, poolSize)
	for {
		select {
		case <-ctx.Done():
			log.Info("consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				log.Warn("delivery channel closed")
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				if err := d.Nack(false, true); err != nil {
					log.Error("failed to nack message", sl.Err(err))
				}
				return nil
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				handle(ctx, d, log, handler)
			}(d)
		}
	}
}

func handle(ctx context.Context, d amqp.Delivery, log *slog.Logger, handler Handler) {
	if err := handler(context.WithoutCancel(ctx), d.Body); err != nil {
		log.Warn("message handling failed, requeueing", slog.String("message_id", d.MessageId), sl.Err(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error("failed to ack message", sl.Err(err))
	}
}
