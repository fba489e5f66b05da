package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// Channel часть *amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher публикует JSON-сообщения в обменник.
type Publisher struct {
	ch       Channel
	exchange string
	now      func() time.Time
}

// NewPublisher создаёт Publisher для обменника exchange.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, now: time.Now}
}

// Publish сериализует message в JSON и публикует его с ключом routingKey.
// Возвращает идентификатор опубликованного сообщения.
func (p *Publisher) Publish(ctx context.Context, routingKey string, message any) (string, error) {
	const op = "rabbitmq.Publish"

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	body, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	id := uuid.NewString()
	err = p.ch.Publish(p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    p.now(),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// Transport отправляет уведомления воркеру доставки через очередь.
// Доставка подтверждается воркером отдельно.
type Transport struct {
	pub *Publisher
}

// NewTransport создаёт транспорт поверх канала ch.
func NewTransport(ch Channel) *Transport {
	return &Transport{pub: NewPublisher(ch, Exchange)}
}

// Dispatch публикует сообщение в очередь доставки и возвращает идентификатор сообщения.
func (t *Transport) Dispatch(ctx context.Context, msg models.OutboundMessage) (string, error) {
	const op = "rabbitmq.Transport.Dispatch"
	id, err := t.pub.Publish(ctx, DispatchRoutingKey, msg)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return "amqp:" + id, nil
}
