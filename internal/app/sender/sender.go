// Package sender собирает воркер доставки: читает очередь уведомлений RabbitMQ,
// отправляет сообщения в Telegram или на почту и записывает результат доставки.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/yoga-studio/internal/app/studio"
	"github.com/magabrotheeeer/yoga-studio/internal/cache"
	"github.com/magabrotheeeer/yoga-studio/internal/config"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
	"github.com/magabrotheeeer/yoga-studio/internal/rabbitmq"
	directoryservice "github.com/magabrotheeeer/yoga-studio/internal/services/directory"
	notificationservice "github.com/magabrotheeeer/yoga-studio/internal/services/notification"
	senderservice "github.com/magabrotheeeer/yoga-studio/internal/services/sender"
	"github.com/magabrotheeeer/yoga-studio/internal/storage/repository"
)

// App приложение воркера доставки.
type App struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	db     *repository.Storage
	cache  *cache.Cache
	sender *senderservice.Sender
	pool   int
	logger *slog.Logger
}

// New подключается к базе, Redis и RabbitMQ и собирает доставку.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.StorageConnectionString == "" {
		return nil, fmt.Errorf("storage connection string is required for the sender")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("rabbitmq url is required for the sender")
	}

	a := &App{pool: cfg.Notifications.ConsumerPool, logger: logger}

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	a.db = db
	if err := repository.CheckDatabaseReady(ctx, db); err != nil {
		a.closeResources()
		return nil, err
	}

	var clientCache directoryservice.Cache
	if cfg.Redis.AddressRedis != "" {
		a.cache, err = cache.InitServer(ctx, cfg.Redis)
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("cache not initialized: %w", err)
		}
		clientCache = a.cache
	}
	clients := directoryservice.New(db, clientCache, logger)

	// Движок здесь только записывает результаты доставки и сам ничего не отправляет.
	receipts := notificationservice.New(db, clients, nil, logger)

	a.sender, err = studio.NewSender(cfg, clients, logger, senderservice.WithReceipts(receipts))
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.conn, err = rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay, logger)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.ch, err = rabbitmq.SetupChannel(a.conn, a.pool, rabbitmq.NotificationQueues())
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	return a, nil
}

// Run читает очередь доставки до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.closeResources()

	err := rabbitmq.ConsumeMessages(ctx, a.ch, rabbitmq.DispatchQueue, a.pool, a.logger, a.sender.HandleDispatch)
	if err != nil {
		a.logger.Error("failed to consume dispatch queue", sl.Err(err))
		return err
	}

	a.logger.Info("sender service shutting down gracefully")
	return nil
}

func (a *App) closeResources() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close storage", sl.Err(err))
		}
	}
	a.ch, a.conn, a.cache, a.db = nil, nil, nil, nil
}
