// Package studio собирает ядро студии: хранилище, справочник клиентов, учёт абонементов,
// записи на занятия, уведомления, периодические задачи и HTTP-сервер здоровья и метрик.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/yoga-studio/internal/cache"
	"github.com/magabrotheeeer/yoga-studio/internal/config"
	"github.com/magabrotheeeer/yoga-studio/internal/http/handlers/health"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/smtp"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/telegram"
	"github.com/magabrotheeeer/yoga-studio/internal/metrics"
	"github.com/magabrotheeeer/yoga-studio/internal/migrations"
	"github.com/magabrotheeeer/yoga-studio/internal/rabbitmq"
	bookingservice "github.com/magabrotheeeer/yoga-studio/internal/services/booking"
	directoryservice "github.com/magabrotheeeer/yoga-studio/internal/services/directory"
	ledgerservice "github.com/magabrotheeeer/yoga-studio/internal/services/ledger"
	notificationservice "github.com/magabrotheeeer/yoga-studio/internal/services/notification"
	schedulerservice "github.com/magabrotheeeer/yoga-studio/internal/services/scheduler"
	senderservice "github.com/magabrotheeeer/yoga-studio/internal/services/sender"
	"github.com/magabrotheeeer/yoga-studio/internal/storage/memory"
	"github.com/magabrotheeeer/yoga-studio/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// Store все хранилища, которые использует ядро.
type Store interface {
	ledgerservice.SubscriptionRepository
	bookingservice.BookingRepository
	notificationservice.NotificationRepository
	directoryservice.ClientRepository
}

// App приложение студии. Сервисы доступны для встраивания во внешние интерфейсы.
type App struct {
	Clients       *directoryservice.Directory
	Ledger        *ledgerservice.Ledger
	Bookings      *bookingservice.Coordinator
	Notifications *notificationservice.Engine

	driver *schedulerservice.Driver
	server *http.Server
	logger *slog.Logger
	closes []func() error
}

// New создаёт приложение по конфигу.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	if err := a.init(ctx, cfg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, cfg *config.Config) error {
	loc := cfg.Location()
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	policy, err := bookingservice.PolicyByName(cfg.Ledger.SelectionPolicy)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	checks := make(map[string]health.Checker)

	store, err := a.openStore(ctx, cfg, checks)
	if err != nil {
		return err
	}

	var (
		clientCache directoryservice.Cache
		dedupe      schedulerservice.Deduper
		ledgerOpts  = []ledgerservice.Option{
			ledgerservice.WithCatalog(catalog),
			ledgerservice.WithMetrics(m),
			ledgerservice.WithLocation(loc),
			ledgerservice.WithMaxAttempts(cfg.Ledger.MaxAttempts),
		}
	)
	if cfg.Redis.AddressRedis != "" {
		redisCache, err := cache.InitServer(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("cache not initialized: %w", err)
		}
		a.closes = append(a.closes, redisCache.Close)
		checks["redis"] = redisCache
		clientCache, dedupe = redisCache, redisCache

		if cfg.Ledger.DistributedLock {
			redisCache.LockTTL = cfg.Ledger.LockTTL
			ledgerOpts = append(ledgerOpts, ledgerservice.WithLocker(redisCache))
			a.logger.Info("ledger uses redis lock")
		}
	} else {
		a.logger.Warn("redis is not configured, client cache and expiry notice dedupe are disabled")
	}

	a.Clients = directoryservice.New(store, clientCache, a.logger)
	a.Ledger = ledgerservice.New(store, a.Clients, a.logger, ledgerOpts...)

	transport, receipts, err := a.openTransport(ctx, cfg, checks)
	if err != nil {
		return err
	}
	a.Notifications = notificationservice.New(store, a.Clients, transport, a.logger,
		notificationservice.WithMetrics(m),
		notificationservice.WithSendTimeout(cfg.Notifications.SendTimeout),
		notificationservice.WithConcurrency(cfg.Notifications.Concurrency),
		notificationservice.WithDeliveryReceipts(receipts),
	)

	sweeps := schedulerservice.NewSweeps(a.Ledger, a.Notifications, dedupe, cfg.Scheduler.ExpiringDaysBefore, a.logger)
	tasks, err := sweeps.Tasks(cfg.Scheduler, loc)
	if err != nil {
		return err
	}
	a.driver = schedulerservice.New(a.logger, tasks, schedulerservice.WithMetrics(m))
	reminders := schedulerservice.NewReminders(a.Notifications, a.driver, cfg.Notifications.ReminderLead, loc, a.logger)

	a.Bookings = bookingservice.New(store, a.Ledger, a.Clients, a.logger,
		bookingservice.WithReminders(reminders),
		bookingservice.WithPolicy(policy),
		bookingservice.WithMetrics(m),
		bookingservice.WithLocation(loc),
	)

	router := chi.NewRouter()
	RegisterRoutes(router, a.logger, reg, checks)
	a.server = &http.Server{
		Addr:         cfg.HTTPServer.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.TimeoutHTTP,
		WriteTimeout: cfg.HTTPServer.TimeoutHTTP,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}
	return nil
}

// openStore подключает PostgreSQL или, если строка подключения пуста, хранилище в памяти.
func (a *App) openStore(ctx context.Context, cfg *config.Config, checks map[string]health.Checker) (Store, error) {
	if cfg.StorageConnectionString == "" {
		a.logger.Warn("storage connection string is empty, using in-memory store")
		return memory.New(), nil
	}

	db, err := repository.New(ctx, cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	a.closes = append(a.closes, db.Close)

	if err := migrations.Run(db.DB.DB, cfg.MigrationsPath); err != nil {
		return nil, err
	}
	if err := repository.CheckDatabaseReady(ctx, db); err != nil {
		return nil, err
	}
	checks["postgres"] = db
	return db, nil
}

// openTransport выбирает транспорт уведомлений. Для amqp доставку подтверждает
// отдельный воркер, поэтому движок ждёт подтверждений.
func (a *App) openTransport(ctx context.Context, cfg *config.Config, checks map[string]health.Checker) (notificationservice.Transport, bool, error) {
	if cfg.Notifications.Transport == "amqp" {
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay, a.logger)
		if err != nil {
			return nil, false, fmt.Errorf("failed to connect RabbitMQ: %w", err)
		}
		a.closes = append(a.closes, conn.Close)

		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.DefaultPoolSize, rabbitmq.NotificationQueues())
		if err != nil {
			return nil, false, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
		}
		a.closes = append(a.closes, ch.Close)
		checks["rabbitmq"] = connectionCheck(conn)

		a.logger.Info("notifications are dispatched through rabbitmq")
		return rabbitmq.NewTransport(ch), true, nil
	}

	sender, err := NewSender(cfg, a.Clients, a.logger)
	if err != nil {
		return nil, false, err
	}
	return sender, false, nil
}

// NewSender собирает доставку по каналам Telegram и email из конфига.
// Почтовый канал подключается, только если указан SMTP-сервер.
func NewSender(cfg *config.Config, clients senderservice.ClientDirectory, logger *slog.Logger, opts ...senderservice.Option) (*senderservice.Sender, error) {
	tgCfg := cfg.Telegram
	if cfg.Env != config.EnvProd && tgCfg.Token == "" {
		tgCfg.DryRun = true
	}
	bot, err := telegram.New(tgCfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		senderservice.WithTelegram(bot),
		senderservice.WithSendTimeout(cfg.Notifications.SendTimeout),
	)

	if cfg.SMTP.Host != "" {
		mailer := smtp.NewMailer(smtp.NewTransport(cfg.SMTP, logger), logger)
		opts = append(opts, senderservice.WithEmail(mailer))
	} else {
		logger.Warn("smtp is not configured, email channel is disabled")
	}
	return senderservice.New(clients, logger, opts...), nil
}

func connectionCheck(conn *amqp.Connection) health.CheckerFunc {
	return func(context.Context) error {
		if conn.IsClosed() {
			return amqp.ErrClosed
		}
		return nil
	}
}

// Run запускает периодические задачи и HTTP-сервер и блокируется до отмены ctx
// или ошибки сервера.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	driverDone := make(chan error, 1)
	go func() { driverDone <- a.driver.Run(ctx) }()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}
	cancel()

	timeoutCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	a.logger.Info("shutting down HTTP server gracefully")
	if err := a.server.Shutdown(timeoutCtx); err != nil {
		a.logger.Error("failed to shutdown HTTP server", sl.Err(err))
	}

	if err := <-driverDone; err != nil {
		a.logger.Error("scheduler stopped with error", sl.Err(err))
	}
	return runErr
}

func (a *App) close() {
	for i := len(a.closes) - 1; i >= 0; i-- {
		if err := a.closes[i](); err != nil {
			a.logger.Error("failed to close resource", sl.Err(err))
		}
	}
	a.closes = nil
}
