// Package services отвечает за жизненный цикл уведомлений: создание, отправку через транспорт,
// отметки о доставке и ошибке, повторные попытки и пакетную обработку по расписанию.
package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/ids"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/keylock"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/render"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
	"github.com/magabrotheeeer/yoga-studio/internal/metrics"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

const (
	// DefaultSendTimeout ограничение на одну отправку.
	DefaultSendTimeout = 10 * time.Second
	// DefaultConcurrency число одновременных отправок при пакетной обработке.
	DefaultConcurrency = 8
)

// NotificationRepository хранилище уведомлений.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	UpdateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, f models.NotificationFilter) ([]*models.Notification, error)
}

// ClientDirectory источник данных клиента.
type ClientDirectory interface {
	GetClient(ctx context.Context, id string) (*models.Client, error)
}

// Transport доставляет сообщение и возвращает ссылку на него во внешней системе.
type Transport interface {
	Dispatch(ctx context.Context, msg models.OutboundMessage) (string, error)
}

// Locker взаимное исключение по ключу.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Engine управляет уведомлениями.
type Engine struct {
	repo        NotificationRepository
	clients     ClientDirectory
	transport   Transport
	locker      Locker
	validate    *validator.Validate
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time
	sendTimeout time.Duration
	concurrency int
	receipts    bool
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLocker задаёт блокировку по ключу.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSendTimeout задаёт ограничение на одну отправку.
func WithSendTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sendTimeout = d
		}
	}
}

// WithConcurrency задаёт число одновременных отправок в пакетной обработке.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithDeliveryReceipts сообщает, что транспорт подтверждает доставку отдельно
// через MarkDelivered и MarkFailed. Без подтверждений успешная отправка сразу
// считается доставкой.
func WithDeliveryReceipts(enabled bool) Option {
	return func(e *Engine) { e.receipts = enabled }
}

// New создаёт Engine.
func New(repo NotificationRepository, clients ClientDirectory, transport Transport, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:        repo,
		clients:     clients,
		transport:   transport,
		locker:      keylock.New(),
		validate:    validator.New(),
		log:         log,
		now:         time.Now,
		sendTimeout: DefaultSendTimeout,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func lockKey(id string) string {
	return "notification:" + id
}

// Create создаёт уведомление в статусе PENDING.
func (e *Engine) Create(ctx context.Context, req models.NotificationRequest) (*models.Notification, error) {
	const op = "notification.Create"

	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.ErrValidation, err))
	}
	client, err := e.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	maxRetries := models.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	now := e.now()
	n := &models.Notification{
		ID:          ids.New(ids.PrefixNotification),
		ClientID:    req.ClientID,
		Type:        req.Type,
		Title:       req.Title,
		Message:     req.Message,
		Priority:    cmp.Or(req.Priority, models.PriorityNormal),
		Channel:     cmp.Or(req.Channel, defaultChannel(client)),
		Status:      models.NotificationPending,
		ScheduledAt: req.ScheduledAt,
		MaxRetries:  maxRetries,
		Metadata:    maps.Clone(req.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.log.Debug("notification created",
		slog.String("notification_id", n.ID),
		slog.String("client_id", n.ClientID),
		slog.String("type", string(n.Type)))
	return n, nil
}

func defaultChannel(c *models.Client) models.Channel {
	if c.TelegramID == 0 && c.Email != "" {
		return models.ChannelEmail
	}
	return models.ChannelTelegram
}

// CreateFromTemplate создаёт уведомление по шаблону типа t. Ключ client_name
// заполняется из справочника клиентов, если его нет в data.
func (e *Engine) CreateFromTemplate(ctx context.Context, clientID string, t models.NotificationType, data map[string]string, scheduledAt *time.Time) (*models.Notification, error) {
	const op = "notification.CreateFromTemplate"

	tpl, err := render.For(t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.ErrValidation, err))
	}
	client, err := e.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	data = maps.Clone(data)
	if data == nil {
		data = make(map[string]string)
	}
	if _, ok := data["client_name"]; !ok {
		data["client_name"] = client.Name
	}

	title, message, err := tpl.Render(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, apperr.Wrap(apperr.ErrValidation, err))
	}

	n, err := e.Create(ctx, models.NotificationRequest{
		ClientID:    clientID,
		Type:        t,
		Title:       title,
		Message:     message,
		Priority:    tpl.Priority,
		ScheduledAt: scheduledAt,
		Metadata:    data,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Notify создаёт уведомление по шаблону и сразу отправляет его.
func (e *Engine) Notify(ctx context.Context, clientID string, t models.NotificationType, data map[string]string) (*models.Notification, bool, error) {
	const op = "notification.Notify"
	n, err := e.CreateFromTemplate(ctx, clientID, t, data, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	sent, err := e.Send(ctx, n.ID)
	if err != nil {
		return n, false, fmt.Errorf("%s: %w", op, err)
	}
	return n, sent, nil
}

// Get возвращает уведомление.
func (e *Engine) Get(ctx context.Context, id string) (*models.Notification, error) {
	const op = "notification.Get"
	n, err := e.repo.GetNotification(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ListForClient возвращает уведомления клиента в порядке создания.
func (e *Engine) ListForClient(ctx context.Context, clientID string) ([]*models.Notification, error) {
	const op = "notification.ListForClient"
	list, err := e.repo.ListNotifications(ctx, models.NotificationFilter{ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// Send отправляет уведомление в статусе PENDING и возвращает true при успешной отправке.
// Уведомление в другом статусе не отправляется. Ошибка транспорта или ответ позже
// sendTimeout не возвращается вызывающему, а переводит уведомление в FAILED. Начатая отправка и запись её
// результата не прерываются отменой ctx.
func (e *Engine) Send(ctx context.Context, id string) (bool, error) {
	const op = "notification.Send"

	unlock, err := e.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	n, err := e.repo.GetNotification(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n.Status != models.NotificationPending {
		e.log.Debug("notification is not pending, skipping",
			slog.String("notification_id", id), slog.String("status", string(n.Status)))
		return false, nil
	}

	detached := context.WithoutCancel(ctx)
	ref, dispatchErr := e.dispatch(detached, models.OutboundMessage{
		NotificationID: n.ID,
		ClientID:       n.ClientID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		Title:          n.Title,
		Text:           n.Message,
	})
	e.metrics.Dispatch(string(n.Channel), dispatchErr)

	now := e.now()
	if dispatchErr != nil {
		markFailed(n, dispatchErr.Error(), now)
		e.logFailure(n, dispatchErr)
	} else {
		markSent(n, ref, now)
		if !e.receipts {
			markDelivered(n, now)
		}
	}

	if err := e.repo.UpdateNotification(detached, n); err != nil {
		if !errors.Is(err, apperr.ErrConcurrencyConflict) {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		// квитанция о доставке успела записаться раньше результата отправки
		cur, getErr := e.repo.GetNotification(detached, id)
		if getErr != nil || cur.Status == models.NotificationPending {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		return cur.Status == models.NotificationSent || cur.Status == models.NotificationDelivered, nil
	}

	if dispatchErr == nil {
		e.log.Info("notification sent",
			slog.String("notification_id", n.ID),
			slog.String("channel", string(n.Channel)),
			slog.String("status", string(n.Status)))
	}
	return dispatchErr == nil, nil
}

type dispatchResult struct {
	ref string
	err error
}

// dispatch передаёт сообщение транспорту и ждёт не дольше sendTimeout. Если транспорт
// не уложился, отправка считается неудачной, даже когда он завершится позже.
func (e *Engine) dispatch(ctx context.Context, msg models.OutboundMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	done := make(chan dispatchResult, 1)
	go func() {
		ref, err := e.transport.Dispatch(ctx, msg)
		done <- dispatchResult{ref: ref, err: err}
	}()

	select {
	case res := <-done:
		return res.ref, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("dispatch timed out after %s: %w", e.sendTimeout, ctx.Err())
	}
}

func (e *Engine) logFailure(n *models.Notification, err error) {
	attrs := []any{
		slog.String("notification_id", n.ID),
		slog.Int("retry_count", n.RetryCount),
		slog.Int("max_retries", n.MaxRetries),
		sl.Err(err),
	}
	if n.RetryCount >= n.MaxRetries {
		e.metrics.RetryExhausted()
		e.log.Error("notification retries exhausted", attrs...)
		return
	}
	e.log.Warn("notification dispatch failed", attrs...)
}

func markSent(n *models.Notification, ref string, now time.Time) {
	n.Status = models.NotificationSent
	n.SentAt = &now
	n.FailedAt = nil
	n.LastError = ""
	if ref != "" {
		n.MessageRef = ref
	}
	n.UpdatedAt = now
}

func markDelivered(n *models.Notification, now time.Time) {
	if n.SentAt == nil {
		n.SentAt = &now
	}
	n.Status = models.NotificationDelivered
	n.DeliveredAt = &now
	n.FailedAt = nil
	n.UpdatedAt = now
}

func markFailed(n *models.Notification, reason string, now time.Time) {
	n.Status = models.NotificationFailed
	n.FailedAt = &now
	n.SentAt = nil
	n.DeliveredAt = nil
	n.RetryCount++
	n.LastError = reason
	n.UpdatedAt = now
}

// mutate выполняет чтение-изменение-запись уведомления под блокировкой.
func (e *Engine) mutate(ctx context.Context, op, id string, fn func(n *models.Notification) (bool, error)) (*models.Notification, error) {
	unlock, err := e.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	n, err := e.repo.GetNotification(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	changed, err := fn(n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !changed {
		return n, nil
	}
	if err := e.repo.UpdateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// MarkDelivered отмечает доставку. Квитанция может прийти раньше, чем записан
// результат отправки, поэтому уведомление в PENDING тоже принимается.
func (e *Engine) MarkDelivered(ctx context.Context, id string) (*models.Notification, error) {
	return e.mutate(ctx, "notification.MarkDelivered", id, func(n *models.Notification) (bool, error) {
		switch n.Status {
		case models.NotificationDelivered:
			return false, nil
		case models.NotificationSent, models.NotificationPending:
			markDelivered(n, e.now())
			return true, nil
		default:
			return false, apperr.Newf(apperr.ErrInvalidTransition, "notification %s is %s", n.ID, n.Status)
		}
	})
}

// MarkFailed отмечает неудачную доставку с причиной reason.
func (e *Engine) MarkFailed(ctx context.Context, id, reason string) (*models.Notification, error) {
	return e.mutate(ctx, "notification.MarkFailed", id, func(n *models.Notification) (bool, error) {
		switch n.Status {
		case models.NotificationFailed:
			return false, nil
		case models.NotificationSent, models.NotificationPending:
			markFailed(n, reason, e.now())
			e.logFailure(n, errors.New(reason))
			return true, nil
		default:
			return false, apperr.Newf(apperr.ErrInvalidTransition, "notification %s is %s", n.ID, n.Status)
		}
	})
}

// Cancel отменяет уведомление. Доставленное уведомление не меняется.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Notification, error) {
	return e.mutate(ctx, "notification.Cancel", id, func(n *models.Notification) (bool, error) {
		switch n.Status {
		case models.NotificationCancelled:
			return false, nil
		case models.NotificationDelivered:
			e.log.Info("notification already delivered, cancel ignored", slog.String("notification_id", n.ID))
			return false, nil
		}
		n.Status = models.NotificationCancelled
		n.UpdatedAt = e.now()
		return true, nil
	})
}

// ProcessScheduled отправляет все уведомления в PENDING, время которых наступило к now,
// включая уведомления без времени. Возвращает число успешных отправок.
func (e *Engine) ProcessScheduled(ctx context.Context, now time.Time) (int, error) {
	const op = "notification.ProcessScheduled"

	due, err := e.repo.ListNotifications(ctx, models.NotificationFilter{
		Statuses:  []models.NotificationStatus{models.NotificationPending},
		DueBefore: &now,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	sent, err := e.dispatchAll(ctx, due, e.Send)
	if err != nil {
		return sent, fmt.Errorf("%s: %w", op, err)
	}
	if len(due) > 0 {
		e.log.Info("scheduled notifications processed", slog.Int("due", len(due)), slog.Int("sent", sent))
	}
	return sent, nil
}

// RetryFailed возвращает в PENDING упавшие уведомления с оставшимися попытками
// и отправляет их заново. Возвращает число успешных отправок.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	const op = "notification.RetryFailed"

	failed, err := e.repo.ListNotifications(ctx, models.NotificationFilter{
		Statuses:      []models.NotificationStatus{models.NotificationFailed},
		RetryEligible: true,
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	sent, err := e.dispatchAll(ctx, failed, e.retry)
	if err != nil {
		return sent, fmt.Errorf("%s: %w", op, err)
	}
	if len(failed) > 0 {
		e.log.Info("failed notifications retried", slog.Int("candidates", len(failed)), slog.Int("sent", sent))
	}
	return sent, nil
}

func (e *Engine) retry(ctx context.Context, id string) (bool, error) {
	n, err := e.mutate(ctx, "notification.retry", id, func(n *models.Notification) (bool, error) {
		if !n.CanRetry() {
			return false, nil
		}
		n.Status = models.NotificationPending
		n.FailedAt = nil
		n.UpdatedAt = e.now()
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if n.Status != models.NotificationPending {
		return false, nil
	}
	return e.Send(ctx, id)
}

// dispatchAll отправляет уведомления параллельно в порядке убывания приоритета.
// Ошибка одной отправки не останавливает остальные, возвращается первая из них.
func (e *Engine) dispatchAll(ctx context.Context, list []*models.Notification, send func(context.Context, string) (bool, error)) (int, error) {
	slices.SortStableFunc(list, func(a, b *models.Notification) int {
		if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var (
		g    errgroup.Group
		sent atomic.Int64
	)
	g.SetLimit(e.concurrency)
	for _, n := range list {
		if ctx.Err() != nil {
			break
		}
		id := n.ID
		g.Go(func() error {
			ok, err := send(ctx, id)
			if err != nil {
				e.log.Error("failed to send notification", slog.String("notification_id", id), sl.Err(err))
				return err
			}
			if ok {
				sent.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(sent.Load()), err
}

// Stats сводка по уведомлениям.
type Stats struct {
	Total    int                               `json:"total"`
	ByStatus map[models.NotificationStatus]int `json:"by_status"`
	ByType   map[models.NotificationType]int   `json:"by_type"`
	// DeliveryRate доля доставленных среди отправленных, в процентах.
	DeliveryRate float64 `json:"delivery_rate"`
}

// Statistics считает уведомления по статусам и типам. Пустой clientID означает всех клиентов.
func (e *Engine) Statistics(ctx context.Context, clientID string) (*Stats, error) {
	const op = "notification.Statistics"
	list, err := e.repo.ListNotifications(ctx, models.NotificationFilter{ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	stats := &Stats{
		Total:    len(list),
		ByStatus: make(map[models.NotificationStatus]int),
		ByType:   make(map[models.NotificationType]int),
	}
	for _, n := range list {
		stats.ByStatus[n.Status]++
		stats.ByType[n.Type]++
	}
	delivered := stats.ByStatus[models.NotificationDelivered]
	if sent := delivered + stats.ByStatus[models.NotificationSent]; sent > 0 {
		stats.DeliveryRate = float64(delivered) * 100 / float64(sent)
	}
	return stats, nil
}
