// Package services связывает записи на занятия со списанием занятий с абонемента.
//
// Запись создаётся только после успешного списания. Если запись не удалось сохранить,
// занятие возвращается на абонемент. Отмена сначала фиксирует статус CANCELLED,
// и только затем возвращает занятие, поэтому повторная отмена не вернёт его дважды.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/ids"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/keylock"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
	"github.com/magabrotheeeer/yoga-studio/internal/metrics"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// BookingRepository хранилище записей.
type BookingRepository interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking) error
	ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error)
}

// Ledger операции с абонементами, которые нужны записи.
type Ledger interface {
	Get(ctx context.Context, id string) (*models.Subscription, error)
	ListByClient(ctx context.Context, clientID string) ([]*models.Subscription, error)
	Debit(ctx context.Context, id string) (int, error)
	Credit(ctx context.Context, id string) error
	Today() time.Time
}

// ClientDirectory проверяет существование клиента.
type ClientDirectory interface {
	GetClient(ctx context.Context, id string) (*models.Client, error)
}

// ReminderScheduler планирует напоминание о занятии и возвращает идентификатор уведомления.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, b *models.Booking) (string, error)
	CancelReminder(ctx context.Context, b *models.Booking) error
}

// Locker взаимное исключение по ключу.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Coordinator управляет записями на занятия.
type Coordinator struct {
	repo      BookingRepository
	ledger    Ledger
	clients   ClientDirectory
	reminders ReminderScheduler
	locker    Locker
	policy    SelectionPolicy
	validate  *validator.Validate
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
	loc       *time.Location
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithReminders подключает планировщик напоминаний.
func WithReminders(r ReminderScheduler) Option {
	return func(c *Coordinator) { c.reminders = r }
}

// WithLocker задаёт блокировку по ключу.
func WithLocker(l Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithPolicy задаёт политику выбора абонемента.
func WithPolicy(p SelectionPolicy) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLocation задаёт часовой пояс студии для ListForDay.
func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) { c.loc = loc }
}

// New создаёт Coordinator.
func New(repo BookingRepository, ledger Ledger, clients ClientDirectory, log *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:     repo,
		ledger:   ledger,
		clients:  clients,
		locker:   keylock.New(),
		policy:   MostRecent,
		validate: validator.New(),
		log:      log,
		now:      time.Now,
		loc:      time.UTC,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func lockKey(id string) string {
	return "booking:" + id
}

// CreateBooking записывает клиента на занятие и списывает занятие с абонемента.
// Если абонемент не указан, он выбирается политикой среди активных абонементов клиента.
func (c *Coordinator) CreateBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	const op = "booking.CreateBooking"

	b, err := c.createBooking(ctx, req)
	c.metrics.BookingOp("create", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

func (c *Coordinator) createBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(apperr.ErrValidation, err)
	}
	now := c.now()
	if req.ClassDate.Before(now) {
		return nil, apperr.Newf(apperr.ErrValidation, "class date %s is in the past", req.ClassDate.Format(time.RFC3339))
	}
	if _, err := c.clients.GetClient(ctx, req.ClientID); err != nil {
		return nil, err
	}

	sub, err := c.resolveSubscription(ctx, req)
	if err != nil {
		return nil, err
	}

	remaining, err := c.ledger.Debit(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	duration := req.ClassDuration
	if duration == 0 {
		duration = models.DefaultClassDuration
	}
	b := &models.Booking{
		ID:             ids.New(ids.PrefixBooking),
		ClientID:       req.ClientID,
		SubscriptionID: sub.ID,
		ClassDate:      req.ClassDate,
		ClassType:      req.ClassType,
		ClassDuration:  duration,
		TeacherName:    req.TeacherName,
		Notes:          req.Notes,
		Status:         models.BookingScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.repo.CreateBooking(ctx, b); err != nil {
		c.refund(ctx, sub.ID, "booking was not saved")
		return nil, err
	}

	log := c.log.With(
		slog.String("booking_id", b.ID),
		slog.String("client_id", b.ClientID),
		slog.String("subscription_id", sub.ID),
	)
	log.Info("booking created", slog.Int("remaining_classes", remaining))

	c.scheduleReminder(ctx, b, log)
	return b, nil
}

// refund возвращает списанное занятие, если запись не состоялась.
func (c *Coordinator) refund(ctx context.Context, subscriptionID, reason string) {
	if err := c.ledger.Credit(context.WithoutCancel(ctx), subscriptionID); err != nil {
		c.log.Error("failed to return class to subscription",
			slog.String("subscription_id", subscriptionID),
			slog.String("reason", reason),
			sl.Err(err))
		return
	}
	c.log.Warn("class returned to subscription",
		slog.String("subscription_id", subscriptionID), slog.String("reason", reason))
}

func (c *Coordinator) scheduleReminder(ctx context.Context, b *models.Booking, log *slog.Logger) {
	if c.reminders == nil {
		return
	}
	reminderID, err := c.reminders.ScheduleReminder(ctx, b)
	if err != nil {
		log.Warn("failed to schedule class reminder", sl.Err(err))
		return
	}
	if reminderID == "" {
		return
	}
	stored, err := c.mutate(ctx, b.ID, func(cur *models.Booking, _ time.Time) (bool, error) {
		cur.ReminderID = reminderID
		return true, nil
	})
	if err != nil {
		log.Warn("failed to store reminder id", sl.Err(err))
		return
	}
	*b = *stored
}

func (c *Coordinator) resolveSubscription(ctx context.Context, req models.BookingRequest) (*models.Subscription, error) {
	if req.SubscriptionID != "" {
		if err := ids.Validate(req.SubscriptionID, ids.PrefixSubscription); err != nil {
			return nil, apperr.Wrap(apperr.ErrValidation, err)
		}
		sub, err := c.ledger.Get(ctx, req.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub.ClientID != req.ClientID {
			return nil, apperr.Newf(apperr.ErrSubscriptionNotOwned, "subscription %s belongs to another client", sub.ID)
		}
		return sub, nil
	}

	subs, err := c.ledger.ListByClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	today := c.ledger.Today()
	candidates := make([]*models.Subscription, 0, len(subs))
	for _, s := range subs {
		if s.IsActive(today) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil, apperr.Newf(apperr.ErrNoActiveSubscription, "client %s has no active subscription", req.ClientID)
	}
	return c.policy(candidates), nil
}

// CancelResult итог отмены записи. Если занятие не удалось вернуть,
// запись всё равно остаётся отменённой, а причина попадает в CreditWarning.
type CancelResult struct {
	Booking        *models.Booking `json:"booking"`
	CreditReturned bool            `json:"credit_returned"`
	CreditWarning  string          `json:"credit_warning,omitempty"`
}

// CancelBooking отменяет запись и возвращает занятие на абонемент.
func (c *Coordinator) CancelBooking(ctx context.Context, id string) (*CancelResult, error) {
	const op = "booking.CancelBooking"

	b, err := c.mutate(ctx, id, func(b *models.Booking, now time.Time) (bool, error) {
		if !b.CanBeCancelled(now) {
			return false, apperr.Newf(apperr.ErrBookingNotCancellable,
				"booking %s is %s, class starts at %s", b.ID, b.Status, b.ClassDate.Format(time.RFC3339))
		}
		b.Status = models.BookingCancelled
		b.CancelledAt = &now
		return true, nil
	})
	c.metrics.BookingOp("cancel", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log := c.log.With(slog.String("booking_id", b.ID), slog.String("subscription_id", b.SubscriptionID))
	res := &CancelResult{Booking: b}
	if b.SubscriptionID != "" {
		if err := c.ledger.Credit(ctx, b.SubscriptionID); err != nil {
			log.Warn("booking cancelled but class was not returned", sl.Err(err))
			res.CreditWarning = err.Error()
		} else {
			res.CreditReturned = true
		}
	}

	if c.reminders != nil {
		if err := c.reminders.CancelReminder(ctx, b); err != nil {
			log.Warn("failed to cancel class reminder", sl.Err(err))
		}
	}

	log.Info("booking cancelled", slog.Bool("credit_returned", res.CreditReturned))
	return res, nil
}

// mutate выполняет чтение-изменение-запись записи под блокировкой.
func (c *Coordinator) mutate(ctx context.Context, id string, fn func(b *models.Booking, now time.Time) (bool, error)) (*models.Booking, error) {
	unlock, err := c.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := c.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	now := c.now()
	changed, err := fn(b, now)
	if err != nil || !changed {
		return b, err
	}
	b.UpdatedAt = now
	if err := c.repo.UpdateBooking(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Confirm подтверждает запись.
func (c *Coordinator) Confirm(ctx context.Context, id string) (*models.Booking, error) {
	const op = "booking.Confirm"
	b, err := c.mutate(ctx, id, func(b *models.Booking, now time.Time) (bool, error) {
		switch b.Status {
		case models.BookingConfirmed:
			return false, nil
		case models.BookingScheduled:
			b.Status = models.BookingConfirmed
			b.ConfirmedAt = &now
			return true, nil
		default:
			return false, apperr.Newf(apperr.ErrInvalidTransition, "booking %s is %s", b.ID, b.Status)
		}
	})
	c.metrics.BookingOp("confirm", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// MarkAttended отмечает посещение занятия.
func (c *Coordinator) MarkAttended(ctx context.Context, id string) (*models.Booking, error) {
	const op = "booking.MarkAttended"
	b, err := c.mutate(ctx, id, func(b *models.Booking, now time.Time) (bool, error) {
		return finish(b, models.BookingAttended, now)
	})
	c.metrics.BookingOp("attended", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// MarkMissed отмечает пропуск занятия. Занятие на абонемент не возвращается.
func (c *Coordinator) MarkMissed(ctx context.Context, id string) (*models.Booking, error) {
	const op = "booking.MarkMissed"
	b, err := c.mutate(ctx, id, func(b *models.Booking, now time.Time) (bool, error) {
		return finish(b, models.BookingMissed, now)
	})
	c.metrics.BookingOp("missed", err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

func finish(b *models.Booking, status models.BookingStatus, now time.Time) (bool, error) {
	if b.Status == status {
		return false, nil
	}
	if b.Status != models.BookingScheduled && b.Status != models.BookingConfirmed {
		return false, apperr.Newf(apperr.ErrInvalidTransition, "booking %s is %s", b.ID, b.Status)
	}
	b.Status = status
	if status == models.BookingAttended {
		b.AttendedAt = &now
	}
	return true, nil
}

// Get возвращает запись.
func (c *Coordinator) Get(ctx context.Context, id string) (*models.Booking, error) {
	const op = "booking.Get"
	b, err := c.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// ListForClient возвращает записи клиента по дате занятия.
// При upcomingOnly остаются только будущие неотменённые записи.
func (c *Coordinator) ListForClient(ctx context.Context, clientID string, upcomingOnly bool) ([]*models.Booking, error) {
	const op = "booking.ListForClient"
	f := models.BookingFilter{ClientID: clientID}
	if upcomingOnly {
		now := c.now()
		f.From = &now
		f.Statuses = []models.BookingStatus{models.BookingScheduled, models.BookingConfirmed}
	}
	list, err := c.repo.ListBookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// ListForDay возвращает все записи на календарный день в часовом поясе студии.
func (c *Coordinator) ListForDay(ctx context.Context, day time.Time) ([]*models.Booking, error) {
	const op = "booking.ListForDay"
	y, m, d := day.In(c.loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, c.loc)
	to := from.AddDate(0, 0, 1)
	list, err := c.repo.ListBookings(ctx, models.BookingFilter{From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}
