package services

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/magabrotheeeer/yoga-studio/internal/config"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// Названия периодических задач.
const (
	TaskProcessScheduled = "process-scheduled-notifications"
	TaskRetryFailed      = "retry-failed-notifications"
	TaskRefreshStatuses  = "refresh-subscription-statuses"
	TaskNotifyExpiring   = "notify-expiring-subscriptions"
	TaskDailySchedule    = "daily-class-schedule"
)

// Ledger операции учёта абонементов, которые нужны периодическим задачам.
type Ledger interface {
	RefreshStatuses(ctx context.Context) (int, error)
	ExpiringWithin(ctx context.Context, days int) ([]*models.Subscription, error)
	ActiveClients(ctx context.Context) ([]string, error)
	Today() time.Time
}

// Notifier операции с уведомлениями.
type Notifier interface {
	ProcessScheduled(ctx context.Context, now time.Time) (int, error)
	RetryFailed(ctx context.Context) (int, error)
	Notify(ctx context.Context, clientID string, t models.NotificationType, data map[string]string) (*models.Notification, bool, error)
}

// Deduper пропускает ключ только один раз за ttl.
type Deduper interface {
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Sweeps периодические задачи студии.
type Sweeps struct {
	ledger     Ledger
	notifier   Notifier
	dedupe     Deduper
	log        *slog.Logger
	now        func() time.Time
	daysBefore int
	classes    map[time.Weekday]string
}

// NewSweeps создаёт набор задач. dedupe может быть nil.
func NewSweeps(ledger Ledger, notifier Notifier, dedupe Deduper, daysBefore int, log *slog.Logger) *Sweeps {
	return &Sweeps{
		ledger:     ledger,
		notifier:   notifier,
		dedupe:     dedupe,
		log:        log,
		now:        time.Now,
		daysBefore: daysBefore,
		classes:    DefaultClassSchedule,
	}
}

// Tasks собирает таблицу задач по расписанию из конфига.
func (s *Sweeps) Tasks(cfg config.Scheduler, loc *time.Location) ([]Task, error) {
	const op = "scheduler.Tasks"

	refreshAt, err := ParseDailyAt(cfg.RefreshStatusesAt, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	expiringAt, err := ParseDailyAt(cfg.ExpiringCheckAt, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	scheduleAt, err := ParseDailyAt(cmp.Or(cfg.DailyScheduleAt, "18:00"), loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	classes, err := ClassSchedule(cfg.ClassSchedule)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.classes = classes

	return []Task{
		{Name: TaskProcessScheduled, Schedule: Every(cfg.ProcessScheduledEvery), Run: s.ProcessScheduled, RunOnStart: true},
		{Name: TaskRetryFailed, Schedule: Every(cfg.RetryFailedEvery), Run: s.RetryFailed},
		{Name: TaskRefreshStatuses, Schedule: refreshAt, Run: s.RefreshStatuses},
		{Name: TaskNotifyExpiring, Schedule: expiringAt, Run: s.NotifyExpiring},
		{Name: TaskDailySchedule, Schedule: scheduleAt, Run: s.DailySchedule},
	}, nil
}

// ProcessScheduled отправляет уведомления, время которых наступило.
func (s *Sweeps) ProcessScheduled(ctx context.Context) error {
	_, err := s.notifier.ProcessScheduled(ctx, s.now())
	return err
}

// RetryFailed повторяет упавшие отправки.
func (s *Sweeps) RetryFailed(ctx context.Context) error {
	_, err := s.notifier.RetryFailed(ctx)
	return err
}

// RefreshStatuses обновляет статусы абонементов.
func (s *Sweeps) RefreshStatuses(ctx context.Context) error {
	_, err := s.ledger.RefreshStatuses(ctx)
	return err
}

// NotifyExpiring предупреждает клиентов, чьи абонементы заканчиваются в ближайшие дни.
// Для одного абонемента и даты окончания предупреждение уходит один раз.
func (s *Sweeps) NotifyExpiring(ctx context.Context) error {
	const op = "scheduler.NotifyExpiring"

	subs, err := s.ledger.ExpiringWithin(ctx, s.daysBefore)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	today := s.ledger.Today()
	ttl := time.Duration(s.daysBefore+1) * 24 * time.Hour
	sent := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		log := s.log.With(slog.String("subscription_id", sub.ID), slog.String("client_id", sub.ClientID))

		if s.dedupe != nil {
			key := fmt.Sprintf("expiring:%s:%s", sub.ID, sub.EndDate.Format(time.DateOnly))
			first, err := s.dedupe.Once(ctx, key, ttl)
			if err != nil {
				log.Warn("dedupe check failed, notifying anyway", sl.Err(err))
			} else if !first {
				continue
			}
		}

		remaining := strconv.Itoa(sub.RemainingClasses())
		if sub.IsUnlimited() {
			remaining = "без ограничений"
		}
		_, ok, err := s.notifier.Notify(ctx, sub.ClientID, models.NotificationSubscriptionExpiring, map[string]string{
			"subscription_type": string(sub.Type),
			"end_date":          sub.EndDate.Format("02.01.2006"),
			"remaining_classes": remaining,
			"days_left":         strconv.Itoa(sub.DaysLeft(today)),
		})
		if err != nil {
			log.Error("failed to notify about expiring subscription", sl.Err(err))
			continue
		}
		if ok {
			sent++
		}
	}

	s.log.Info("expiring subscriptions checked", slog.Int("found", len(subs)), slog.Int("notified", sent))
	return nil
}

// DailySchedule присылает клиентам с действующим абонементом расписание занятий
// на завтра. Каждый клиент получает расписание на дату один раз.
func (s *Sweeps) DailySchedule(ctx context.Context) error {
	const op = "scheduler.DailySchedule"

	tomorrow := s.ledger.Today().AddDate(0, 0, 1)
	classes := s.classes[tomorrow.Weekday()]
	if classes == "" {
		s.log.Info("no classes tomorrow, schedule is not sent", slog.String("weekday", tomorrow.Weekday().String()))
		return nil
	}

	clients, err := s.ledger.ActiveClients(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	data := map[string]string{
		"schedule_date": tomorrow.Format("02.01.2006"),
		"schedule":      classes,
	}
	sent := 0
	for _, clientID := range clients {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		log := s.log.With(slog.String("client_id", clientID))

		if s.dedupe != nil {
			key := fmt.Sprintf("daily-schedule:%s:%s", clientID, tomorrow.Format(time.DateOnly))
			first, err := s.dedupe.Once(ctx, key, 24*time.Hour)
			if err != nil {
				log.Warn("dedupe check failed, notifying anyway", sl.Err(err))
			} else if !first {
				continue
			}
		}

		_, ok, err := s.notifier.Notify(ctx, clientID, models.NotificationDailySchedule, data)
		if err != nil {
			log.Error("failed to send daily schedule", sl.Err(err))
			continue
		}
		if ok {
			sent++
		}
	}

	s.log.Info("daily schedule sent", slog.Int("clients", len(clients)), slog.Int("notified", sent))
	return nil
}
