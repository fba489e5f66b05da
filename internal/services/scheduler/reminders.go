package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// DefaultReminderLead за сколько до занятия приходит напоминание.
const DefaultReminderLead = 2 * time.Hour

// ReminderNotifier операции с уведомлениями для напоминаний о занятиях.
type ReminderNotifier interface {
	CreateFromTemplate(ctx context.Context, clientID string, t models.NotificationType, data map[string]string, scheduledAt *time.Time) (*models.Notification, error)
	Send(ctx context.Context, id string) (bool, error)
	Cancel(ctx context.Context, id string) (*models.Notification, error)
	ListForClient(ctx context.Context, clientID string) ([]*models.Notification, error)
}

// Reminders планирует напоминания о занятиях: создаёт отложенное уведомление
// и разовое задание, которое отправит его вовремя. Если процесс перезапустится,
// уведомление отправит периодическая обработка отложенных уведомлений.
type Reminders struct {
	notifier ReminderNotifier
	driver   *Driver
	lead     time.Duration
	loc      *time.Location
	log      *slog.Logger
}

// NewReminders создаёт планировщик напоминаний.
func NewReminders(notifier ReminderNotifier, driver *Driver, lead time.Duration, loc *time.Location, log *slog.Logger) *Reminders {
	if lead <= 0 {
		lead = DefaultReminderLead
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Reminders{notifier: notifier, driver: driver, lead: lead, loc: loc, log: log}
}

// ReminderJobID идентификатор разового задания напоминания для записи.
func ReminderJobID(bookingID string) string {
	return "class_reminder_" + bookingID
}

// ScheduleReminder создаёт напоминание о занятии и возвращает идентификатор уведомления.
func (r *Reminders) ScheduleReminder(ctx context.Context, b *models.Booking) (string, error) {
	const op = "scheduler.ScheduleReminder"

	at := b.ClassDate.Add(-r.lead)
	n, err := r.notifier.CreateFromTemplate(ctx, b.ClientID, models.NotificationClassReminder, map[string]string{
		"class_type": b.ClassType,
		"class_date": b.ClassDate.In(r.loc).Format("02.01.2006 15:04"),
		"booking_id": b.ID,
	}, &at)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	notificationID := n.ID
	r.driver.ScheduleOnce(ReminderJobID(b.ID), at, func(ctx context.Context) error {
		_, err := r.notifier.Send(ctx, notificationID)
		return err
	})

	r.log.Debug("class reminder scheduled",
		slog.String("booking_id", b.ID),
		slog.String("notification_id", notificationID),
		slog.Time("at", at))
	return notificationID, nil
}

// CancelReminder отменяет задание и уведомление напоминания. Если идентификатор
// уведомления не сохранился в записи, напоминание ищется по booking_id.
func (r *Reminders) CancelReminder(ctx context.Context, b *models.Booking) error {
	const op = "scheduler.CancelReminder"

	r.driver.CancelOnce(ReminderJobID(b.ID))

	ids := []string{b.ReminderID}
	if b.ReminderID == "" {
		found, err := r.openReminders(ctx, b)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		ids = found
	}
	for _, id := range ids {
		if _, err := r.notifier.Cancel(ctx, id); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// openReminders ищет неотправленные напоминания клиента о записи b.
func (r *Reminders) openReminders(ctx context.Context, b *models.Booking) ([]string, error) {
	list, err := r.notifier.ListForClient(ctx, b.ClientID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, n := range list {
		if n.Type != models.NotificationClassReminder || n.Metadata["booking_id"] != b.ID {
			continue
		}
		if n.Status == models.NotificationPending || n.Status == models.NotificationFailed {
			ids = append(ids, n.ID)
		}
	}
	return ids, nil
}
