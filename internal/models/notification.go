package models

import "time"

// NotificationType тип уведомления.
type NotificationType string

// Типы уведомлений.
const (
	NotificationSubscriptionExpiring  NotificationType = "SUBSCRIPTION_EXPIRING"
	NotificationSubscriptionExpired   NotificationType = "SUBSCRIPTION_EXPIRED"
	NotificationClassesRunningOut     NotificationType = "CLASSES_RUNNING_OUT"
	NotificationPaymentReminder       NotificationType = "PAYMENT_REMINDER"
	NotificationClassReminder         NotificationType = "CLASS_REMINDER"
	NotificationWelcomeMessage        NotificationType = "WELCOME_MESSAGE"
	NotificationRegistrationComplete  NotificationType = "REGISTRATION_COMPLETE"
	NotificationSubscriptionPurchased NotificationType = "SUBSCRIPTION_PURCHASED"
	NotificationGeneralInfo           NotificationType = "GENERAL_INFO"
	NotificationDailySchedule         NotificationType = "DAILY_SCHEDULE"
)

// NotificationStatus статус уведомления.
type NotificationStatus string

// Статусы уведомления.
const (
	NotificationPending   NotificationStatus = "PENDING"
	NotificationSent      NotificationStatus = "SENT"
	NotificationDelivered NotificationStatus = "DELIVERED"
	NotificationFailed    NotificationStatus = "FAILED"
	NotificationCancelled NotificationStatus = "CANCELLED"
)

// Priority приоритет уведомления.
type Priority string

// Приоритеты уведомлений.
const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank используется для сортировки: чем больше, тем раньше отправка.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Channel канал доставки.
type Channel string

// Каналы доставки.
const (
	ChannelTelegram Channel = "telegram"
	ChannelEmail    Channel = "email"
)

// DefaultMaxRetries число повторных попыток отправки по умолчанию.
const DefaultMaxRetries = 3

// Notification уведомление клиенту.
type Notification struct {
	ID          string             `json:"id" db:"id"`
	ClientID    string             `json:"client_id" db:"client_id"`
	Type        NotificationType   `json:"type" db:"type"`
	Title       string             `json:"title" db:"title"`
	Message     string             `json:"message" db:"message"`
	Priority    Priority           `json:"priority" db:"priority"`
	Channel     Channel            `json:"channel" db:"channel"`
	Status      NotificationStatus `json:"status" db:"status"`
	ScheduledAt *time.Time         `json:"scheduled_at,omitempty" db:"scheduled_at"`
	SentAt      *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty" db:"delivered_at"`
	FailedAt    *time.Time         `json:"failed_at,omitempty" db:"failed_at"`
	RetryCount  int                `json:"retry_count" db:"retry_count"`
	MaxRetries  int                `json:"max_retries" db:"max_retries"`
	MessageRef  string             `json:"message_ref,omitempty" db:"message_ref"`
	LastError   string             `json:"last_error,omitempty" db:"last_error"`
	Metadata    map[string]string  `json:"metadata,omitempty" db:"-"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
	Version     int64              `json:"version" db:"version"`
}

// CanRetry сообщает, что уведомление упало и попытки ещё остались.
func (n *Notification) CanRetry() bool {
	return n.Status == NotificationFailed && n.RetryCount < n.MaxRetries
}

// IsDue сообщает, что уведомление ждёт отправки и его время наступило.
func (n *Notification) IsDue(now time.Time) bool {
	if n.Status != NotificationPending {
		return false
	}
	return n.ScheduledAt == nil || !n.ScheduledAt.After(now)
}

// NotificationRequest данные для создания уведомления.
type NotificationRequest struct {
	ClientID    string            `json:"client_id" validate:"required"`
	Type        NotificationType  `json:"type" validate:"required"`
	Title       string            `json:"title" validate:"required,max=200"`
	Message     string            `json:"message" validate:"required,max=2000"`
	Priority    Priority          `json:"priority,omitempty"`
	Channel     Channel           `json:"channel,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	// MaxRetries nil означает DefaultMaxRetries, 0 отключает повторы.
	MaxRetries  *int              `json:"max_retries,omitempty" validate:"omitempty,min=0,max=10"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage сообщение, которое уходит в транспорт доставки.
type OutboundMessage struct {
	NotificationID string   `json:"notification_id"`
	ClientID       string   `json:"client_id"`
	Channel        Channel  `json:"channel"`
	Priority       Priority `json:"priority"`
	Title          string   `json:"title"`
	Text           string   `json:"text"`
}
