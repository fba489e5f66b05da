package models

import "time"

// BookingStatus статус записи на занятие.
type BookingStatus string

// Статусы записи.
const (
	BookingScheduled BookingStatus = "SCHEDULED"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingAttended  BookingStatus = "ATTENDED"
	BookingMissed    BookingStatus = "MISSED"
	BookingCancelled BookingStatus = "CANCELLED"
)

const (
	// CancellationWindow минимальный запас времени до занятия для отмены записи.
	CancellationWindow = 2 * time.Hour
	// DefaultClassDuration длительность занятия в минутах по умолчанию.
	DefaultClassDuration = 90
)

// Booking запись клиента на занятие.
type Booking struct {
	ID             string        `json:"id" db:"id"`
	ClientID       string        `json:"client_id" db:"client_id"`
	SubscriptionID string        `json:"subscription_id,omitempty" db:"subscription_id"`
	ClassDate      time.Time     `json:"class_date" db:"class_date"`
	ClassType      string        `json:"class_type" db:"class_type"`
	ClassDuration  int           `json:"class_duration" db:"class_duration"`
	TeacherName    string        `json:"teacher_name,omitempty" db:"teacher_name"`
	Notes          string        `json:"notes,omitempty" db:"notes"`
	Status         BookingStatus `json:"status" db:"status"`
	ReminderID     string        `json:"reminder_id,omitempty" db:"reminder_id"`
	ConfirmedAt    *time.Time    `json:"confirmed_at,omitempty" db:"confirmed_at"`
	AttendedAt     *time.Time    `json:"attended_at,omitempty" db:"attended_at"`
	CancelledAt    *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
	Version        int64         `json:"version" db:"version"`
}

// CanBeCancelled сообщает, можно ли ещё отменить запись: она не завершена
// и до начала занятия больше CancellationWindow.
func (b *Booking) CanBeCancelled(now time.Time) bool {
	if b.Status != BookingScheduled && b.Status != BookingConfirmed {
		return false
	}
	return b.ClassDate.Sub(now) > CancellationWindow
}

// IsUpcoming сообщает, что занятие ещё не началось и запись не отменена.
func (b *Booking) IsUpcoming(now time.Time) bool {
	return b.ClassDate.After(now) && (b.Status == BookingScheduled || b.Status == BookingConfirmed)
}

// BookingRequest данные для создания записи.
type BookingRequest struct {
	ClientID       string    `json:"client_id" validate:"required"`
	ClassDate      time.Time `json:"class_date" validate:"required"`
	ClassType      string    `json:"class_type" validate:"required,max=100"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	TeacherName    string    `json:"teacher_name,omitempty" validate:"max=100"`
	ClassDuration  int       `json:"class_duration,omitempty" validate:"omitempty,min=30,max=180"`
	Notes          string    `json:"notes,omitempty" validate:"max=500"`
}
