// Package models содержит доменные структуры студии: абонементы, записи на занятия,
// уведомления и клиентов, а также фильтры для выборок из хранилища.
package models

import "time"

// SubscriptionStatus статус абонемента.
type SubscriptionStatus string

// Статусы абонемента.
const (
	SubscriptionPending   SubscriptionStatus = "PENDING"
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionExhausted SubscriptionStatus = "EXHAUSTED"
	SubscriptionSuspended SubscriptionStatus = "SUSPENDED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// Terminal сообщает, что из статуса больше нет переходов по действию оператора.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionExpired || s == SubscriptionCancelled
}

// Subscription абонемент клиента. Даты начала и окончания хранятся как полночь UTC
// соответствующего календарного дня.
type Subscription struct {
	ID                 string             `json:"id" db:"id"`
	ClientID           string             `json:"client_id" db:"client_id"`
	Type               SubscriptionType   `json:"type" db:"type"`
	TotalClasses       int                `json:"total_classes" db:"total_classes"`
	UsedClasses        int                `json:"used_classes" db:"used_classes"`
	StartDate          time.Time          `json:"start_date" db:"start_date"`
	EndDate            time.Time          `json:"end_date" db:"end_date"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	Price              int64              `json:"price" db:"price"`
	PaymentConfirmed   bool               `json:"payment_confirmed" db:"payment_confirmed"`
	PaymentConfirmedAt *time.Time         `json:"payment_confirmed_at,omitempty" db:"payment_confirmed_at"`
	CancelReason       string             `json:"cancel_reason,omitempty" db:"cancel_reason"`
	Notes              string             `json:"notes,omitempty" db:"notes"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
	Version            int64              `json:"version" db:"version"`
}

// IsUnlimited сообщает, что абонемент безлимитный.
func (s *Subscription) IsUnlimited() bool {
	return s.Type == TypeUnlimited
}

// RemainingClasses возвращает остаток занятий. Для безлимитного абонемента
// возвращается UnlimitedClasses.
func (s *Subscription) RemainingClasses() int {
	if s.IsUnlimited() {
		return UnlimitedClasses
	}
	return max(0, s.TotalClasses-s.UsedClasses)
}

// IsExhausted сообщает, что занятия закончились.
func (s *Subscription) IsExhausted() bool {
	return !s.IsUnlimited() && s.RemainingClasses() <= 0
}

// IsExpired сообщает, что абонемент истёк по статусу или по дате.
func (s *Subscription) IsExpired(today time.Time) bool {
	return s.Status == SubscriptionExpired || s.EndDate.Before(Date(today))
}

// IsActive сообщает, может ли абонемент оплатить занятие в день today.
func (s *Subscription) IsActive(today time.Time) bool {
	return s.Status == SubscriptionActive &&
		!s.EndDate.Before(Date(today)) &&
		s.RemainingClasses() > 0
}

// DaysLeft количество дней до окончания, не меньше нуля.
func (s *Subscription) DaysLeft(today time.Time) int {
	days := int(s.EndDate.Sub(Date(today)).Hours() / 24)
	return max(0, days)
}

// Date отбрасывает время суток и возвращает полночь UTC того же календарного дня.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
