package models

import (
	"slices"
	"time"
)

// SubscriptionFilter условия выборки абонементов. Пустые поля не ограничивают выборку.
type SubscriptionFilter struct {
	ClientID     string
	Statuses     []SubscriptionStatus
	EndingBefore *time.Time
}

// Match проверяет абонемент на соответствие фильтру.
func (f SubscriptionFilter) Match(s *Subscription) bool {
	if f.ClientID != "" && s.ClientID != f.ClientID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if f.EndingBefore != nil && !s.EndDate.Before(*f.EndingBefore) {
		return false
	}
	return true
}

// BookingFilter условия выборки записей.
type BookingFilter struct {
	ClientID       string
	SubscriptionID string
	Statuses       []BookingStatus
	From           *time.Time
	To             *time.Time
}

// Match проверяет запись на соответствие фильтру. Интервал From..To полуоткрытый.
func (f BookingFilter) Match(b *Booking) bool {
	if f.ClientID != "" && b.ClientID != f.ClientID {
		return false
	}
	if f.SubscriptionID != "" && b.SubscriptionID != f.SubscriptionID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.Status) {
		return false
	}
	if f.From != nil && b.ClassDate.Before(*f.From) {
		return false
	}
	if f.To != nil && !b.ClassDate.Before(*f.To) {
		return false
	}
	return true
}

// NotificationFilter условия выборки уведомлений.
type NotificationFilter struct {
	ClientID string
	Statuses []NotificationStatus
	// DueBefore оставляет уведомления без scheduled_at или с scheduled_at не позже момента.
	DueBefore *time.Time
	// RetryEligible оставляет уведомления с retry_count < max_retries.
	RetryEligible bool
}

// Match проверяет уведомление на соответствие фильтру.
func (f NotificationFilter) Match(n *Notification) bool {
	if f.ClientID != "" && n.ClientID != f.ClientID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, n.Status) {
		return false
	}
	if f.DueBefore != nil && n.ScheduledAt != nil && n.ScheduledAt.After(*f.DueBefore) {
		return false
	}
	if f.RetryEligible && n.RetryCount >= n.MaxRetries {
		return false
	}
	return true
}
