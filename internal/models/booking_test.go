package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBooking_CanBeCancelled(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		status    BookingStatus
		classDate time.Time
		want      bool
	}{
		{"scheduled far ahead", BookingScheduled, now.Add(24 * time.Hour), true},
		{"confirmed far ahead", BookingConfirmed, now.Add(3 * time.Hour), true},
		{"exactly two hours", BookingScheduled, now.Add(2 * time.Hour), false},
		{"inside window", BookingScheduled, now.Add(90 * time.Minute), false},
		{"already cancelled", BookingCancelled, now.Add(24 * time.Hour), false},
		{"attended", BookingAttended, now.Add(24 * time.Hour), false},
		{"missed", BookingMissed, now.Add(24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Booking{Status: tt.status, ClassDate: tt.classDate}
			assert.Equal(t, tt.want, b.CanBeCancelled(now))
		})
	}
}

func TestNotificationFilter_Match(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	due := NotificationFilter{Statuses: []NotificationStatus{NotificationPending}, DueBefore: &now}
	assert.True(t, due.Match(&Notification{Status: NotificationPending}))
	assert.True(t, due.Match(&Notification{Status: NotificationPending, ScheduledAt: &past}))
	assert.True(t, due.Match(&Notification{Status: NotificationPending, ScheduledAt: &now}))
	assert.False(t, due.Match(&Notification{Status: NotificationPending, ScheduledAt: &future}))
	assert.False(t, due.Match(&Notification{Status: NotificationSent}))

	retry := NotificationFilter{Statuses: []NotificationStatus{NotificationFailed}, RetryEligible: true}
	assert.True(t, retry.Match(&Notification{Status: NotificationFailed, RetryCount: 2, MaxRetries: 3}))
	assert.False(t, retry.Match(&Notification{Status: NotificationFailed, RetryCount: 3, MaxRetries: 3}))
}

func TestPriority_Rank(t *testing.T) {
	assert.Greater(t, PriorityUrgent.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityNormal.Rank())
	assert.Greater(t, PriorityNormal.Rank(), PriorityLow.Rank())
}
