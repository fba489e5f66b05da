// Package memory хранит сущности студии в памяти процесса. Используется в тестах
// и при запуске без базы данных. Все записи копируются на входе и выходе,
// обновления проверяют версию записи.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// Store хранилище в памяти.
type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]models.Subscription
	bookings      map[string]models.Booking
	notifications map[string]models.Notification
	clients       map[string]models.Client
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		subscriptions: make(map[string]models.Subscription),
		bookings:      make(map[string]models.Booking),
		notifications: make(map[string]models.Notification),
		clients:       make(map[string]models.Client),
	}
}

func checkCtx(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		return nil
	}
}

// SaveClient добавляет или заменяет клиента.
func (s *Store) SaveClient(ctx context.Context, c *models.Client) error {
	const op = "memory.SaveClient"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = *c
	return nil
}

// GetClient возвращает клиента по идентификатору.
func (s *Store) GetClient(ctx context.Context, id string) (*models.Client, error) {
	const op = "memory.GetClient"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrClientNotFound, "client %s not found", id))
	}
	return &c, nil
}

// CreateSubscription сохраняет новый абонемент с версией 1.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "memory.CreateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; ok {
		return fmt.Errorf("%s: subscription %s already exists", op, sub.ID)
	}
	sub.Version = 1
	s.subscriptions[sub.ID] = *sub
	return nil
}

// GetSubscription возвращает абонемент по идентификатору.
func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	const op = "memory.GetSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrSubscriptionNotFound, "subscription %s not found", id))
	}
	return &sub, nil
}

// UpdateSubscription записывает абонемент, если версия в хранилище совпадает с sub.Version.
// При успехе версия увеличивается и в sub, и в хранилище.
func (s *Store) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "memory.UpdateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.subscriptions[sub.ID]
	if !ok {
		return fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrSubscriptionNotFound, "subscription %s not found", sub.ID))
	}
	if cur.Version != sub.Version {
		return fmt.Errorf("%s: %w", op, apperr.ErrConflict)
	}
	sub.Version++
	s.subscriptions[sub.ID] = *sub
	return nil
}

// ListSubscriptions возвращает абонементы, подходящие под фильтр, в порядке создания.
func (s *Store) ListSubscriptions(ctx context.Context, f models.SubscriptionFilter) ([]*models.Subscription, error) {
	const op = "memory.ListSubscriptions"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Subscription
	for _, sub := range s.subscriptions {
		if f.Match(&sub) {
			out = append(out, &sub)
		}
	}
	slices.SortFunc(out, func(a, b *models.Subscription) int {
		return compareCreated(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return out, nil
}

// CreateBooking сохраняет новую запись.
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	const op = "memory.CreateBooking"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return fmt.Errorf("%s: booking %s already exists", op, b.ID)
	}
	b.Version = 1
	s.bookings[b.ID] = *b
	return nil
}

// GetBooking возвращает запись по идентификатору.
func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	const op = "memory.GetBooking"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrBookingNotFound, "booking %s not found", id))
	}
	return &b, nil
}

// UpdateBooking записывает запись с проверкой версии.
func (s *Store) UpdateBooking(ctx context.Context, b *models.Booking) error {
	const op = "memory.UpdateBooking"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.bookings[b.ID]
	if !ok {
		return fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrBookingNotFound, "booking %s not found", b.ID))
	}
	if cur.Version != b.Version {
		return fmt.Errorf("%s: %w", op, apperr.ErrConflict)
	}
	b.Version++
	s.bookings[b.ID] = *b
	return nil
}

// ListBookings возвращает записи по фильтру, отсортированные по времени занятия.
func (s *Store) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	const op = "memory.ListBookings"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Booking
	for _, b := range s.bookings {
		if f.Match(&b) {
			out = append(out, &b)
		}
	}
	slices.SortFunc(out, func(a, b *models.Booking) int {
		return compareCreated(a.ClassDate, b.ClassDate, a.ID, b.ID)
	})
	return out, nil
}

// CreateNotification сохраняет новое уведомление.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	const op = "memory.CreateNotification"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; ok {
		return fmt.Errorf("%s: notification %s already exists", op, n.ID)
	}
	n.Version = 1
	s.notifications[n.ID] = cloneNotification(*n)
	return nil
}

// GetNotification возвращает уведомление по идентификатору.
func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	const op = "memory.GetNotification"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrNotificationNotFound, "notification %s not found", id))
	}
	n = cloneNotification(n)
	return &n, nil
}

// UpdateNotification записывает уведомление с проверкой версии.
func (s *Store) UpdateNotification(ctx context.Context, n *models.Notification) error {
	const op = "memory.UpdateNotification"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.notifications[n.ID]
	if !ok {
		return fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrNotificationNotFound, "notification %s not found", n.ID))
	}
	if cur.Version != n.Version {
		return fmt.Errorf("%s: %w", op, apperr.ErrConflict)
	}
	n.Version++
	s.notifications[n.ID] = cloneNotification(*n)
	return nil
}

// ListNotifications возвращает уведомления по фильтру в порядке создания.
func (s *Store) ListNotifications(ctx context.Context, f models.NotificationFilter) ([]*models.Notification, error) {
	const op = "memory.ListNotifications"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Notification
	for _, n := range s.notifications {
		if f.Match(&n) {
			c := cloneNotification(n)
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.Notification) int {
		return compareCreated(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return out, nil
}

func cloneNotification(n models.Notification) models.Notification {
	n.Metadata = maps.Clone(n.Metadata)
	return n
}

func compareCreated(a, b time.Time, idA, idB string) int {
	if c := a.Compare(b); c != 0 {
		return c
	}
	switch {
	case idA < idB:
		return -1
	case idA > idB:
		return 1
	default:
		return 0
	}
}
