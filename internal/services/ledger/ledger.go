// Package services реализует учёт абонементов: статусы, списание и возврат занятий,
// продление, заморозку и периодическое обновление статусов.
//
// Каждая мутация выполняется под блокировкой по идентификатору абонемента и
// записывается с проверкой версии. Конфликт версий повторяет чтение-изменение-запись
// ограниченное число раз.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/ids"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/keylock"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
	"github.com/magabrotheeeer/yoga-studio/internal/metrics"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// DefaultMaxAttempts число попыток записи при конфликте версий.
const DefaultMaxAttempts = 3

// SubscriptionRepository хранилище абонементов.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	// UpdateSubscription записывает абонемент, если версия не менялась, и увеличивает её.
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	ListSubscriptions(ctx context.Context, f models.SubscriptionFilter) ([]*models.Subscription, error)
}

// ClientDirectory проверяет существование клиента.
type ClientDirectory interface {
	GetClient(ctx context.Context, id string) (*models.Client, error)
}

// Locker взаимное исключение по ключу.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Ledger учёт абонементов.
type Ledger struct {
	repo        SubscriptionRepository
	clients     ClientDirectory
	locker      Locker
	catalog     models.Catalog
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time
	loc         *time.Location
	maxAttempts int
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLocker задаёт блокировку по ключу. По умолчанию используется блокировка в памяти процесса.
func WithLocker(l Locker) Option {
	return func(lg *Ledger) { lg.locker = l }
}

// WithCatalog задаёт таблицу тарифов.
func WithCatalog(c models.Catalog) Option {
	return func(lg *Ledger) { lg.catalog = c }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lg *Ledger) { lg.metrics = m }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// WithLocation задаёт часовой пояс студии, в котором определяется "сегодня".
func WithLocation(loc *time.Location) Option {
	return func(lg *Ledger) { lg.loc = loc }
}

// WithMaxAttempts задаёт число попыток при конфликте версий.
func WithMaxAttempts(n int) Option {
	return func(lg *Ledger) {
		if n > 0 {
			lg.maxAttempts = n
		}
	}
}

// New создаёт Ledger.
func New(repo SubscriptionRepository, clients ClientDirectory, log *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:        repo,
		clients:     clients,
		locker:      keylock.New(),
		catalog:     models.DefaultCatalog(),
		log:         log,
		now:         time.Now,
		loc:         time.UTC,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today возвращает текущую дату студии.
func (l *Ledger) Today() time.Time {
	return models.Date(l.now().In(l.loc))
}

// Catalog возвращает таблицу тарифов.
func (l *Ledger) Catalog() models.Catalog {
	return l.catalog
}

// Price возвращает цену абонемента.
func (l *Ledger) Price(t models.SubscriptionType) (int64, error) {
	p, ok := l.catalog.Plan(t)
	if !ok {
		return 0, apperr.Newf(apperr.ErrValidation, "unknown subscription type %q", t)
	}
	return p.Price, nil
}

func lockKey(id string) string {
	return "subscription:" + id
}

// mutation изменяет абонемент и сообщает, нужно ли его записывать.
type mutation func(sub *models.Subscription, today time.Time) (bool, error)

// mutate выполняет чтение-изменение-запись абонемента под блокировкой.
func (l *Ledger) mutate(ctx context.Context, op, id string, fn mutation) (*models.Subscription, error) {
	unlock, err := l.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		sub, err := l.repo.GetSubscription(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		prev := sub.Status

		changed, err := fn(sub, l.Today())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !changed {
			return sub, nil
		}

		sub.UpdatedAt = l.now()
		err = l.repo.UpdateSubscription(ctx, sub)
		if err == nil {
			if sub.Status != prev {
				l.metrics.StatusTransition(string(sub.Status))
				l.log.Info("subscription status changed",
					sl.Op(op),
					slog.String("subscription_id", id),
					slog.String("from", string(prev)),
					slog.String("to", string(sub.Status)))
			}
			return sub, nil
		}
		if !errors.Is(err, apperr.ErrConcurrencyConflict) || attempt >= l.maxAttempts {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		l.metrics.LedgerConflict()
		l.log.Debug("retrying after concurrent update",
			sl.Op(op), slog.String("subscription_id", id), slog.Int("attempt", attempt))
	}
}

// Purchase оформляет абонемент типа t для клиента. Абонемент создаётся в статусе PENDING
// и становится активным после подтверждения оплаты. Нулевая startDate означает сегодня.
func (l *Ledger) Purchase(ctx context.Context, clientID string, t models.SubscriptionType, startDate time.Time) (*models.Subscription, error) {
	const op = "ledger.Purchase"

	plan, ok := l.catalog.Plan(t)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrValidation, "unknown subscription type %q", t))
	}
	if _, err := l.clients.GetClient(ctx, clientID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	today := l.Today()
	start := today
	if !startDate.IsZero() {
		start = models.Date(startDate.In(l.loc))
	}
	if start.Before(today) {
		return nil, fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrValidation, "start date %s is in the past", start.Format(time.DateOnly)))
	}

	now := l.now()
	sub := &models.Subscription{
		ID:           ids.New(ids.PrefixSubscription),
		ClientID:     clientID,
		Type:         t,
		TotalClasses: plan.TotalClasses,
		StartDate:    start,
		EndDate:      start.AddDate(0, 0, plan.DurationDays),
		Status:       models.SubscriptionPending,
		Price:        plan.Price,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.repo.CreateSubscription(ctx, sub); err != nil {
		l.metrics.LedgerOp("purchase", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	l.metrics.LedgerOp("purchase", nil)
	l.log.Info("subscription purchased",
		slog.String("subscription_id", sub.ID),
		slog.String("client_id", clientID),
		slog.String("type", string(t)))
	return sub, nil
}

// Get возвращает абонемент.
func (l *Ledger) Get(ctx context.Context, id string) (*models.Subscription, error) {
	const op = "ledger.Get"
	sub, err := l.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListByClient возвращает абонементы клиента в порядке создания.
func (l *Ledger) ListByClient(ctx context.Context, clientID string) ([]*models.Subscription, error) {
	const op = "ledger.ListByClient"
	subs, err := l.repo.ListSubscriptions(ctx, models.SubscriptionFilter{ClientID: clientID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

// ConfirmPayment отмечает оплату и активирует ожидающий абонемент.
// Повторное подтверждение ничего не меняет и не является ошибкой.
func (l *Ledger) ConfirmPayment(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := l.mutate(ctx, "ledger.ConfirmPayment", id, func(sub *models.Subscription, _ time.Time) (bool, error) {
		if sub.PaymentConfirmed {
			return false, nil
		}
		if sub.Status == models.SubscriptionCancelled {
			return false, apperr.Newf(apperr.ErrInvalidTransition, "subscription %s is cancelled", sub.ID)
		}
		now := l.now()
		sub.PaymentConfirmed = true
		sub.PaymentConfirmedAt = &now
		if sub.Status == models.SubscriptionPending {
			sub.Status = models.SubscriptionActive
		}
		return true, nil
	})
	l.metrics.LedgerOp("confirm_payment", err)
	return sub, err
}

// Debit списывает одно занятие и возвращает новый остаток.
// Сначала проверяется остаток, затем активность абонемента. Безлимитный абонемент
// только проверяется на активность, счётчики не меняются.
func (l *Ledger) Debit(ctx context.Context, id string) (int, error) {
	sub, err := l.mutate(ctx, "ledger.Debit", id, func(sub *models.Subscription, today time.Time) (bool, error) {
		if !sub.IsUnlimited() && sub.RemainingClasses() <= 0 {
			return false, apperr.Newf(apperr.ErrNoCreditsRemaining, "subscription %s has no classes left", sub.ID)
		}
		if !sub.IsActive(today) {
			return false, apperr.Newf(apperr.ErrInactiveSubscription, "subscription %s is not active (status %s, ends %s)",
				sub.ID, sub.Status, sub.EndDate.Format(time.DateOnly))
		}
		if sub.IsUnlimited() {
			return false, nil
		}
		sub.UsedClasses++
		if sub.RemainingClasses() == 0 {
			sub.Status = models.SubscriptionExhausted
		}
		return true, nil
	})
	l.metrics.LedgerOp("debit", err)
	if err != nil {
		return 0, err
	}
	return sub.RemainingClasses(), nil
}

// Credit возвращает одно занятие. Счётчик не опускается ниже нуля,
// исчерпанный абонемент снова становится активным. Для безлимитного ничего не делает.
func (l *Ledger) Credit(ctx context.Context, id string) error {
	_, err := l.mutate(ctx, "ledger.Credit", id, func(sub *models.Subscription, _ time.Time) (bool, error) {
		if sub.IsUnlimited() || sub.UsedClasses == 0 {
			return false, nil
		}
		sub.UsedClasses--
		if sub.Status == models.SubscriptionExhausted && sub.RemainingClasses() > 0 {
			sub.Status = models.SubscriptionActive
		}
		return true, nil
	})
	l.metrics.LedgerOp("credit", err)
	return err
}

// GiftClass дарит клиенту занятие: возвращает списанное или увеличивает пакет.
func (l *Ledger) GiftClass(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := l.mutate(ctx, "ledger.GiftClass", id, func(sub *models.Subscription, _ time.Time) (bool, error) {
		if sub.IsUnlimited() {
			return false, apperr.Newf(apperr.ErrInvalidTransition, "subscription %s is unlimited", sub.ID)
		}
		if sub.Status.Terminal() {
			return false, apperr.Newf(apperr.ErrInvalidTransition, "subscription %s is %s", sub.ID, sub.Status)
		}
		if sub.UsedClasses > 0 {
			sub.UsedClasses--
		} else {
			sub.TotalClasses++
		}
		if sub.Status == models.SubscriptionExhausted {
			sub.Status = models.SubscriptionActive
		}
		return true, nil
	})
	l.metrics.LedgerOp("gift_class", err)
	return sub, err
}

// Extend продлевает абонемент на days дней. Истёкший абонемент снова становится активным.
func (l *Ledger) Extend(ctx context.Context, id string, days int) (*models.Subscription, error) {
	const op = "ledger.Extend"
	if days <= 0 {
		return nil, fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrValidation, "days must be positive, got %d", days))
	}
	sub, err := l.mutate(ctx, op, id, func(sub *models.Subscription, _ time.Time) (bool, error) {
		if sub.Status == models.SubscriptionCancelled {
			return false, apperr.Newf(apperr.ErrInvalidTransition, "subscription %s is cancelled", sub.ID)
		}
		sub.EndDate = sub.EndDate.AddDate(0, 0, days)
		if sub.Status == models.SubscriptionExpired {
			sub.Status = models.SubscriptionActive
		}
		return true, nil
	})
	l.metrics.LedgerOp("extend", err)
	return sub, err
}

// Suspend приостанавливает активный или ожидающий оплаты абонемент.
// Повторная приостановка ничего не меняет.
func (l *Ledger) Suspend(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := l.mutate(ctx, "ledger.Suspend", id, func(sub *models.Subscription, _ time.Time) (bool, error) {
		return suspend(sub)
	})
	l.metrics.LedgerOp("suspend", err)
	return sub, err
}

func suspend(sub *models.Subscription) (bool, error) {
	switch sub.Status {
	case models.SubscriptionSuspended:
		return false, nil
	case models.SubscriptionActive, models.SubscriptionPending:
		sub.Status = models.SubscriptionSuspended
		return true, nil
	default:
		return false, apperr.Newf(apperr.ErrInvalidTransition, "subscription %s is %s and cannot be suspended", sub.ID, sub.Status)
	}
}

// Freeze замораживает абонемент на days дней: приостанавливает его и сдвигает дату окончания.
func (l *Ledger) Freeze(ctx context.Context, id string, days int, reason string) (*models.Subscription, error) {
	const op = "ledger.Freeze"
	if days <= 0 {
		return nil, fmt.Errorf("%s: %w", op, apperr.Newf(apperr.ErrValidation, "days must be positive, got %d", days))
	}
	sub, err := l.mutate(ctx, op, id, func(sub *models.Subscription, today time.Time) (bool, error) {
		if sub.Status == models.SubscriptionSuspended {
			return false, apperr.Newf(apperr.ErrInvalidTransition, "subscription %s is already suspended", sub.ID)
		}
		if _, err := suspend(sub); err != nil {
			return false, err
		}
		sub.EndDate = sub.EndDate.AddDate(0, 0, days)
		note := fmt.Sprintf("frozen %s for %d days", today.Format(time.DateOnly), days)
		if reason != "" {
			note += ": " + reason
		}
		if sub.Notes != "" {
			note = sub.Notes + "\n" + note
		}
		sub.Notes = note
		return true, nil
	})
	l.metrics.LedgerOp("freeze", err)
	return sub, err
}

// Resume возобновляет приостановленный абонемент. Без оплаты он возвращается в PENDING.
func (l *Ledger) Resume(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := l.mutate(ctx, "ledger.Resume", id, func(sub *models.Subscription, _ time.Time) (bool, error) {
		if sub.Status != models.SubscriptionSuspended {
			return false, apperr.Newf(apperr.ErrInvalidTransition, "subscription %s is %s, not suspended", sub.ID, sub.Status)
		}
		if sub.PaymentConfirmed {
			sub.Status = models.SubscriptionActive
		} else {
			sub.Status = models.SubscriptionPending
		}
		return true, nil
	})
	l.metrics.LedgerOp("resume", err)
	return sub, err
}

// Cancel отменяет абонемент. Дата окончания сокращается до сегодняшней,
// но не раньше даты начала. Повторная отмена ничего не меняет.
func (l *Ledger) Cancel(ctx context.Context, id, reason string) (*models.Subscription, error) {
	sub, err := l.mutate(ctx, "ledger.Cancel", id, func(sub *models.Subscription, today time.Time) (bool, error) {
		switch sub.Status {
		case models.SubscriptionCancelled:
			return false, nil
		case models.SubscriptionExpired:
			return false, apperr.Newf(apperr.ErrInvalidTransition, "subscription %s has already expired", sub.ID)
		}
		sub.Status = models.SubscriptionCancelled
		sub.CancelReason = reason
		if sub.EndDate.After(today) {
			sub.EndDate = today
			if sub.EndDate.Before(sub.StartDate) {
				sub.EndDate = sub.StartDate
			}
		}
		return true, nil
	})
	l.metrics.LedgerOp("cancel", err)
	return sub, err
}

// RefreshStatuses переводит просроченные абонементы в EXPIRED, а активные без занятий
// в EXHAUSTED. Возвращает число изменённых абонементов. Ошибки по отдельным
// абонементам не прерывают обход и возвращаются вместе.
func (l *Ledger) RefreshStatuses(ctx context.Context) (int, error) {
	const op = "ledger.RefreshStatuses"

	subs, err := l.repo.ListSubscriptions(ctx, models.SubscriptionFilter{
		Statuses: []models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionExhausted},
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var (
		count int
		errs  []error
	)
	for _, candidate := range subs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		changed := false
		_, err := l.mutate(ctx, op, candidate.ID, func(sub *models.Subscription, today time.Time) (bool, error) {
			changed = refreshStatus(sub, today)
			return changed, nil
		})
		if err != nil {
			l.log.Error("failed to refresh subscription status", slog.String("subscription_id", candidate.ID), sl.Err(err))
			errs = append(errs, err)
			continue
		}
		if changed {
			count++
		}
	}

	l.log.Info("subscription statuses refreshed", slog.Int("checked", len(subs)), slog.Int("changed", count))
	return count, errors.Join(errs...)
}

func refreshStatus(sub *models.Subscription, today time.Time) bool {
	if sub.Status != models.SubscriptionActive && sub.Status != models.SubscriptionExhausted {
		return false
	}
	if sub.EndDate.Before(today) {
		sub.Status = models.SubscriptionExpired
		return true
	}
	if sub.Status == models.SubscriptionActive && sub.IsExhausted() {
		sub.Status = models.SubscriptionExhausted
		return true
	}
	return false
}

// ExpiringWithin возвращает активные абонементы, заканчивающиеся в ближайшие days дней, включая сегодня.
func (l *Ledger) ExpiringWithin(ctx context.Context, days int) ([]*models.Subscription, error) {
	const op = "ledger.ExpiringWithin"
	today := l.Today()
	until := today.AddDate(0, 0, days+1)

	subs, err := l.repo.ListSubscriptions(ctx, models.SubscriptionFilter{
		Statuses:     []models.SubscriptionStatus{models.SubscriptionActive},
		EndingBefore: &until,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := subs[:0]
	for _, s := range subs {
		if !s.EndDate.Before(today) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ActiveClients возвращает клиентов, у которых сегодня есть действующий абонемент.
func (l *Ledger) ActiveClients(ctx context.Context) ([]string, error) {
	const op = "ledger.ActiveClients"

	subs, err := l.repo.ListSubscriptions(ctx, models.SubscriptionFilter{
		Statuses: []models.SubscriptionStatus{models.SubscriptionActive},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	today := l.Today()
	seen := make(map[string]struct{}, len(subs))
	clients := make([]string, 0, len(subs))
	for _, s := range subs {
		if !s.IsActive(today) {
			continue
		}
		if _, ok := seen[s.ClientID]; ok {
			continue
		}
		seen[s.ClientID] = struct{}{}
		clients = append(clients, s.ClientID)
	}
	return clients, nil
}

// ClientStats сводка по абонементам клиента.
type ClientStats struct {
	Total         int                     `json:"total"`
	Active        int                     `json:"active"`
	ClassesBought int                     `json:"classes_bought"`
	ClassesUsed   int                     `json:"classes_used"`
	MoneySpent    int64                   `json:"money_spent"`
	FavoriteType  models.SubscriptionType `json:"favorite_type,omitempty"`
	Current       *models.Subscription    `json:"current,omitempty"`
}

// Statistics собирает сводку по абонементам клиента. Безлимитные абонементы
// не учитываются в числе купленных занятий, в сумму входят только оплаченные.
func (l *Ledger) Statistics(ctx context.Context, clientID string) (*ClientStats, error) {
	const op = "ledger.Statistics"
	subs, err := l.ListByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	today := l.Today()
	stats := &ClientStats{Total: len(subs)}
	byType := make(map[models.SubscriptionType]int)
	for _, s := range subs {
		byType[s.Type]++
		if !s.IsUnlimited() {
			stats.ClassesBought += s.TotalClasses
		}
		stats.ClassesUsed += s.UsedClasses
		if s.PaymentConfirmed {
			stats.MoneySpent += s.Price
		}
		if s.IsActive(today) {
			stats.Active++
			stats.Current = s
		}
	}
	best := 0
	for _, t := range models.SubscriptionTypes {
		if byType[t] > best {
			best = byType[t]
			stats.FavoriteType = t
		}
	}
	return stats, nil
}
