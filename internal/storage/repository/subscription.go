package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

const subscriptionColumns = `id, client_id, type, total_classes, used_classes, start_date, end_date,
	status, price, payment_confirmed, payment_confirmed_at, cancel_reason, notes,
	created_at, updated_at, version`

// CreateSubscription вставляет новый абонемент с версией 1.
func (s *Storage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.CreateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	sub.Version = 1
	query := `INSERT INTO subscriptions (` + subscriptionColumns + `)
			  VALUES (:id, :client_id, :type, :total_classes, :used_classes, :start_date, :end_date,
				:status, :price, :payment_confirmed, :payment_confirmed_at, :cancel_reason, :notes,
				:created_at, :updated_at, :version)`
	if _, err := s.DB.NamedExecContext(ctx, query, sub); err != nil {
		return storageErr(op, err, apperr.ErrSubscriptionNotFound)
	}
	return nil
}

// GetSubscription возвращает абонемент по идентификатору.
func (s *Storage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var sub models.Subscription
	err := s.DB.GetContext(ctx, &sub, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return nil, storageErr(op, err, apperr.Newf(apperr.ErrSubscriptionNotFound, "subscription %s not found", id))
	}
	return &sub, nil
}

// UpdateSubscription записывает абонемент, если версия в базе равна sub.Version,
// и увеличивает версию.
func (s *Storage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.UpdateSubscription"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE subscriptions SET
				used_classes = $1, total_classes = $2, end_date = $3, status = $4,
				payment_confirmed = $5, payment_confirmed_at = $6, cancel_reason = $7,
				notes = $8, updated_at = $9, version = version + 1
			  WHERE id = $10 AND version = $11`
	res, err := s.DB.ExecContext(ctx, query,
		sub.UsedClasses, sub.TotalClasses, sub.EndDate, sub.Status,
		sub.PaymentConfirmed, sub.PaymentConfirmedAt, sub.CancelReason,
		sub.Notes, sub.UpdatedAt, sub.ID, sub.Version)
	if err != nil {
		return storageErr(op, err, apperr.ErrSubscriptionNotFound)
	}
	notFound := apperr.Newf(apperr.ErrSubscriptionNotFound, "subscription %s not found", sub.ID)
	if err := s.casResult(ctx, op, "subscriptions", sub.ID, res, notFound); err != nil {
		return err
	}
	sub.Version++
	return nil
}

// ListSubscriptions возвращает абонементы по фильтру в порядке создания.
func (s *Storage) ListSubscriptions(ctx context.Context, f models.SubscriptionFilter) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptions"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if f.ClientID != "" {
		args = append(args, f.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		args = append(args, toStrings(f.Statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.EndingBefore != nil {
		args = append(args, *f.EndingBefore)
		where = append(where, fmt.Sprintf("end_date < $%d", len(args)))
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	var subs []*models.Subscription
	if err := s.DB.SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, storageErr(op, err, apperr.ErrSubscriptionNotFound)
	}
	return subs, nil
}
