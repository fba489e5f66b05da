package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

const notificationColumns = `id, client_id, type, title, message, priority, channel, status,
	scheduled_at, sent_at, delivered_at, failed_at, retry_count, max_retries,
	message_ref, last_error, metadata, created_at, updated_at, version`

// notificationRow строка таблицы notifications: метаданные хранятся в jsonb.
type notificationRow struct {
	models.Notification
	RawMetadata []byte `db:"metadata"`
}

func (r *notificationRow) toModel() (*models.Notification, error) {
	n := r.Notification
	if len(r.RawMetadata) > 0 {
		if err := json.Unmarshal(r.RawMetadata, &n.Metadata); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// CreateNotification вставляет новое уведомление.
func (s *Storage) CreateNotification(ctx context.Context, n *models.Notification) error {
	const op = "storage.CreateNotification"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	meta, err := marshalMetadata(n.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n.Version = 1
	row := notificationRow{Notification: *n, RawMetadata: meta}
	query := `INSERT INTO notifications (` + notificationColumns + `)
			  VALUES (:id, :client_id, :type, :title, :message, :priority, :channel, :status,
				:scheduled_at, :sent_at, :delivered_at, :failed_at, :retry_count, :max_retries,
				:message_ref, :last_error, :metadata, :created_at, :updated_at, :version)`
	if _, err := s.DB.NamedExecContext(ctx, query, row); err != nil {
		return storageErr(op, err, apperr.ErrNotificationNotFound)
	}
	return nil
}

// GetNotification возвращает уведомление по идентификатору.
func (s *Storage) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	const op = "storage.GetNotification"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var row notificationRow
	err := s.DB.GetContext(ctx, &row, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	if err != nil {
		return nil, storageErr(op, err, apperr.Newf(apperr.ErrNotificationNotFound, "notification %s not found", id))
	}
	n, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// UpdateNotification записывает уведомление с проверкой версии.
func (s *Storage) UpdateNotification(ctx context.Context, n *models.Notification) error {
	const op = "storage.UpdateNotification"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	meta, err := marshalMetadata(n.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	query := `UPDATE notifications SET
				status = $1, scheduled_at = $2, sent_at = $3, delivered_at = $4, failed_at = $5,
				retry_count = $6, message_ref = $7, last_error = $8, metadata = $9,
				updated_at = $10, version = version + 1
			  WHERE id = $11 AND version = $12`
	res, err := s.DB.ExecContext(ctx, query,
		n.Status, n.ScheduledAt, n.SentAt, n.DeliveredAt, n.FailedAt,
		n.RetryCount, n.MessageRef, n.LastError, meta,
		n.UpdatedAt, n.ID, n.Version)
	if err != nil {
		return storageErr(op, err, apperr.ErrNotificationNotFound)
	}
	notFound := apperr.Newf(apperr.ErrNotificationNotFound, "notification %s not found", n.ID)
	if err := s.casResult(ctx, op, "notifications", n.ID, res, notFound); err != nil {
		return err
	}
	n.Version++
	return nil
}

// ListNotifications возвращает уведомления по фильтру в порядке создания.
func (s *Storage) ListNotifications(ctx context.Context, f models.NotificationFilter) ([]*models.Notification, error) {
	const op = "storage.ListNotifications"
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
	if f.DueBefore != nil {
		args = append(args, *f.DueBefore)
		where = append(where, fmt.Sprintf("(scheduled_at IS NULL OR scheduled_at <= $%d)", len(args)))
	}
	if f.RetryEligible {
		where = append(where, "retry_count < max_retries")
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	var rows []notificationRow
	if err := s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageErr(op, err, apperr.ErrNotificationNotFound)
	}
	out := make([]*models.Notification, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, n)
	}
	return out, nil
}
