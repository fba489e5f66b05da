package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

const bookingColumns = `id, client_id, subscription_id, class_date, class_type, class_duration,
	teacher_name, notes, status, reminder_id, confirmed_at, attended_at, cancelled_at,
	created_at, updated_at, version`

// CreateBooking вставляет новую запись на занятие.
func (s *Storage) CreateBooking(ctx context.Context, b *models.Booking) error {
	const op = "storage.CreateBooking"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	b.Version = 1
	query := `INSERT INTO bookings (` + bookingColumns + `)
			  VALUES (:id, :client_id, :subscription_id, :class_date, :class_type, :class_duration,
				:teacher_name, :notes, :status, :reminder_id, :confirmed_at, :attended_at, :cancelled_at,
				:created_at, :updated_at, :version)`
	if _, err := s.DB.NamedExecContext(ctx, query, b); err != nil {
		return storageErr(op, err, apperr.ErrBookingNotFound)
	}
	return nil
}

// GetBooking возвращает запись по идентификатору.
func (s *Storage) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	const op = "storage.GetBooking"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var b models.Booking
	err := s.DB.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if err != nil {
		return nil, storageErr(op, err, apperr.Newf(apperr.ErrBookingNotFound, "booking %s not found", id))
	}
	return &b, nil
}

// UpdateBooking записывает запись с проверкой версии.
func (s *Storage) UpdateBooking(ctx context.Context, b *models.Booking) error {
	const op = "storage.UpdateBooking"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `UPDATE bookings SET
				status = $1, reminder_id = $2, confirmed_at = $3, attended_at = $4,
				cancelled_at = $5, notes = $6, updated_at = $7, version = version + 1
			  WHERE id = $8 AND version = $9`
	res, err := s.DB.ExecContext(ctx, query,
		b.Status, b.ReminderID, b.ConfirmedAt, b.AttendedAt,
		b.CancelledAt, b.Notes, b.UpdatedAt, b.ID, b.Version)
	if err != nil {
		return storageErr(op, err, apperr.ErrBookingNotFound)
	}
	notFound := apperr.Newf(apperr.ErrBookingNotFound, "booking %s not found", b.ID)
	if err := s.casResult(ctx, op, "bookings", b.ID, res, notFound); err != nil {
		return err
	}
	b.Version++
	return nil
}

// ListBookings возвращает записи по фильтру, отсортированные по времени занятия.
func (s *Storage) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	const op = "storage.ListBookings"
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
	if f.SubscriptionID != "" {
		args = append(args, f.SubscriptionID)
		where = append(where, fmt.Sprintf("subscription_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		args = append(args, toStrings(f.Statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("class_date >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("class_date < $%d", len(args)))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY class_date, id"

	var bookings []*models.Booking
	if err := s.DB.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, storageErr(op, err, apperr.ErrBookingNotFound)
	}
	return bookings, nil
}
