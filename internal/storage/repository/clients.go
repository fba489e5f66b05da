package repository

import (
	"context"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// SaveClient добавляет клиента или обновляет его контакты.
func (s *Storage) SaveClient(ctx context.Context, c *models.Client) error {
	const op = "storage.SaveClient"
	if err := checkCtx(ctx, op); err != nil {
		return err
	}

	query := `INSERT INTO clients (id, name, phone, email, telegram_id, created_at)
			  VALUES (:id, :name, :phone, :email, :telegram_id, :created_at)
			  ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				phone = EXCLUDED.phone,
				email = EXCLUDED.email,
				telegram_id = EXCLUDED.telegram_id`
	if _, err := s.DB.NamedExecContext(ctx, query, c); err != nil {
		return storageErr(op, err, apperr.ErrClientNotFound)
	}
	return nil
}

// GetClient возвращает клиента по идентификатору.
func (s *Storage) GetClient(ctx context.Context, id string) (*models.Client, error) {
	const op = "storage.GetClient"
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}

	var c models.Client
	err := s.DB.GetContext(ctx, &c,
		`SELECT id, name, phone, email, telegram_id, created_at FROM clients WHERE id = $1`, id)
	if err != nil {
		return nil, storageErr(op, err, apperr.Newf(apperr.ErrClientNotFound, "client %s not found", id))
	}
	return &c, nil
}
