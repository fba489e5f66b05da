// Package services содержит справочник клиентов студии с кэшированием в Redis.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

const clientTTL = time.Hour

// ClientRepository определяет методы хранилища клиентов.
type ClientRepository interface {
	// GetClient возвращает клиента по идентификатору.
	GetClient(ctx context.Context, id string) (*models.Client, error)
	// SaveClient добавляет клиента или обновляет его контакты.
	SaveClient(ctx context.Context, c *models.Client) error
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(ctx context.Context, key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(ctx context.Context, key string) error
}

// Directory справочник клиентов. Ядро использует его только для проверки
// существования клиента и получения контактов для доставки уведомлений.
type Directory struct {
	repo  ClientRepository
	cache Cache
	log   *slog.Logger
}

// New создает справочник. cache может быть nil.
func New(repo ClientRepository, cache Cache, log *slog.Logger) *Directory {
	return &Directory{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

func clientKey(id string) string {
	return "client:" + id
}

// GetClient возвращает клиента, сначала заглядывая в кэш.
func (d *Directory) GetClient(ctx context.Context, id string) (*models.Client, error) {
	const op = "directory.GetClient"
	key := clientKey(id)

	if d.cache != nil {
		var cached models.Client
		found, err := d.cache.Get(ctx, key, &cached)
		if err != nil {
			d.log.Warn("failed to read client from cache", slog.String("key", key), sl.Err(err))
		}
		if found {
			return &cached, nil
		}
	}

	c, err := d.repo.GetClient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, key, c, clientTTL); err != nil {
			d.log.Warn("failed to cache client", slog.String("key", key), sl.Err(err))
		}
	}
	return c, nil
}

// SaveClient сохраняет клиента и сбрасывает его запись в кэше.
func (d *Directory) SaveClient(ctx context.Context, c *models.Client) error {
	const op = "directory.SaveClient"
	if err := d.repo.SaveClient(ctx, c); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if d.cache != nil {
		if err := d.cache.Invalidate(ctx, clientKey(c.ID)); err != nil {
			d.log.Warn("failed to invalidate client cache", slog.String("id", c.ID), sl.Err(err))
		}
	}
	return nil
}
