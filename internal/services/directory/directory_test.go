package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/yoga-studio/internal/apperr"
	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) GetClient(ctx context.Context, id string) (*models.Client, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Client), args.Error(1)
}

func (m *RepoMock) SaveClient(ctx context.Context, c *models.Client) error {
	return m.Called(ctx, c).Error(0)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(ctx context.Context, key string, result any) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}

func (m *CacheMock) Invalidate(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestDirectory_GetClient(t *testing.T) {
	ctx := context.Background()
	client := &models.Client{ID: "cli_1", Name: "Анна", TelegramID: 42}

	tests := []struct {
		name     string
		setup    func(r *RepoMock, c *CacheMock)
		wantErr  error
		wantName string
	}{
		{
			name: "cache hit",
			setup: func(_ *RepoMock, c *CacheMock) {
				c.On("Get", ctx, "client:cli_1", mock.Anything).Run(func(args mock.Arguments) {
					*(args.Get(2).(*models.Client)) = *client
				}).Return(true, nil)
			},
			wantName: "Анна",
		},
		{
			name: "cache miss loads and caches",
			setup: func(r *RepoMock, c *CacheMock) {
				c.On("Get", ctx, "client:cli_1", mock.Anything).Return(false, nil)
				r.On("GetClient", ctx, "cli_1").Return(client, nil)
				c.On("Set", ctx, "client:cli_1", client, time.Hour).Return(nil)
			},
			wantName: "Анна",
		},
		{
			name: "cache failure falls back to repository",
			setup: func(r *RepoMock, c *CacheMock) {
				c.On("Get", ctx, "client:cli_1", mock.Anything).Return(false, errors.New("redis down"))
				r.On("GetClient", ctx, "cli_1").Return(client, nil)
				c.On("Set", ctx, "client:cli_1", client, time.Hour).Return(errors.New("redis down"))
			},
			wantName: "Анна",
		},
		{
			name: "not found",
			setup: func(r *RepoMock, c *CacheMock) {
				c.On("Get", ctx, "client:cli_1", mock.Anything).Return(false, nil)
				r.On("GetClient", ctx, "cli_1").Return(nil, apperr.ErrClientNotFound)
			},
			wantErr: apperr.ErrClientNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, cache := new(RepoMock), new(CacheMock)
			tt.setup(repo, cache)
			d := New(repo, cache, newNoopLogger())

			got, err := d.GetClient(ctx, "cli_1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, got.Name)
			repo.AssertExpectations(t)
			cache.AssertExpectations(t)
		})
	}
}

func TestDirectory_SaveClientInvalidates(t *testing.T) {
	ctx := context.Background()
	repo, cache := new(RepoMock), new(CacheMock)
	client := &models.Client{ID: "cli_1", Name: "Анна"}

	repo.On("SaveClient", ctx, client).Return(nil)
	cache.On("Invalidate", ctx, "client:cli_1").Return(nil)

	require.NoError(t, New(repo, cache, newNoopLogger()).SaveClient(ctx, client))
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestDirectory_NilCache(t *testing.T) {
	ctx := context.Background()
	repo := new(RepoMock)
	repo.On("GetClient", ctx, "cli_1").Return(&models.Client{ID: "cli_1"}, nil)

	got, err := New(repo, nil, newNoopLogger()).GetClient(ctx, "cli_1")
	require.NoError(t, err)
	assert.Equal(t, "cli_1", got.ID)
}
