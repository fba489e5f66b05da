// Package health отдаёт состояние зависимостей сервиса.
package health

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/yoga-studio/internal/http/response"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
)

const checkTimeout = 2 * time.Second

// Checker проверяет доступность зависимости.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc позволяет использовать функцию как Checker.
type CheckerFunc func(ctx context.Context) error

// Ping вызывает f.
func (f CheckerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Handler проверяет все зарегистрированные зависимости.
type Handler struct {
	log    *slog.Logger
	checks map[string]Checker
}

// New создаёт Handler. checks сопоставляет имя зависимости и её проверку.
func New(log *slog.Logger, checks map[string]Checker) *Handler {
	return &Handler{log: log, checks: checks}
}

// ServeHTTP отвечает 200, если все зависимости доступны, иначе 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"
	log := h.log.With(
		sl.Op(op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	statuses := make(map[string]string, len(h.checks))
	healthy := true
	for _, name := range slices.Sorted(maps.Keys(h.checks)) {
		if err := h.checks[name].Ping(ctx); err != nil {
			log.Warn("dependency is unhealthy", slog.String("dependency", name), sl.Err(err))
			statuses[name] = "down"
			healthy = false
			continue
		}
		statuses[name] = "up"
	}

	if !healthy {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.ErrorWithData("unhealthy", statuses))
		return
	}
	render.JSON(w, r, response.OKWithData(statuses))
}
