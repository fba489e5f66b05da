package studio

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/yoga-studio/internal/http/handlers/health"
	"github.com/magabrotheeeer/yoga-studio/internal/http/middlewarectx"
)

// RegisterRoutes регистрирует служебные маршруты: состояние зависимостей и метрики.
func RegisterRoutes(r chi.Router, logger *slog.Logger, gatherer prometheus.Gatherer, checks map[string]health.Checker) {
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middlewarectx.RateLimitMiddleware(rate.NewLimiter(20, 40), logger),
	)

	r.Get("/health", health.New(logger, checks).ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
