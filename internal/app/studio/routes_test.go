package studio

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/yoga-studio/internal/http/handlers/health"
	"github.com/magabrotheeeer/yoga-studio/internal/metrics"
)

func TestRegisterRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RetryExhausted()

	r := chi.NewRouter()
	checks := map[string]health.Checker{
		"postgres": health.CheckerFunc(func(context.Context) error { return nil }),
	}
	RegisterRoutes(r, slog.New(slog.NewTextHandler(io.Discard, nil)), reg, checks)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "studio_notifications_retries_exhausted_total 1")
}
