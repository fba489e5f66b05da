// Package logger настраивает slog в зависимости от окружения.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup возвращает логгер: текстовый с уровнем debug для local,
// JSON с уровнем debug для dev и JSON с уровнем info для prod.
func Setup(env string) *slog.Logger {
	return New(os.Stdout, env)
}

// New как Setup, но пишет в w.
func New(w io.Writer, env string) *slog.Logger {
	switch env {
	case "prod":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	case "dev":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
