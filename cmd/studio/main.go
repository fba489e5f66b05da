package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/yoga-studio/internal/app/studio"
	"github.com/magabrotheeeer/yoga-studio/internal/config"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/logger"
	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	log := logger.Setup(cfg.Env)

	log.Info("starting studio service", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := studio.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize studio app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Error("studio app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("studio app stopped gracefully")
}
