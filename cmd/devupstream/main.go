package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recipe-gateway/internal/app"
	"recipe-gateway/internal/config"
	authUsecase "recipe-gateway/internal/service/auth"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[MAIN] No .env file found, relying on system env vars")
	}
	cfg := config.Load()

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	var seed []authUsecase.SeedUser
	if raw := os.Getenv("DEV_SEED_USERS"); raw != "" {
		if seed, err = authUsecase.ParseSeedUsers(raw); err != nil {
			logger.Fatal("invalid DEV_SEED_USERS", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := app.NewDevUpstream(ctx, cfg, logger, app.DevUpstreamOptions{Seed: seed})
	if err != nil {
		logger.Fatal("failed to build development upstream", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("development upstream failed", zap.Error(err))
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
}
