package main

import (
	"context"
	clts "kiwoombot/clients"
	"kiwoombot/config"
	"kiwoombot/internal/app"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real deployments use environment variables directly
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config from environment variables
	cfg := config.Load()
	logger.Info("starting bot",
		zap.Bool("isProd", cfg.IsProd),
		zap.Bool("mockTrading", cfg.Kiwoom.IsMock),
	)

	if result := cfg.Validate(); !result.Valid {
		for _, ve := range result.Errors {
			logger.Error("invalid config value",
				zap.String("field", ve.Field),
				zap.String("message", ve.Message),
			)
		}
		logger.Fatal("config validation failed", zap.Int("errors", len(result.Errors)))
	}

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, cfg)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
