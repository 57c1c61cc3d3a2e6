package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/consilience-ai/consilience-backend/internal/app"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
	"github.com/consilience-ai/consilience-backend/internal/platform/shutdown"
)

func main() {
	_ = godotenv.Load()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, log)
	if err != nil {
		log.Error("Startup failed", "error", err)
		log.Sync()
		os.Exit(1)
	}

	log.Info("Starting server", "port", a.Cfg.Port)
	runErr := a.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.HTTPShutdownTimeout)
	defer cancel()
	a.Close(closeCtx)

	if runErr != nil {
		log.Error("Server exited with error", "error", runErr)
		log.Sync()
		os.Exit(1)
	}
	log.Info("Server stopped")
	log.Sync()
}
