package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"busbot/internal/app"
	"busbot/internal/config"
	"busbot/internal/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	// ---- Components ----
	// Lambda freezes the sandbox once Handle returns, so events are handled
	// before the webhook is acknowledged.
	a, err := app.Build(ctx, cfg, log, app.WithAsyncDispatch(false))
	if err != nil {
		log.Error("failed to wire components", "err", err)
		os.Exit(1)
	}

	lambda.Start(a.Handler.Handle)
}
