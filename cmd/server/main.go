package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/crmkeeper/internal/logging"
	"github.com/dmitrijs2005/crmkeeper/internal/server"
	"github.com/dmitrijs2005/crmkeeper/internal/server/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.New(logging.EnvProd).Error(ctx, "config error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Env)

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "startup failed", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		os.Exit(1)
	}
}
