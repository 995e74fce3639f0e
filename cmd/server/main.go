package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server"
	"github.com/dmitrijs2005/mediarelay/internal/server/config"
)

func main() {

	ctx := context.Background()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "app init failed", "error", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "app stopped with error", "error", err)
		os.Exit(1)
	}
}
