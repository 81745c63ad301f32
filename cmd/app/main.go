package main

import (
	"flag"
	"fmt"
	"os"

	"SwingPull/internal/di"
	"SwingPull/pkg/config"
	applogger "SwingPull/pkg/logger"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "config file path")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "app initialization failed: %v\n", err)
		os.Exit(1)
	}

	l := app.Logger()
	if l == nil {
		l = applogger.NewWithWriter(os.Stderr)
	}
	l.Info("starting",
		applogger.String("env", cfg.Environment),
		applogger.String("backend", cfg.Ingest.Backend),
		applogger.String("tf", cfg.Ingest.Timeframe),
		applogger.Bool("clickhouse", cfg.ClickHouse.Enabled),
		applogger.Bool("redis", cfg.Redis.Enabled),
	)

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		l.Error("app error", applogger.Error(err))
		os.Exit(1)
	}
}
