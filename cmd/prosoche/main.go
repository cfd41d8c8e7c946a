package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/prosoche"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath(), "path to the prosoche YAML config")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := prosoche.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Config load failed", zap.String("path", *configPath), zap.Error(err))
	}

	daemon, err := prosoche.NewDaemon(cfg, logger)
	if err != nil {
		logger.Fatal("Daemon init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx); err != nil {
		logger.Fatal("Daemon exited", zap.Error(err))
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("PROSOCHE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "prosoche.yaml"
	}
	return filepath.Join(home, ".prosoche", "prosoche.yaml")
}

func newLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
