package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"sheet-etl/internal/api"
	"sheet-etl/internal/config"
	"sheet-etl/internal/sink"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	port := os.Getenv("API_PORT")
	if port == "" {
		port = "8080"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("interrupt received, shutting down gracefully…")
		cancel()
	}()

	store, closeStore, err := sink.Open(ctx, cfg.Store)
	if err != nil {
		logrus.Fatalf("failed to open %s store: %v", cfg.Store.Type, err)
	}
	defer closeStore()

	srv := api.NewServer(cfg, store)
	if err := srv.Run(ctx, port); err != nil {
		logrus.Errorf("server stopped with error: %v", err)
	}
}
