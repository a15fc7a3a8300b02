package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Haleralex/payflow/internal/config"
	"github.com/Haleralex/payflow/internal/container"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env удобен в разработке; в production переменные приходят из
	// окружения и файл просто отсутствует.
	_ = godotenv.Load()

	cfg, err := config.Load("configs", "config")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	c := container.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Initialize(ctx); err != nil {
		slog.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}

	if err := c.Start(ctx); err != nil {
		c.Logger().Error("failed to start engine", "error", err)
		shutdown(c)
		os.Exit(1)
	}

	// Ожидаем сигнал завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	c.Logger().Info("Shutdown signal received", slog.String("signal", sig.String()))

	cancel()
	shutdown(c)
	c.Logger().Info("Engine stopped gracefully")
}

func shutdown(c *container.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := c.Shutdown(ctx); err != nil {
		c.Logger().Error("shutdown finished with errors", "error", err)
	}
}
