package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stagepass/stagepass/internal/config"
	"github.com/stagepass/stagepass/internal/logger"
	"github.com/stagepass/stagepass/internal/modules/modulemanager"
	"github.com/stagepass/stagepass/internal/server"
)

func main() {
	configPath := os.Getenv("STAGEPASS_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Configure(cfg.Logging.Level)

	router, err := server.SetupRouter()
	if err != nil {
		logger.Error("Failed to start: %v", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("Starting StagePass server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server stopped: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown: %v", err)
	}
	modulemanager.ShutdownAll(ctx)
	if err := server.ShutdownEventBus(); err != nil {
		logger.Warn("Event bus shutdown: %v", err)
	}
}
