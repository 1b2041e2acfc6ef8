package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stagepass/stagepass/internal/config"
	"github.com/stagepass/stagepass/internal/database"
	"github.com/stagepass/stagepass/internal/events"
	"github.com/stagepass/stagepass/internal/logger"
	"github.com/stagepass/stagepass/internal/modules/modulemanager"

	// Import all modules to trigger their registration
	_ "github.com/stagepass/stagepass/internal/modules/streammodule"
)

var (
	systemEventBus    events.EventBus
	moduleInitialized bool
)

// SetupRouter configures and returns the main router
func SetupRouter() (*gin.Engine, error) {
	cfg := config.Get()

	r := gin.Default()
	if cfg.Server.EnableCORS {
		r.Use(corsMiddleware())
	}

	if err := initializeEventBus(); err != nil {
		return nil, err
	}
	if err := initializeModules(cfg); err != nil {
		return nil, err
	}

	modulemanager.RegisterRoutes(r)
	registerCoreRoutes(r)
	return r, nil
}

// corsMiddleware allows the hosting UI to reach the API during development
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// initializeModules sets up the module system and loads all modules
func initializeModules(cfg *config.Config) error {
	if moduleInitialized {
		return nil
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return err
	}
	events.SetGlobalEventBus(systemEventBus)

	if err := modulemanager.LoadAll(db); err != nil {
		return err
	}

	moduleInitialized = true
	logger.Info("Module system initialized with %d modules", len(modulemanager.ListModules()))
	return nil
}

// initializeEventBus sets up the system-wide event bus
func initializeEventBus() error {
	if systemEventBus != nil {
		return nil
	}

	systemEventBus = events.NewEventBus(events.DefaultEventBusConfig(), logger.New("events"))
	if err := systemEventBus.Start(context.Background()); err != nil {
		return err
	}

	startupEvent := events.NewSystemEvent(
		events.EventSystemStarted,
		"System Started",
		"StagePass backend has started",
	)
	if err := systemEventBus.PublishAsync(startupEvent); err != nil {
		logger.Warn("Failed to publish startup event: %v", err)
	}
	return nil
}

// GetEventBus returns the global event bus instance
func GetEventBus() events.EventBus {
	return systemEventBus
}

// ShutdownEventBus publishes the stop event and drains the bus
func ShutdownEventBus() error {
	if systemEventBus == nil {
		return nil
	}

	shutdownEvent := events.NewSystemEvent(
		events.EventSystemStopped,
		"System Stopped",
		"StagePass backend is shutting down",
	)
	systemEventBus.PublishAsync(shutdownEvent)

	return systemEventBus.Stop(context.Background())
}
