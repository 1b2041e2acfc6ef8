package streammodule

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass/internal/config"
	"github.com/stagepass/stagepass/internal/database"
	"github.com/stagepass/stagepass/internal/events"
	"github.com/stagepass/stagepass/internal/logger"
	"github.com/stagepass/stagepass/internal/modules/modulemanager"
)

// Module wires the stream manager into the module system
type Module struct {
	id          string
	name        string
	version     string
	core        bool
	initialized bool

	db       *gorm.DB
	eventBus events.EventBus
	manager  *Manager
	handler  *APIHandler
}

// Auto-register the module when imported
func init() {
	Register()
}

// Register registers this module with the module system
func Register() {
	streamModule := &Module{
		id:      "system.stream",
		name:    "Stream Manager",
		version: "1.0.0",
		core:    true,
	}
	modulemanager.Register(streamModule)
}

// ID returns the module ID
func (m *Module) ID() string {
	return m.id
}

// Name returns the module name
func (m *Module) Name() string {
	return m.name
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return m.core
}

// IsInitialized returns whether the module is initialized
func (m *Module) IsInitialized() bool {
	return m.initialized
}

// Migrate performs any pending migrations. Session records are migrated
// with the rest of the schema by the database package.
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init initializes the stream manager and its API surface
func (m *Module) Init() error {
	m.db = database.GetDB()
	m.eventBus = events.GetGlobalEventBus()

	player := config.Get().Player
	m.manager = NewManager(logger.New("stream"), m.db, m.eventBus, &ManagerConfig{
		MaxConcurrentSessions: player.MaxConcurrentSessions,
		SessionIdleTimeout:    player.SessionIdleTimeout,
		CleanupInterval:       player.CleanupInterval,
		SampleInterval:        player.SampleInterval,
		BehindLiveThreshold:   player.BehindLiveThreshold,
		SeekStep:              player.SeekStep,
		VolumeStep:            player.VolumeStep,
	})
	m.manager.Start()
	m.handler = NewAPIHandler(m.manager, m.eventBus)
	m.initialized = true

	if m.eventBus != nil {
		m.eventBus.PublishAsync(events.NewSystemEvent(
			events.EventInfo,
			"Stream Module Initialized",
			"Stream manager is accepting playback sessions",
		))
	}
	return nil
}

// RegisterRoutes registers the stream module API routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	if m.handler != nil {
		m.handler.RegisterRoutes(router)
	}
}

// Shutdown gracefully destroys all sessions
func (m *Module) Shutdown(ctx context.Context) error {
	if m.manager != nil {
		m.manager.Shutdown()
	}
	m.initialized = false
	return nil
}

// GetManager returns the stream manager
func (m *Module) GetManager() *Manager {
	return m.manager
}
