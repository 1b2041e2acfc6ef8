package streammodule

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all stream module routes
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	streamGroup := router.Group("/api/stream")
	{
		// Session lifecycle
		streamGroup.POST("/sessions", h.HandleCreateSession)
		streamGroup.GET("/sessions", h.HandleListSessions)
		streamGroup.GET("/sessions/:sessionId", h.HandleGetSession)
		streamGroup.DELETE("/sessions/:sessionId", h.HandleDestroySession)

		// Player surface socket (sink events up, commands and feed down)
		streamGroup.GET("/sessions/:sessionId/ws", h.HandleConnect)

		// Transport commands
		streamGroup.POST("/sessions/:sessionId/play", h.HandlePlay)
		streamGroup.POST("/sessions/:sessionId/pause", h.HandlePause)
		streamGroup.POST("/sessions/:sessionId/seek", h.HandleSeek)
		streamGroup.POST("/sessions/:sessionId/volume", h.HandleSetVolume)
		streamGroup.POST("/sessions/:sessionId/live", h.HandleGoLive)
		streamGroup.POST("/sessions/:sessionId/input", h.HandleInput)

		// Quality catalog
		streamGroup.GET("/sessions/:sessionId/qualities", h.HandleListQualities)
		streamGroup.POST("/sessions/:sessionId/quality", h.HandleSetQuality)

		// Metrics and records
		streamGroup.GET("/sessions/:sessionId/metrics", h.HandleMetricsSnapshot)
		streamGroup.GET("/records", h.HandleListRecords)
		streamGroup.GET("/records/:sessionId", h.HandleGetRecord)

		// Operator surfaces
		streamGroup.GET("/events/ws", h.HandleEventFeed)
		streamGroup.GET("/health", h.HandleHealthCheck)
		streamGroup.HEAD("/health", h.HandleHealthCheck)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		h.manager.Registry(), promhttp.HandlerOpts{})))
}
