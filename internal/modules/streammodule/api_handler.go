package streammodule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/stagepass/stagepass/internal/events"
)

// APIHandler handles HTTP requests for the stream module
type APIHandler struct {
	manager  *Manager
	eventBus events.EventBus
	logger   hclog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	pending map[string]createSpec
}

// createSpec holds the locator a session will attach to once its player
// surface connects
type createSpec struct {
	locator string
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(manager *Manager, eventBus events.EventBus) *APIHandler {
	return &APIHandler{
		manager:  manager,
		eventBus: eventBus,
		logger:   manager.logger.Named("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pending: make(map[string]createSpec),
	}
}

type createSessionRequest struct {
	Locator string `json:"locator" binding:"required"`
	EventID string `json:"event_id"`
	Live    bool   `json:"live"`
	DVR     bool   `json:"dvr"`
	Sources []struct {
		Label        string `json:"label"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		BandwidthBps int    `json:"bandwidth_bps"`
		Locator      string `json:"locator"`
	} `json:"sources"`
}

// HandleCreateSession creates a playback session. The session stays idle
// until the player surface connects to its websocket.
func (h *APIHandler) HandleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var alternates []QualityVariant
	for _, s := range req.Sources {
		alternates = append(alternates, QualityVariant{
			Label:        s.Label,
			Width:        s.Width,
			Height:       s.Height,
			BandwidthBps: s.BandwidthBps,
			Locator:      s.Locator,
		})
	}

	session, _, err := h.manager.CreateSession(CreateSessionOptions{
		EventID:          req.EventID,
		Live:             req.Live,
		DVR:              req.DVR,
		AlternateSources: alternates,
	})
	if err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	h.pending[session.ID()] = createSpec{locator: req.Locator}
	h.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{
		"id":            session.ID(),
		"stream_type":   ResolveStreamType(req.Locator),
		"websocket_url": fmt.Sprintf("/api/stream/sessions/%s/ws", session.ID()),
	})
}

// HandleConnect upgrades the player surface connection and drives the
// session through it. The socket carries sink events upstream and commands
// plus the session event feed downstream. When the socket drops the session
// is torn down.
func (h *APIHandler) HandleConnect(c *gin.Context) {
	sessionID := c.Param("sessionId")
	session, controller, ok := h.manager.GetSession(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	h.mu.Lock()
	spec, hasSpec := h.pending[sessionID]
	delete(h.pending, sessionID)
	h.mu.Unlock()
	if !hasSpec {
		c.JSON(http.StatusConflict, gin.H{"error": "session already connected"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	sink := newRemoteSink(h.logger, conn)
	unsubscribe := session.OnAll(func(ev Event) {
		sendErr := sink.send(ServerMessage{Type: wireTypeEvent, Event: &ev})
		if sendErr != nil {
			h.logger.Debug("event feed frame dropped", "session_id", sessionID, "error", sendErr)
		}
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if initErr := controller.Initialize(ctx, sink, spec.locator); initErr != nil {
			h.logger.Warn("session initialize failed", "session_id", sessionID, "error", initErr)
		}
	}()

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		sink.handleClientMessage(msg)
	}

	sink.close()
	unsubscribe()
	conn.Close()
	if err := h.manager.DestroySession(sessionID); err != nil {
		h.logger.Debug("session already destroyed", "session_id", sessionID)
	}
}

// HandleGetSession returns a full snapshot of one session
func (h *APIHandler) HandleGetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	session, controller, ok := h.manager.GetSession(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":              session.ID(),
		"locator":         session.Locator(),
		"stream_type":     session.Type(),
		"live":            session.IsLive(),
		"state":           controller.State(),
		"last_error":      controller.LastError(),
		"current_quality": session.Catalog().Current(),
		"time_label":      controller.CurrentTimeLabel(),
		"duration_label":  controller.DurationLabel(),
		"progress":        controller.ProgressPercent(),
		"seek_enabled":    controller.SeekEnabled(),
		"behind_live":     controller.IsBehindLive(),
		"buffered":        controller.BufferedSegments(),
		"volume":          controller.Volume(),
		"metrics":         session.Metrics(),
	})
}

// HandleListSessions returns all live session IDs
func (h *APIHandler) HandleListSessions(c *gin.Context) {
	ids := h.manager.ListSessions()
	c.JSON(http.StatusOK, gin.H{"sessions": ids, "count": len(ids)})
}

// HandleDestroySession tears a session down
func (h *APIHandler) HandleDestroySession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	h.mu.Lock()
	delete(h.pending, sessionID)
	h.mu.Unlock()

	if err := h.manager.DestroySession(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "destroyed"})
}

// HandlePlay resumes playback
func (h *APIHandler) HandlePlay(c *gin.Context) {
	h.withSession(c, func(session *StreamingSession, _ *PlaybackController) {
		session.Play()
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// HandlePause pauses playback
func (h *APIHandler) HandlePause(c *gin.Context) {
	h.withSession(c, func(session *StreamingSession, _ *PlaybackController) {
		session.Pause()
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// HandleSeek seeks to an absolute position in seconds
func (h *APIHandler) HandleSeek(c *gin.Context) {
	var req struct {
		Position float64 `json:"position"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.withSession(c, func(session *StreamingSession, _ *PlaybackController) {
		session.Seek(req.Position)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// HandleSetVolume sets the playback volume in [0,1]
func (h *APIHandler) HandleSetVolume(c *gin.Context) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.withSession(c, func(session *StreamingSession, _ *PlaybackController) {
		session.SetVolume(req.Volume)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// HandleGoLive snaps a live session back to the live edge
func (h *APIHandler) HandleGoLive(c *gin.Context) {
	h.withSession(c, func(_ *StreamingSession, controller *PlaybackController) {
		controller.GoLive()
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// HandleInput dispatches a keyboard shortcut to the controller
func (h *APIHandler) HandleInput(c *gin.Context) {
	var req struct {
		Key string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.withSession(c, func(_ *StreamingSession, controller *PlaybackController) {
		controller.HandleKey(req.Key)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// HandleListQualities returns the quality catalog for a session
func (h *APIHandler) HandleListQualities(c *gin.Context) {
	h.withSession(c, func(session *StreamingSession, _ *PlaybackController) {
		c.JSON(http.StatusOK, gin.H{
			"current":   session.Catalog().Current(),
			"qualities": session.Catalog().Variants(),
		})
	})
}

// HandleSetQuality switches the session to a named quality
func (h *APIHandler) HandleSetQuality(c *gin.Context) {
	var req struct {
		Label string `json:"label" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.withSession(c, func(session *StreamingSession, _ *PlaybackController) {
		switch err := session.SetQuality(req.Label); {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "ok", "quality": req.Label})
		case errors.Is(err, ErrInvalidQuality):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrUnsupportedOperation):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})
}

// HandleMetricsSnapshot returns the latest sampled metrics for a session
func (h *APIHandler) HandleMetricsSnapshot(c *gin.Context) {
	h.withSession(c, func(session *StreamingSession, _ *PlaybackController) {
		c.JSON(http.StatusOK, session.Metrics())
	})
}

// HandleListRecords returns finished and in-flight session records
func (h *APIHandler) HandleListRecords(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	records, err := h.manager.Store().ListRecords(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// HandleGetRecord returns one persisted session record
func (h *APIHandler) HandleGetRecord(c *gin.Context) {
	record, err := h.manager.Store().GetRecord(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// HandleEventFeed streams platform playback events over a websocket. Unlike
// the per-session socket this feed covers every session, for operator
// dashboards.
func (h *APIHandler) HandleEventFeed(c *gin.Context) {
	if h.eventBus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not available"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("event feed upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	sub, err := h.eventBus.Subscribe(events.EventFilter{
		Types: []events.EventType{
			events.EventPlaybackSessionCreated,
			events.EventPlaybackSessionDestroyed,
			events.EventPlaybackStarted,
			events.EventPlaybackPaused,
			events.EventPlaybackBuffering,
			events.EventPlaybackEnded,
			events.EventPlaybackError,
			events.EventPlaybackQualityChanged,
			events.EventPlaybackMetrics,
		},
	}, func(ev events.Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(ev)
	})
	if err != nil {
		h.logger.Error("event feed subscription failed", "error", err)
		return
	}
	defer h.eventBus.Unsubscribe(sub.ID)

	// Drain control frames until the client hangs up
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// HandleHealthCheck reports manager status and host load
func (h *APIHandler) HandleHealthCheck(c *gin.Context) {
	health := gin.H{
		"status":          "healthy",
		"active_sessions": len(h.manager.ListSessions()),
		"timestamp":       time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if memStats, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		health["memory_used_percent"] = memStats.UsedPercent
	}
	if cpuPercents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercents) > 0 {
		health["cpu_percent"] = cpuPercents[0]
	}

	c.JSON(http.StatusOK, health)
}

// withSession looks a session up by path param and runs fn on it
func (h *APIHandler) withSession(c *gin.Context, fn func(*StreamingSession, *PlaybackController)) {
	session, controller, ok := h.manager.GetSession(c.Param("sessionId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	fn(session, controller)
}
