// Package events provides the platform event bus used to fan playback
// lifecycle notifications out to the rest of the application (analytics,
// websocket feeds, admin surfaces).
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Platform-wide event types
const (
	// Playback session lifecycle
	EventPlaybackSessionCreated   EventType = "playback.session.created"
	EventPlaybackSessionDestroyed EventType = "playback.session.destroyed"
	EventPlaybackStarted          EventType = "playback.started"
	EventPlaybackPaused           EventType = "playback.paused"
	EventPlaybackBuffering        EventType = "playback.buffering"
	EventPlaybackEnded            EventType = "playback.ended"
	EventPlaybackError            EventType = "playback.error"
	EventPlaybackQualityChanged   EventType = "playback.quality.changed"
	EventPlaybackMetrics          EventType = "playback.metrics"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"

	// General events
	EventError   EventType = "error"
	EventWarning EventType = "warning"
	EventInfo    EventType = "info"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // system, session:id, user:id
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Sources []string    `json:"sources,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID           string       `json:"id"`
	Filter       EventFilter  `json:"filter"`
	Handler      EventHandler `json:"-"`
	Created      time.Time    `json:"created"`
	TriggerCount int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	EventsBySource      map[string]int64 `json:"events_by_source"`
	RecentEvents        []Event          `json:"recent_events"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig represents configuration for the event bus
type EventBusConfig struct {
	BufferSize      int `json:"buffer_size"`
	MaxRecentEvents int `json:"max_recent_events"`
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:      1000,
		MaxRecentEvents: 100,
	}
}

// NewSystemEvent builds a platform-level informational event
func NewSystemEvent(eventType EventType, title, message string) Event {
	return Event{
		Type:    eventType,
		Source:  "system",
		Title:   title,
		Message: message,
	}
}

// MatchesFilter reports whether an event passes a subscription filter
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Sources) > 0 {
		found := false
		for _, s := range filter.Sources {
			if event.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
