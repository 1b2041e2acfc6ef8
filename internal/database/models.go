package database

import (
	"time"
)

// PlaybackSessionRecord is the persisted trace of one streaming session,
// kept for promoter-facing viewing analytics. The live session itself is
// in-memory only; records outlive it.
type PlaybackSessionRecord struct {
	ID         string `json:"id" gorm:"primaryKey"`
	EventID    string `json:"event_id" gorm:"index"`
	Locator    string `json:"locator"`
	StreamType string `json:"stream_type"`
	Live       bool   `json:"live"`

	State       string     `json:"state"`
	LastQuality string     `json:"last_quality"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	// Final metrics totals, written on session end
	RebufferCount   int     `json:"rebuffer_count"`
	TotalRebufferMs int64   `json:"total_rebuffer_ms"`
	DroppedFrames   int     `json:"dropped_frames"`
	AvgBandwidth    float64 `json:"avg_bandwidth_mbps"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (PlaybackSessionRecord) TableName() string {
	return "playback_sessions"
}

// QualitySwitchRecord logs one rendition change within a session
type QualitySwitchRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID string    `json:"session_id" gorm:"index"`
	Quality   string    `json:"quality"`
	Auto      bool      `json:"auto"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the default table name
func (QualitySwitchRecord) TableName() string {
	return "playback_quality_switches"
}
