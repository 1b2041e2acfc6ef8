package streammodule

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass/internal/database"
)

// SessionStore persists playback session records for viewing analytics.
// A nil database makes every operation a logged no-op so playback never
// depends on the store being available.
type SessionStore struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewSessionStore creates a new session store
func NewSessionStore(db *gorm.DB, logger hclog.Logger) *SessionStore {
	return &SessionStore{
		db:     db,
		logger: logger.Named("session-store"),
	}
}

// CreateRecord opens the persisted trace of a session
func (s *SessionStore) CreateRecord(session *StreamingSession, eventID string) error {
	if s.db == nil {
		return nil
	}
	record := &database.PlaybackSessionRecord{
		ID:         session.ID(),
		EventID:    eventID,
		Locator:    session.Locator(),
		StreamType: string(session.Type()),
		Live:       session.IsLive(),
		State:      string(StateLoading),
		StartedAt:  time.Now(),
	}
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("create session record: %w", err)
	}
	s.logger.Debug("created session record", "session_id", record.ID, "stream_type", record.StreamType)
	return nil
}

// UpdateSource backfills the resolved locator and protocol once the
// session has loaded. The record is created before Initialize runs, so
// these fields are unknown at creation time.
func (s *SessionStore) UpdateSource(session *StreamingSession) error {
	if s.db == nil {
		return nil
	}
	return s.db.Model(&database.PlaybackSessionRecord{}).
		Where("id = ?", session.ID()).
		Updates(map[string]interface{}{
			"locator":     session.Locator(),
			"stream_type": string(session.Type()),
			"live":        session.IsLive(),
		}).Error
}

// UpdateState records a playback state transition
func (s *SessionStore) UpdateState(sessionID string, state PlaybackState) error {
	if s.db == nil {
		return nil
	}
	return s.db.Model(&database.PlaybackSessionRecord{}).
		Where("id = ?", sessionID).
		Update("state", string(state)).Error
}

// RecordQualitySwitch logs one rendition change
func (s *SessionStore) RecordQualitySwitch(sessionID, quality string) error {
	if s.db == nil {
		return nil
	}
	record := &database.QualitySwitchRecord{
		SessionID: sessionID,
		Quality:   quality,
		Auto:      quality == QualityLabelAuto,
	}
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("record quality switch: %w", err)
	}
	return nil
}

// CloseRecord finalizes a session's trace with its last state and metrics
func (s *SessionStore) CloseRecord(sessionID string, state PlaybackState, metrics SessionMetrics) error {
	if s.db == nil {
		return nil
	}
	now := time.Now()
	updates := map[string]interface{}{
		"state":             string(state),
		"ended_at":          &now,
		"last_quality":      metrics.CurrentQuality,
		"rebuffer_count":    metrics.RebufferCount,
		"total_rebuffer_ms": metrics.TotalRebufferMs,
		"dropped_frames":    metrics.DroppedFrames,
		"avg_bandwidth":     metrics.BandwidthMbps,
	}
	err := s.db.Model(&database.PlaybackSessionRecord{}).
		Where("id = ?", sessionID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("close session record: %w", err)
	}
	s.logger.Debug("closed session record", "session_id", sessionID, "state", state)
	return nil
}

// GetRecord retrieves a session record by ID
func (s *SessionStore) GetRecord(sessionID string) (*database.PlaybackSessionRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("session store has no database")
	}
	var record database.PlaybackSessionRecord
	if err := s.db.Where("id = ?", sessionID).First(&record).Error; err != nil {
		return nil, fmt.Errorf("session record not found: %w", err)
	}
	return &record, nil
}

// ListRecords returns the most recent session records
func (s *SessionStore) ListRecords(limit int) ([]database.PlaybackSessionRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var records []database.PlaybackSessionRecord
	err := s.db.Order("started_at DESC").Limit(limit).Find(&records).Error
	return records, err
}
