// Package store persists call records and archives transcripts.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chadiek/phone-agent/internal/agent"
)

// CallLog is the persisted record of one phone call.
type CallLog struct {
	ID            uint   `gorm:"primaryKey"`
	CallSID       string `gorm:"column:call_sid;uniqueIndex;size:64"`
	Direction     string `gorm:"size:16"`
	FromNumber    string `gorm:"size:32"`
	ToNumber      string `gorm:"size:32"`
	Status        string `gorm:"size:16"`
	Duration      float64
	Transcription string
	StartedAt     time.Time
	EndedAt       *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Uploader archives a transcript document after the call ends.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

// CallStore records call lifecycle events in SQLite and optionally
// archives transcripts through the uploader.
type CallStore struct {
	db       *gorm.DB
	uploader Uploader
	log      *zap.Logger
}

func Open(path string, uploader Uploader, log *zap.Logger) (*CallStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&CallLog{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &CallStore{db: db, uploader: uploader, log: log}, nil
}

// CallStarted inserts the initial record for a call. Retried webhooks
// for an already known call are ignored.
func (s *CallStore) CallStarted(ctx context.Context, sess *agent.Session) error {
	rec := CallLog{
		CallSID:    sess.CallSID,
		Direction:  string(sess.Direction),
		FromNumber: sess.From,
		ToNumber:   sess.To,
		Status:     string(agent.StatusActive),
		StartedAt:  sess.StartedAt,
	}
	err := s.db.WithContext(ctx).
		Where(CallLog{CallSID: sess.CallSID}).
		FirstOrCreate(&rec).Error
	if err != nil {
		return fmt.Errorf("store: record call start: %w", err)
	}
	return nil
}

// CallEnded finalizes the record and archives the transcript.
func (s *CallStore) CallEnded(ctx context.Context, sum agent.CallSummary) error {
	updates := map[string]any{
		"status":        sum.Status,
		"duration":      sum.Duration.Seconds(),
		"transcription": sum.Transcript,
		"ended_at":      sum.EndedAt,
	}
	err := s.db.WithContext(ctx).
		Model(&CallLog{}).
		Where("call_sid = ?", sum.CallSID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("store: record call end: %w", err)
	}

	if s.uploader == nil || sum.Transcript == "" {
		return nil
	}
	key := fmt.Sprintf("transcripts/%s_%d.txt", sum.CallSID, sum.EndedAt.Unix())
	if err := s.uploader.Upload(key, "text/plain", []byte(sum.Transcript)); err != nil {
		return fmt.Errorf("store: archive transcript: %w", err)
	}
	s.log.Info("transcript archived", zap.String("call_sid", sum.CallSID), zap.String("key", key))
	return nil
}

// Recent returns the most recent call records, newest first.
func (s *CallStore) Recent(ctx context.Context, limit int) ([]CallLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []CallLog
	err := s.db.WithContext(ctx).
		Order("started_at desc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
