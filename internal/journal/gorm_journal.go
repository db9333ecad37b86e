package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crabstack.local/crab-relay/internal/db"
	"crabstack.local/crab-relay/internal/ids"
)

const defaultRecentLimit = 20

type GormJournal struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormJournal(driver, dsn string, logger *logrus.Logger) (*GormJournal, error) {
	gormDB, err := db.OpenGorm(driver, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open gorm journal: %w", err)
	}

	j := &GormJournal{db: gormDB, now: func() time.Time { return time.Now().UTC() }}
	if err := j.migrate(); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

func (j *GormJournal) migrate() error {
	if err := j.db.AutoMigrate(&turnRow{}); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

func (j *GormJournal) StartTurn(ctx context.Context, start TurnStart) (TurnRecord, error) {
	sessionKey := strings.TrimSpace(start.SessionKey)
	if sessionKey == "" {
		return TurnRecord{}, errors.New("session key is required")
	}

	var out TurnRecord
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&turnRow{}).
			Where("session_key = ?", sessionKey).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("sequence lookup: %w", err)
		}

		now := j.now()
		row := turnRow{
			TurnID:     ids.New(),
			SessionKey: sessionKey,
			Sequence:   maxSeq + 1,
			SenderID:   start.SenderID,
			ChannelID:  start.ChannelID,
			MessageID:  start.MessageID,
			Model:      start.Model,
			Prompt:     start.Prompt,
			Status:     string(TurnStatusInProgress),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create turn: %w", err)
		}
		out = row.toRecord()
		return nil
	})
	if err != nil {
		return TurnRecord{}, err
	}
	return out, nil
}

func (j *GormJournal) CompleteTurn(ctx context.Context, turnID string, completion Completion) error {
	now := j.now()
	return j.finish(ctx, "complete turn", turnID, map[string]any{
		"status":        string(TurnStatusCompleted),
		"reply":         completion.Reply,
		"input_tokens":  completion.InputTokens,
		"output_tokens": completion.OutputTokens,
		"completed_at":  &now,
		"updated_at":    now,
	})
}

func (j *GormJournal) FailTurn(ctx context.Context, turnID, failure string) error {
	now := j.now()
	return j.finish(ctx, "fail turn", turnID, map[string]any{
		"status":       string(TurnStatusFailed),
		"error":        failure,
		"completed_at": &now,
		"updated_at":   now,
	})
}

func (j *GormJournal) finish(ctx context.Context, op, turnID string, updates map[string]any) error {
	if !ids.Valid(turnID) {
		return ErrNotFound
	}
	res := j.db.WithContext(ctx).Model(&turnRow{}).Where("turn_id = ?", turnID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Recent returns the newest turns for sessionKey, oldest first.
func (j *GormJournal) Recent(ctx context.Context, sessionKey string, limit int) ([]TurnRecord, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return nil, errors.New("session key is required")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var rows []turnRow
	if err := j.db.WithContext(ctx).
		Where("session_key = ?", sessionKey).
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}

	out := make([]TurnRecord, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.toRecord()
	}
	return out, nil
}

func (j *GormJournal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
