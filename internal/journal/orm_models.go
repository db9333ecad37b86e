package journal

import "time"

type turnRow struct {
	TurnID       string     `gorm:"primaryKey;size:64"`
	SessionKey   string     `gorm:"size:191;not null;uniqueIndex:idx_turns_session_sequence,priority:1"`
	Sequence     int64      `gorm:"not null;uniqueIndex:idx_turns_session_sequence,priority:2"`
	SenderID     string     `gorm:"size:191;not null"`
	ChannelID    string     `gorm:"size:191;not null"`
	MessageID    string     `gorm:"size:191"`
	Model        string     `gorm:"size:191;not null"`
	Prompt       string     `gorm:"type:text;not null"`
	Reply        string     `gorm:"type:text"`
	Status       string     `gorm:"size:64;not null"`
	Error        string     `gorm:"type:text"`
	InputTokens  int64      `gorm:"not null;default:0"`
	OutputTokens int64      `gorm:"not null;default:0"`
	CreatedAt    time.Time  `gorm:"not null"`
	CompletedAt  *time.Time `gorm:"index"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

func (turnRow) TableName() string {
	return "relay_turns"
}

func (r turnRow) toRecord() TurnRecord {
	rec := TurnRecord{
		TurnID:       r.TurnID,
		SessionKey:   r.SessionKey,
		Sequence:     r.Sequence,
		SenderID:     r.SenderID,
		ChannelID:    r.ChannelID,
		MessageID:    r.MessageID,
		Model:        r.Model,
		Prompt:       r.Prompt,
		Reply:        r.Reply,
		Status:       TurnStatus(r.Status),
		Error:        r.Error,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		CreatedAt:    r.CreatedAt,
	}
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		rec.CompletedAt = &completed
	}
	return rec
}
