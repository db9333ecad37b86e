package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"crabstack.local/crab-relay/internal/db"
)

const DriverNone = "none"

var ErrNotFound = errors.New("turn not found")

type TurnStatus string

const (
	TurnStatusInProgress TurnStatus = "in_progress"
	TurnStatusCompleted  TurnStatus = "completed"
	TurnStatusFailed     TurnStatus = "failed"
)

// TurnStart describes one user message about to be sent for completion.
type TurnStart struct {
	SessionKey string
	SenderID   string
	ChannelID  string
	MessageID  string
	Model      string
	Prompt     string
}

type TurnRecord struct {
	TurnID       string     `json:"turn_id"`
	SessionKey   string     `json:"session_key"`
	Sequence     int64      `json:"sequence"`
	SenderID     string     `json:"sender_id"`
	ChannelID    string     `json:"channel_id"`
	MessageID    string     `json:"message_id,omitempty"`
	Model        string     `json:"model"`
	Prompt       string     `json:"prompt"`
	Reply        string     `json:"reply,omitempty"`
	Status       TurnStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	InputTokens  int64      `json:"input_tokens,omitempty"`
	OutputTokens int64      `json:"output_tokens,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Completion is what CompleteTurn records about a successful reply.
type Completion struct {
	Reply        string
	InputTokens  int64
	OutputTokens int64
}

// Journal is an audit trail of completion turns. It is write-mostly and is
// never consulted to rebuild conversation state.
type Journal interface {
	StartTurn(ctx context.Context, start TurnStart) (TurnRecord, error)
	CompleteTurn(ctx context.Context, turnID string, completion Completion) error
	FailTurn(ctx context.Context, turnID, failure string) error
	Recent(ctx context.Context, sessionKey string, limit int) ([]TurnRecord, error)
	Close() error
}

// Open returns the journal for driver. "none" (or empty) yields a Nop.
func Open(driver, dsn string, logger *logrus.Logger) (Journal, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "", DriverNone:
		return Nop{}, nil
	case db.DriverSQLite, db.DriverPostgres:
		return NewGormJournal(driver, dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported journal driver %q", driver)
	}
}

// Nop discards every record.
type Nop struct{}

func (Nop) StartTurn(_ context.Context, start TurnStart) (TurnRecord, error) {
	return TurnRecord{SessionKey: start.SessionKey, Status: TurnStatusInProgress}, nil
}

func (Nop) CompleteTurn(context.Context, string, Completion) error { return nil }

func (Nop) FailTurn(context.Context, string, string) error { return nil }

func (Nop) Recent(context.Context, string, int) ([]TurnRecord, error) { return nil, nil }

func (Nop) Close() error { return nil }
