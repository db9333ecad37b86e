package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Store owns every transcript. Reads hand out copies; callers never hold a
// reference into store memory across calls.
type Store interface {
	GetOrCreate(key string) (Transcript, bool)
	Get(key string) (Transcript, error)
	AppendAndTrim(key string, turn Turn) (Transcript, error)
	Delete(key string)
	Exists(key string) bool
}

type SessionInfo struct {
	Key          string    `json:"key"`
	Turns        int       `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeChannel Scope = "channel"
)

func ParseScope(raw string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case ScopeUser:
		return ScopeUser, nil
	case ScopeChannel, "":
		return ScopeChannel, nil
	default:
		return "", fmt.Errorf("unknown session scope %q", raw)
	}
}

// KeyFor derives the session key for a sender. With ScopeChannel the same
// user gets a separate conversation in every channel.
func KeyFor(scope Scope, platform, userID, channelID string) string {
	platform = strings.TrimSpace(platform)
	identity := platform + ":" + strings.TrimSpace(userID)
	if scope != ScopeUser {
		identity += ":" + strings.TrimSpace(channelID)
	}
	sum := sha256.Sum256([]byte(identity))
	return platform + ":" + hex.EncodeToString(sum[:16])
}
