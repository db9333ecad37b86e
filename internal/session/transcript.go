package session

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is the ordered turn history of one session. Index 0 is always
// the system turn.
type Transcript []Turn

func NewTranscript(systemPrompt string) Transcript {
	return Transcript{{Role: RoleSystem, Content: systemPrompt}}
}

func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// trimTranscript drops the oldest non-system turns until len(turns) <= limit.
// The leading system turn is never dropped; a limit below 1 is treated as 1.
func trimTranscript(turns Transcript, limit int) Transcript {
	if limit < 1 {
		limit = 1
	}
	if len(turns) <= limit {
		return turns
	}

	if turns[0].Role != RoleSystem {
		out := make(Transcript, limit)
		copy(out, turns[len(turns)-limit:])
		return out
	}

	out := make(Transcript, 0, limit)
	out = append(out, turns[0])
	out = append(out, turns[len(turns)-(limit-1):]...)
	return out
}
