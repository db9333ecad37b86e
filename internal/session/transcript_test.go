package session

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTrimTranscriptKeepsSystemTurn(t *testing.T) {
	for limit := 1; limit <= 12; limit++ {
		turns := NewTranscript("sys")
		for i := 0; i < 40; i++ {
			role := RoleUser
			if i%2 == 1 {
				role = RoleAssistant
			}
			turns = trimTranscript(append(turns, Turn{Role: role, Content: fmt.Sprintf("m%d", i)}), limit)

			if len(turns) > limit {
				t.Fatalf("limit=%d step=%d: expected len <= %d, got %d", limit, i, limit, len(turns))
			}
			if turns[0].Role != RoleSystem || turns[0].Content != "sys" {
				t.Fatalf("limit=%d step=%d: expected system turn first, got %+v", limit, i, turns[0])
			}
			for idx, turn := range turns[1:] {
				if turn.Role == RoleSystem {
					t.Fatalf("limit=%d step=%d: unexpected extra system turn at %d", limit, i, idx+1)
				}
			}
		}
	}
}

func TestTrimTranscriptDropsOldestFirst(t *testing.T) {
	turns := Transcript{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "u1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "u2"},
		{Role: RoleAssistant, Content: "a2"},
	}

	got := trimTranscript(turns, 3)
	want := Transcript{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "u2"},
		{Role: RoleAssistant, Content: "a2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected trimmed transcript (-want +got):\n%s", diff)
	}
}

func TestTrimTranscriptUnderLimitIsUnchanged(t *testing.T) {
	turns := Transcript{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "u1"},
	}
	got := trimTranscript(turns, 10)
	if diff := cmp.Diff(turns, got); diff != "" {
		t.Fatalf("unexpected transcript (-want +got):\n%s", diff)
	}
}

func TestTrimTranscriptLimitOneHoldsOnlySystem(t *testing.T) {
	turns := Transcript{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "u1"},
		{Role: RoleAssistant, Content: "a1"},
	}
	got := trimTranscript(turns, 0)
	if diff := cmp.Diff(Transcript{{Role: RoleSystem, Content: "sys"}}, got); diff != "" {
		t.Fatalf("unexpected transcript (-want +got):\n%s", diff)
	}
}

func TestTranscriptCloneIsIndependent(t *testing.T) {
	original := NewTranscript("sys")
	clone := original.Clone()
	clone[0].Content = "changed"
	if original[0].Content != "sys" {
		t.Fatalf("expected clone mutation not to leak, got %q", original[0].Content)
	}
}
