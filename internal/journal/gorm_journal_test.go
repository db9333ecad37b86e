package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crabstack.local/crab-relay/internal/ids"
)

func newTestJournal(t *testing.T) *GormJournal {
	t.Helper()
	j, err := NewGormJournal("sqlite", filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = j.Close()
	})
	return j
}

func TestGormJournalTurnLifecycle(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	first, err := j.StartTurn(ctx, TurnStart{SessionKey: "discord:a", SenderID: "u1", ChannelID: "c1", Model: "m", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, TurnStatusInProgress, first.Status)
	assert.Len(t, first.TurnID, 32)

	second, err := j.StartTurn(ctx, TurnStart{SessionKey: "discord:a", SenderID: "u1", ChannelID: "c1", Model: "m", Prompt: "again"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)

	other, err := j.StartTurn(ctx, TurnStart{SessionKey: "discord:b", SenderID: "u2", ChannelID: "c1", Model: "m", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Sequence, "sequences are per session key")

	require.NoError(t, j.CompleteTurn(ctx, first.TurnID, Completion{Reply: "hey", InputTokens: 10, OutputTokens: 2}))
	require.NoError(t, j.FailTurn(ctx, second.TurnID, "completion api status 500"))

	turns, err := j.Recent(ctx, "discord:a", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, TurnStatusCompleted, turns[0].Status)
	assert.Equal(t, "hey", turns[0].Reply)
	assert.Equal(t, int64(10), turns[0].InputTokens)
	assert.NotNil(t, turns[0].CompletedAt)

	assert.Equal(t, TurnStatusFailed, turns[1].Status)
	assert.Equal(t, "completion api status 500", turns[1].Error)
}

func TestGormJournalRecentReturnsNewestOldestFirst(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for _, prompt := range []string{"one", "two", "three"} {
		_, err := j.StartTurn(ctx, TurnStart{SessionKey: "discord:a", Prompt: prompt})
		require.NoError(t, err)
	}

	turns, err := j.Recent(ctx, "discord:a", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "two", turns[0].Prompt)
	assert.Equal(t, "three", turns[1].Prompt)
}

func TestGormJournalUnknownTurn(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.ErrorIs(t, j.CompleteTurn(ctx, "missing", Completion{Reply: "x"}), ErrNotFound)
	require.ErrorIs(t, j.FailTurn(ctx, "missing", "boom"), ErrNotFound)
	require.ErrorIs(t, j.CompleteTurn(ctx, ids.New(), Completion{Reply: "x"}), ErrNotFound)

	_, err := j.StartTurn(ctx, TurnStart{SessionKey: " "})
	require.Error(t, err)
}

func TestOpenSelectsDriver(t *testing.T) {
	j, err := Open("none", "", nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, j)

	turn, err := j.StartTurn(context.Background(), TurnStart{SessionKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "k", turn.SessionKey)
	require.NoError(t, j.Close())

	sqlite, err := Open("SQLite", filepath.Join(t.TempDir(), "j.db"), nil)
	require.NoError(t, err)
	assert.IsType(t, &GormJournal{}, sqlite)
	require.NoError(t, sqlite.Close())

	_, err = Open("mongo", "x", nil)
	require.Error(t, err)
}
