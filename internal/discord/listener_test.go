package discord

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"crabstack.local/crab-relay/internal/relay"
	"crabstack.local/crab-relay/internal/session"
)

type fakeAcceptor struct {
	mu       sync.Mutex
	accepted []relay.Inbound
	err      error
}

func (a *fakeAcceptor) Accept(_ context.Context, in relay.Inbound) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accepted = append(a.accepted, in)
	return a.err
}

func readyListener(acceptor Acceptor) *Listener {
	l := NewListener(nil, acceptor, nil)
	l.handleReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "42", Username: "relay"}})
	return l
}

func TestHandleMessageBuildsInbound(t *testing.T) {
	acceptor := &fakeAcceptor{}
	l := readyListener(acceptor)

	l.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "channel-1",
		GuildID:   "guild-1",
		Content:   "<@!42> what is   go? ",
		Author:    &discordgo.User{ID: "user-1"},
		Mentions:  []*discordgo.User{{ID: "42"}},
	}})

	if len(acceptor.accepted) != 1 {
		t.Fatalf("expected one accepted message, got %d", len(acceptor.accepted))
	}
	in := acceptor.accepted[0]
	if in.SenderID != "user-1" || in.ChannelID != "channel-1" || in.MessageID != "msg-1" {
		t.Fatalf("unexpected identity fields: %+v", in)
	}
	if in.IsDirect {
		t.Fatalf("expected guild message not to be direct")
	}
	if !in.MentionsBot {
		t.Fatalf("expected bot mention to be detected")
	}
	if in.Text != "what is   go?" {
		t.Fatalf("unexpected text %q", in.Text)
	}
}

func TestHandleMessageDirectMessage(t *testing.T) {
	acceptor := &fakeAcceptor{}
	l := readyListener(acceptor)

	l.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-2",
		ChannelID: "dm-1",
		Content:   "hello",
		Author:    &discordgo.User{ID: "user-1"},
	}})

	if len(acceptor.accepted) != 1 {
		t.Fatalf("expected one accepted message, got %d", len(acceptor.accepted))
	}
	if in := acceptor.accepted[0]; !in.IsDirect || in.MentionsBot {
		t.Fatalf("expected direct message without mention, got %+v", in)
	}
}

func TestHandleMessageSkipsBotMessages(t *testing.T) {
	acceptor := &fakeAcceptor{}
	l := readyListener(acceptor)

	for _, author := range []*discordgo.User{{ID: "other-bot", Bot: true}, {ID: "42"}} {
		l.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
			ID:        "bot-msg",
			ChannelID: "channel-1",
			Author:    author,
		}})
	}
	l.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{ID: "no-author"}})
	l.handleMessage(nil, nil)

	if len(acceptor.accepted) != 0 {
		t.Fatalf("expected bot and malformed messages to be skipped, got %+v", acceptor.accepted)
	}
}

func TestHandleMessageContainsAcceptErrors(t *testing.T) {
	for _, err := range []error{session.ErrSessionQueueFull, errors.New("boom")} {
		acceptor := &fakeAcceptor{err: err}
		l := readyListener(acceptor)
		l.handleMessage(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
			ID:        "msg-3",
			ChannelID: "dm-1",
			Content:   "hi",
			Author:    &discordgo.User{ID: "user-1"},
		}})
		if len(acceptor.accepted) != 1 {
			t.Fatalf("expected message to reach the acceptor")
		}
	}
}

func TestMentionIgnoredBeforeReady(t *testing.T) {
	in, ok := buildInbound(&discordgo.Message{
		ChannelID: "channel-1",
		GuildID:   "guild-1",
		Content:   "<@123> hi",
		Author:    &discordgo.User{ID: "user-1"},
		Mentions:  []*discordgo.User{{ID: "123"}},
	}, "")
	if !ok {
		t.Fatalf("expected message to build")
	}
	if in.MentionsBot {
		t.Fatalf("expected no mention match without a known bot id")
	}
}

func TestStripMentions(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "<@123456> hello", want: "hello"},
		{in: "<@!123456>   ", want: ""},
		{in: "hey <@1> and <@!2> there", want: "hey  and  there"},
		{in: "no mentions", want: "no mentions"},
		{in: "<#123> channel refs stay", want: "<#123> channel refs stay"},
	}
	for _, tc := range tests {
		if got := StripMentions(tc.in); got != tc.want {
			t.Fatalf("StripMentions(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeBotToken(t *testing.T) {
	tests := map[string]string{
		"abc":       "Bot abc",
		"  abc  ":   "Bot abc",
		"Bot abc":   "Bot abc",
		"bot abc":   "bot abc",
		"Bearer ab": "Bot Bearer ab",
	}
	for in, want := range tests {
		if got := normalizeBotToken(in); got != want {
			t.Fatalf("normalizeBotToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewSessionRequiresToken(t *testing.T) {
	if _, err := NewSession("  "); err == nil {
		t.Fatalf("expected missing token error")
	}
	s, err := NewSession("abc")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if s.Identify.Intents&discordgo.IntentsMessageContent == 0 {
		t.Fatalf("expected message content intent")
	}
}

func TestSenderValidation(t *testing.T) {
	sender := NewSender(nil)
	if err := sender.SendMessage(context.Background(), " ", "hi"); err == nil {
		t.Fatalf("expected missing channel error")
	}
	if err := sender.SendMessage(context.Background(), "channel-1", "  "); err != nil {
		t.Fatalf("expected blank content to be a no-op, got %v", err)
	}
	if err := sender.SendMessage(context.Background(), "channel-1", "hi"); err == nil {
		t.Fatalf("expected missing session error")
	}
}

func TestStartWithoutSession(t *testing.T) {
	l := NewListener(nil, &fakeAcceptor{}, nil)
	if err := l.Start(context.Background()); err == nil {
		t.Fatalf("expected missing session error")
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("stop on unstarted listener: %v", err)
	}
}
