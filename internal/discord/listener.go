package discord

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"crabstack.local/crab-relay/internal/logging"
	"crabstack.local/crab-relay/internal/relay"
	"crabstack.local/crab-relay/internal/session"
)

const acceptTimeout = 5 * time.Second

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// Acceptor takes inbound messages off the gateway goroutine.
type Acceptor interface {
	Accept(ctx context.Context, in relay.Inbound) error
}

// NewSession creates a discordgo session with the intents the relay needs.
// The same session backs both Listener and Sender.
func NewSession(token string) (*discordgo.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord bot token is required")
	}
	s, err := discordgo.New(normalizeBotToken(token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return s, nil
}

type Listener struct {
	session  *discordgo.Session
	acceptor Acceptor
	logger   *logrus.Logger

	mu        sync.Mutex
	started   bool
	removers  []func()
	botUserID string
}

func NewListener(session *discordgo.Session, acceptor Acceptor, logger *logrus.Logger) *Listener {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Listener{
		session:  session,
		acceptor: acceptor,
		logger:   logger,
	}
}

func (l *Listener) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("listener already started")
	}
	if l.session == nil {
		return errors.New("discord session is required")
	}

	l.removers = append(l.removers,
		l.session.AddHandler(l.handleReady),
		l.session.AddHandler(l.handleMessage),
	)
	if err := l.session.Open(); err != nil {
		l.removeHandlersLocked()
		return fmt.Errorf("open discord session: %w", err)
	}

	l.started = true
	l.logger.Info("discord listener started")
	return nil
}

func (l *Listener) Stop() error {
	l.mu.Lock()
	started := l.started
	l.started = false
	l.removeHandlersLocked()
	l.mu.Unlock()

	if !started {
		return nil
	}
	if err := l.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	l.logger.Info("discord listener stopped")
	return nil
}

func (l *Listener) removeHandlersLocked() {
	for _, remove := range l.removers {
		remove()
	}
	l.removers = nil
}

// BotUserID is empty until the gateway has sent READY.
func (l *Listener) BotUserID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.botUserID
}

func (l *Listener) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	l.mu.Lock()
	l.botUserID = r.User.ID
	l.mu.Unlock()
	l.logger.WithField("bot_user_id", r.User.ID).Infof("discord listener ready as %s", r.User.Username)
}

func (l *Listener) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil {
		return
	}
	in, ok := buildInbound(m.Message, l.BotUserID())
	if !ok || in.SenderIsBot {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), acceptTimeout)
	defer cancel()
	if err := l.acceptor.Accept(ctx, in); err != nil {
		entry := l.logger.WithFields(logrus.Fields{
			"channel_id": in.ChannelID,
			"sender_id":  in.SenderID,
			"message_id": in.MessageID,
		})
		if errors.Is(err, session.ErrSessionQueueFull) {
			entry.Warn("dropping message, session queue full")
			return
		}
		entry.WithError(err).Error("failed to accept message")
	}
}

func buildInbound(msg *discordgo.Message, botUserID string) (relay.Inbound, bool) {
	if msg == nil || msg.Author == nil {
		return relay.Inbound{}, false
	}

	return relay.Inbound{
		SenderID:    msg.Author.ID,
		ChannelID:   msg.ChannelID,
		MessageID:   msg.ID,
		IsDirect:    msg.GuildID == "",
		MentionsBot: mentionsUser(msg.Mentions, botUserID),
		Text:        StripMentions(msg.Content),
		SenderIsBot: msg.Author.Bot || (botUserID != "" && msg.Author.ID == botUserID),
	}, true
}

func mentionsUser(mentions []*discordgo.User, userID string) bool {
	if userID == "" {
		return false
	}
	for _, user := range mentions {
		if user != nil && user.ID == userID {
			return true
		}
	}
	return false
}

// StripMentions removes every <@id> and <@!id> token and trims the result.
func StripMentions(content string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(content, ""))
}

func normalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
