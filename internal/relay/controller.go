package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"crabstack.local/crab-relay/internal/journal"
	"crabstack.local/crab-relay/internal/logging"
	"crabstack.local/crab-relay/internal/model"
	"crabstack.local/crab-relay/internal/session"
)

const (
	DefaultModel        = "llama-3.3-70b-versatile"
	DefaultMaxTokens    = 300
	DefaultSystemPrompt = "You are a helpful assistant that answers questions politely and clearly."
	DefaultPlatform     = "discord"

	TerminationMessage      = "Conversation ended. Mention me to start a new one."
	EmptyCompletionFallback = "Sorry, I couldn't generate a response."
	CompletionErrorFallback = "Oops, something went wrong when contacting the AI."
)

// Greeting is the reply to an activation that carries no text.
func Greeting(senderID string) string {
	return fmt.Sprintf("Hey <@%s>, how can I help you?", senderID)
}

type Action string

const (
	ActionNone       Action = "none"
	ActionStarted    Action = "started"
	ActionReplied    Action = "replied"
	ActionTerminated Action = "terminated"
)

// Inbound is one chat message as seen by the controller. Text has mention
// tokens already removed.
type Inbound struct {
	SenderID    string
	ChannelID   string
	MessageID   string
	IsDirect    bool
	MentionsBot bool
	Text        string
	SenderIsBot bool
}

func (in Inbound) activates() bool {
	return in.IsDirect || in.MentionsBot
}

// Reply is the controller's decision for one message. Text is empty when
// Action is ActionNone.
type Reply struct {
	Action Action
	Text   string
}

type Expirer interface {
	Arm(key string, d time.Duration)
	Cancel(key string)
}

type Authorizer interface {
	IsAuthorized(userID string) bool
}

type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TTL         time.Duration
	Scope       session.Scope
	Platform    string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Model) == "" {
		o.Model = DefaultModel
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.TTL <= 0 {
		o.TTL = session.DefaultSessionTTL
	}
	if o.Scope == "" {
		o.Scope = session.ScopeChannel
	}
	if strings.TrimSpace(o.Platform) == "" {
		o.Platform = DefaultPlatform
	}
	return o
}

type Dependencies struct {
	Store      session.Store
	Expiry     Expirer
	Provider   model.Provider
	Authorizer Authorizer
	Journal    journal.Journal
	Logger     *logrus.Logger
}

// Controller runs the per-key ABSENT/ACTIVE state machine. Callers must not
// invoke Handle concurrently for the same session key; Service guarantees
// that through the per-key scheduler.
type Controller struct {
	logger     *logrus.Logger
	store      session.Store
	expiry     Expirer
	provider   model.Provider
	authorizer Authorizer
	journal    journal.Journal
	opts       Options
}

func NewController(deps Dependencies, opts Options) (*Controller, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("session store is required")
	case deps.Expiry == nil:
		return nil, errors.New("expiry scheduler is required")
	case deps.Provider == nil:
		return nil, errors.New("completion provider is required")
	case deps.Authorizer == nil:
		return nil, errors.New("authorizer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	j := deps.Journal
	if j == nil {
		j = journal.Nop{}
	}
	return &Controller{
		logger:     logger,
		store:      deps.Store,
		expiry:     deps.Expiry,
		provider:   deps.Provider,
		authorizer: deps.Authorizer,
		journal:    j,
		opts:       opts.withDefaults(),
	}, nil
}

func (c *Controller) SessionKey(in Inbound) string {
	return session.KeyFor(c.opts.Scope, c.opts.Platform, in.SenderID, in.ChannelID)
}

func (c *Controller) Handle(ctx context.Context, in Inbound) Reply {
	if in.SenderIsBot {
		return Reply{Action: ActionNone}
	}
	if !c.authorizer.IsAuthorized(in.SenderID) {
		c.logger.WithFields(logrus.Fields{
			"sender_id":  in.SenderID,
			"channel_id": in.ChannelID,
		}).Debug("ignoring message from unauthorized sender")
		return Reply{Action: ActionNone}
	}

	key := c.SessionKey(in)
	text := strings.TrimSpace(in.Text)
	if c.store.Exists(key) {
		return c.handleActive(ctx, key, in, text)
	}
	return c.handleAbsent(ctx, key, in, text)
}

func (c *Controller) handleAbsent(ctx context.Context, key string, in Inbound, text string) Reply {
	if !in.activates() || IsStopIntent(text) {
		return Reply{Action: ActionNone}
	}

	c.start(key, in)
	if text == "" {
		return Reply{Action: ActionStarted, Text: Greeting(in.SenderID)}
	}
	reply, ok := c.converse(ctx, key, in, text)
	if !ok {
		return Reply{Action: ActionNone}
	}
	return Reply{Action: ActionStarted, Text: reply}
}

func (c *Controller) handleActive(ctx context.Context, key string, in Inbound, text string) Reply {
	if IsStopIntent(text) {
		c.store.Delete(key)
		c.expiry.Cancel(key)
		c.logger.WithFields(logrus.Fields{
			"session_key": key,
			"sender_id":   in.SenderID,
		}).Info("session terminated")
		return Reply{Action: ActionTerminated, Text: TerminationMessage}
	}

	if text == "" {
		if !in.MentionsBot {
			return Reply{Action: ActionNone}
		}
		if !c.rearm(key) {
			return c.handleAbsent(ctx, key, in, text)
		}
		return Reply{Action: ActionReplied, Text: Greeting(in.SenderID)}
	}

	reply, ok := c.converse(ctx, key, in, text)
	if !ok {
		return Reply{Action: ActionNone}
	}
	return Reply{Action: ActionReplied, Text: reply}
}

func (c *Controller) start(key string, in Inbound) {
	c.store.GetOrCreate(key)
	c.expiry.Arm(key, c.opts.TTL)
	c.logger.WithFields(logrus.Fields{
		"session_key": key,
		"sender_id":   in.SenderID,
		"channel_id":  in.ChannelID,
		"direct":      in.IsDirect,
	}).Info("session started")
}

// converse records the user turn, asks the provider and records the answer.
// It reports false when the message was dropped because the session expired
// before the user turn could be recorded and the message cannot restart it.
func (c *Controller) converse(ctx context.Context, key string, in Inbound, text string) (string, bool) {
	userTurn := session.Turn{Role: session.RoleUser, Content: text}
	transcript, err := c.store.AppendAndTrim(key, userTurn)
	if errors.Is(err, session.ErrNotFound) {
		if !in.activates() {
			c.logger.WithField("session_key", key).Debug("session expired before message was recorded")
			return "", false
		}
		c.start(key, in)
		transcript, err = c.store.AppendAndTrim(key, userTurn)
	}
	if err != nil {
		c.logger.WithField("session_key", key).WithError(err).Warn("append user turn failed")
		return "", false
	}
	c.rearm(key)

	reply := c.complete(ctx, key, in, text, transcript)

	if _, err := c.store.AppendAndTrim(key, session.Turn{Role: session.RoleAssistant, Content: reply}); err != nil {
		// Expired or stopped while the completion was in flight. The reply is
		// still delivered but nothing is re-armed.
		c.logger.WithField("session_key", key).WithError(err).Debug("assistant turn not recorded")
		return reply, true
	}
	c.rearm(key)
	return reply, true
}

// rearm restarts the inactivity timer and reports whether the session still
// exists. A timer armed for a session that vanished meanwhile is cancelled.
func (c *Controller) rearm(key string) bool {
	c.expiry.Arm(key, c.opts.TTL)
	if c.store.Exists(key) {
		return true
	}
	c.expiry.Cancel(key)
	return false
}

// complete never fails: provider errors and blank answers become fallback
// text.
func (c *Controller) complete(ctx context.Context, key string, in Inbound, text string, transcript session.Transcript) string {
	entry := c.logger.WithFields(logrus.Fields{
		"session_key": key,
		"message_id":  in.MessageID,
	})

	turn, err := c.journal.StartTurn(ctx, journal.TurnStart{
		SessionKey: key,
		SenderID:   in.SenderID,
		ChannelID:  in.ChannelID,
		MessageID:  in.MessageID,
		Model:      c.opts.Model,
		Prompt:     text,
	})
	if err != nil {
		entry.WithError(err).Warn("journal start turn failed")
	}
	if turn.TurnID != "" {
		entry = entry.WithField("turn_id", turn.TurnID)
	}
	entry.Debug("turn start")

	resp, err := c.provider.Complete(ctx, model.CompletionRequest{
		Model:       c.opts.Model,
		Messages:    toModelMessages(transcript),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		entry.WithError(err).Error("completion failed")
		c.failTurn(ctx, entry, turn.TurnID, err.Error())
		return CompletionErrorFallback
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		entry.Warn("completion returned no content")
		c.failTurn(ctx, entry, turn.TurnID, "empty completion")
		return EmptyCompletionFallback
	}

	if turn.TurnID != "" {
		if err := c.journal.CompleteTurn(ctx, turn.TurnID, journal.Completion{
			Reply:        content,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}); err != nil {
			entry.WithError(err).Warn("journal complete turn failed")
		}
	}
	entry.WithFields(logrus.Fields{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}).Debug("turn complete")
	return content
}

func (c *Controller) failTurn(ctx context.Context, entry *logrus.Entry, turnID, failure string) {
	if turnID == "" {
		return
	}
	if err := c.journal.FailTurn(ctx, turnID, failure); err != nil {
		entry.WithError(err).Warn("journal fail turn failed")
	}
}

func toModelMessages(transcript session.Transcript) []model.Message {
	messages := make([]model.Message, 0, len(transcript))
	for _, turn := range transcript {
		messages = append(messages, model.Message{Role: model.Role(turn.Role), Content: turn.Content})
	}
	return messages
}
