package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"crabstack.local/crab-relay/internal/logging"
)

// MaxMessageLength is Discord's per-message content limit.
const MaxMessageLength = 2000

const (
	defaultRetryCount   = 3
	defaultRetryBackoff = 150 * time.Millisecond
)

// Sender posts one message to a chat channel.
type Sender interface {
	SendMessage(ctx context.Context, channelID string, content string) error
}

// Dispatcher delivers replies synchronously so the caller's ordering holds.
// Each chunk is retried independently.
type Dispatcher struct {
	logger       *logrus.Logger
	sender       Sender
	retryCount   int
	retryBackoff time.Duration
	maxLength    int
}

type Option func(*Dispatcher)

func WithRetry(count int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		if count > 0 {
			d.retryCount = count
		}
		if backoff >= 0 {
			d.retryBackoff = backoff
		}
	}
}

func WithMaxLength(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxLength = n
		}
	}
}

func New(logger *logrus.Logger, sender Sender, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Dispatcher{
		logger:       logger,
		sender:       sender,
		retryCount:   defaultRetryCount,
		retryBackoff: defaultRetryBackoff,
		maxLength:    MaxMessageLength,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Deliver sends text to channelID, split into chunks that fit the platform
// limit. Blank text is a no-op.
func (d *Dispatcher) Deliver(ctx context.Context, channelID, text string) error {
	if d.sender == nil {
		return errors.New("dispatcher sender is not configured")
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return errors.New("channel id is required")
	}

	chunks := SplitMessage(text, d.maxLength)
	for i, chunk := range chunks {
		if err := d.deliverOne(ctx, channelID, chunk); err != nil {
			return fmt.Errorf("deliver chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, channelID, chunk string) error {
	var lastErr error
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := d.sender.SendMessage(ctx, channelID, chunk)
		if err == nil {
			return nil
		}
		lastErr = err

		d.logger.WithFields(logrus.Fields{
			"channel_id": channelID,
			"attempt":    attempt,
		}).WithError(err).Warn("send message failed")
		if attempt == d.retryCount {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.retryBackoff):
		}
	}
	return lastErr
}

// SplitMessage breaks text into chunks of at most limit runes, preferring
// newline then space boundaries. Whitespace-only input yields no chunks.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		head := text[:cut]
		switch {
		case text[cut] == '\n' || text[cut] == ' ':
		case strings.LastIndex(head, "\n") > 0:
			cut = strings.LastIndex(head, "\n")
		case strings.LastIndex(head, " ") > 0:
			cut = strings.LastIndex(head, " ")
		}
		chunk := strings.TrimSpace(text[:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
