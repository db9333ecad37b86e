package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

type Sender struct {
	session *discordgo.Session
}

func NewSender(session *discordgo.Session) *Sender {
	return &Sender{session: session}
}

func (s *Sender) SendMessage(ctx context.Context, channelID string, content string) error {
	channelID = strings.TrimSpace(channelID)
	content = strings.TrimSpace(content)
	if channelID == "" {
		return errors.New("channel id is required")
	}
	if content == "" {
		return nil
	}
	if s.session == nil {
		return errors.New("discord session is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send discord message channel_id=%s: %w", channelID, err)
	}
	return nil
}
