// Package discord implements the Notifier port with discordgo.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*Notifier)(nil)

// Embed colors by severity.
const (
	ColorInfo    = 0x3498db
	ColorSuccess = 0x2ecc71
	ColorWarning = 0xf1c40f
	ColorError   = 0xe74c3c
)

// Messenger is the subset of *discordgo.Session the notifier uses.
type Messenger interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier sends notifications as embeds.
type Notifier struct {
	session Messenger
}

// NewNotifier creates a Notifier over session.
func NewNotifier(session Messenger) *Notifier {
	return &Notifier{session: session}
}

// NotifyUser sends n as a direct message.
func (n *Notifier) NotifyUser(ctx context.Context, userID string, note driven.Notification) error {
	ch, err := n.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("opening DM channel with %s: %w", userID, err)
	}
	return n.NotifyChannel(ctx, ch.ID, note)
}

// NotifyChannel posts n to a guild or DM channel.
func (n *Notifier) NotifyChannel(ctx context.Context, channelID string, note driven.Notification) error {
	if _, err := n.session.ChannelMessageSendEmbed(channelID, Embed(note), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending notification to channel %s: %w", channelID, err)
	}
	return nil
}

// Embed renders a notification.
func Embed(note driven.Notification) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       note.Title,
		Description: note.Body,
		Color:       SeverityColor(note.Severity),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// SeverityColor maps a severity to an embed color.
func SeverityColor(s driven.Severity) int {
	switch s {
	case driven.SeveritySuccess:
		return ColorSuccess
	case driven.SeverityWarning:
		return ColorWarning
	case driven.SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}
