package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// channelSender is the subset of *discordgo.Session used here.
type channelSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts selected audit entries to Discord channels over the REST API.
// No gateway connection is opened.
type Discord struct {
	dispatcher

	channelIDs []string
	session    channelSender
	retryDelay time.Duration
}

type DiscordConfig struct {
	Token      string
	ChannelIDs []string
	NotifyOn   []string
	Logger     *slog.Logger

	Sender channelSender // overrides the session built from Token
}

func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	var channels []string
	for _, id := range cfg.ChannelIDs {
		if id = strings.TrimSpace(id); id != "" {
			channels = append(channels, id)
		}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("discord: no channel ids configured")
	}

	sender := cfg.Sender
	if sender == nil {
		session, err := discordgo.New("Bot " + cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("discord session: %w", err)
		}
		sender = session
	}

	return &Discord{
		dispatcher: newDispatcher("discord", cfg.NotifyOn, cfg.Logger),
		channelIDs: channels,
		session:    sender,
		retryDelay: 3 * time.Second,
	}, nil
}

// Run delivers queued notifications to every channel until ctx is cancelled.
func (d *Discord) Run(ctx context.Context) {
	d.run(ctx, func(ctx context.Context, text string) {
		for _, channelID := range d.channelIDs {
			for _, chunk := range splitMessage(text, discordMaxMsgLen) {
				d.retry(ctx, channelID, d.retryDelay, func() error {
					_, err := d.session.ChannelMessageSend(channelID, chunk)
					return err
				})
			}
		}
	})
}
