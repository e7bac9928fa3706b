package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const slackMaxMsgLen = 4000

// messagePoster is the subset of *slack.Client used here.
type messagePoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts selected audit entries to Slack channels with a bot token.
type Slack struct {
	dispatcher

	channelIDs []string
	client     messagePoster
	retryDelay time.Duration
}

type SlackConfig struct {
	Token      string // bot token (xoxb-...)
	ChannelIDs []string
	NotifyOn   []string
	Logger     *slog.Logger

	Poster messagePoster // overrides the client built from Token
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	var channels []string
	for _, id := range cfg.ChannelIDs {
		if id = strings.TrimSpace(id); id != "" {
			channels = append(channels, id)
		}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("slack: no channel ids configured")
	}

	poster := cfg.Poster
	if poster == nil {
		if cfg.Token == "" {
			return nil, fmt.Errorf("slack: token is required")
		}
		poster = slack.New(cfg.Token)
	}

	return &Slack{
		dispatcher: newDispatcher("slack", cfg.NotifyOn, cfg.Logger),
		channelIDs: channels,
		client:     poster,
		retryDelay: 3 * time.Second,
	}, nil
}

// Run delivers queued notifications to every channel until ctx is cancelled.
func (s *Slack) Run(ctx context.Context) {
	s.run(ctx, func(ctx context.Context, text string) {
		for _, channelID := range s.channelIDs {
			for _, chunk := range splitMessage(text, slackMaxMsgLen) {
				s.retry(ctx, channelID, s.retryDelay, func() error {
					_, _, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(chunk, false))
					return err
				})
			}
		}
	})
}
