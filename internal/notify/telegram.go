package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram has a 4096 char limit per message.
const telegramMaxMsgLen = 4000

// messageSender is the subset of *tgbotapi.BotAPI used here.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram forwards audit entries whose outcome is selected to a set of
// chats. It implements shell.Sink.
type Telegram struct {
	dispatcher

	chatIDs    []int64
	bot        messageSender
	retryDelay time.Duration
}

type TelegramConfig struct {
	Token    string
	ChatIDs  []string
	NotifyOn []string // audit outcomes; empty = blocked only
	Logger   *slog.Logger

	// Sender overrides the bot client. When nil a client is created from Token.
	Sender messageSender
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var chats []int64
	for _, s := range cfg.ChatIDs {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram chat id %q: %w", s, err)
		}
		chats = append(chats, id)
	}
	if len(chats) == 0 {
		return nil, fmt.Errorf("telegram: no chat ids configured")
	}

	bot := cfg.Sender
	if bot == nil {
		api, err := tgbotapi.NewBotAPI(cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("telegram bot init: %w", err)
		}
		cfg.Logger.Info("telegram notifier connected",
			"username", api.Self.UserName,
			"id", api.Self.ID,
		)
		bot = api
	}

	return &Telegram{
		dispatcher: newDispatcher("telegram", cfg.NotifyOn, cfg.Logger),
		chatIDs:    chats,
		bot:        bot,
		retryDelay: 3 * time.Second,
	}, nil
}

// Run delivers queued notifications to every chat until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) {
	t.run(ctx, func(ctx context.Context, text string) {
		for _, chatID := range t.chatIDs {
			t.sendMessage(ctx, chatID, text)
		}
	})
}

func (t *Telegram) sendMessage(ctx context.Context, chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(ctx, chatID, chunk)
	}
}

// sendChunk sends a single message with retry and rate limit handling.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) {
	t.retry(ctx, strconv.FormatInt(chatID, 10), t.retryDelay, func() error {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		return err
	})
}
