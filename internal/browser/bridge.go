package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"
)

// ErrInvalidURL is returned for URLs the bridge refuses to open.
var ErrInvalidURL = errors.New("browser: invalid url")

const (
	defaultTimeout = 30 * time.Second
	maxTextBytes   = 64 * 1024
	userAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Bridge drives a headless Chrome for page snapshots of the OpenClaw
// dashboard and other local web UIs.
type Bridge struct {
	profileDir string
	headless   bool
	timeout    time.Duration
	logger     *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool
	Timeout    time.Duration // per snapshot; default 30s
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".clawconsole", "chrome-profile")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
}

// Snapshot is what a page looked like at TakenAt.
type Snapshot struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Truncated  bool      `json:"truncated,omitempty"`
	Screenshot []byte    `json:"screenshot,omitempty"` // PNG
	TakenAt    time.Time `json:"takenAt"`
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// NewContext creates a new chromedp context with the bridge's Chrome profile.
// The caller MUST call cancel() when done.
func (b *Bridge) NewContext(parentCtx context.Context) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		b.logger.Error("failed to create profile dir", "dir", b.profileDir, "err", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.UserAgent(userAgent),
	)
	if b.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	return taskCtx, func() {
		taskCancel()
		allocCancel()
	}
}

// Snapshot loads rawURL and captures its title and visible text, plus a
// full-page PNG when screenshot is set.
func (b *Bridge) Snapshot(ctx context.Context, rawURL string, screenshot bool) (*Snapshot, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	taskCtx, cancel := b.NewContext(ctx)
	defer cancel()
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, b.timeout)
	defer timeoutCancel()

	b.logger.Info("taking page snapshot", "url", u.String())
	started := time.Now()

	snap := &Snapshot{URL: u.String()}
	actions := []chromedp.Action{
		chromedp.Navigate(u.String()),
		chromedp.WaitReady("body"),
		chromedp.Title(&snap.Title),
		chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &snap.Text),
	}
	if screenshot {
		actions = append(actions, chromedp.FullScreenshot(&snap.Screenshot, 100))
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", u, err)
	}

	snap.Text, snap.Truncated = capText(snap.Text, maxTextBytes)
	snap.TakenAt = time.Now().UTC()
	b.logger.Info("page snapshot taken",
		"url", snap.URL,
		"title", snap.Title,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return snap, nil
}

// capText cuts s to at most n bytes without splitting a UTF-8 sequence.
func capText(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
