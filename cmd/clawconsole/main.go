package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"clawconsole/internal/browser"
	"clawconsole/internal/config"
	"clawconsole/internal/notify"
	"clawconsole/internal/shell"
	"clawconsole/internal/store"
	"clawconsole/internal/web"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "clawconsole",
		Short: "ClawConsole: management console for OpenClaw",
		Long:  "ClawConsole serves a web console that runs whitelisted commands against an OpenClaw installation under an audited security policy.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.clawconsole/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(execCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(policyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// exitError carries a process exit status out of a command without cobra
// printing it.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist yet. The returned closer releases the log file, if any.
func loadConfig() (*config.Config, io.Closer, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if _, statErr := os.Stat(config.ExpandPath(cfgPath)); !errors.Is(statErr, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not found, using defaults", "path", cfgPath)
		cfg = config.Defaults()
		cfg.ExpandPaths()
	}
	closer, err := setupLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogger replaces the package logger according to the general config.
func setupLogger(gc config.GeneralConfig) (io.Closer, error) {
	var level slog.Level
	switch gc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: level}
	if gc.LogFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(out, opts))
	}
	slog.SetDefault(logger)
	return closer, nil
}

func initCmd() *cobra.Command {
	var username, password string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			if password != "" {
				cfg.Web.Auth = config.WebAuth{
					Enabled:      true,
					Username:     username,
					PasswordHash: web.HashPassword(password),
				}
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "data_dir", dataDir, "auth", cfg.Web.Auth.Enabled)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "admin", "web console username")
	cmd.Flags().StringVar(&password, "password", "", "enable basic auth with this password")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

// components are the long-lived pieces built from a config.
type components struct {
	engine    *shell.Engine
	store     *store.SQLiteStore // nil unless audit.persist
	events    *web.EventHub
	notifiers []notifier
}

// notifier is a chat notifier that delivers from its own goroutine.
type notifier interface {
	shell.Sink
	Run(ctx context.Context)
}

func (c *components) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// startNotifiers runs every configured notifier until ctx is cancelled.
func (c *components) startNotifiers(ctx context.Context) {
	for _, n := range c.notifiers {
		go n.Run(ctx)
	}
}

// buildEngine wires the shell engine to its configured sinks.
func buildEngine(cfg *config.Config) (*components, error) {
	c := &components{events: web.NewEventHub(logger)}
	sinks := shell.MultiSink{c.events}

	if cfg.Audit.Persist {
		st, err := store.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		c.store = st
		sinks = append(sinks, st)
	}

	if err := c.buildNotifiers(cfg.Notify); err != nil {
		c.Close()
		return nil, err
	}
	for _, n := range c.notifiers {
		sinks = append(sinks, n)
	}

	engine, err := shell.NewEngine(shell.EngineConfig{
		Shell:       cfg.Shell.ShellConfig,
		HistorySize: cfg.Shell.HistorySize,
		AuditSize:   cfg.Shell.AuditSize,
		Sink:        sinks,
		Logger:      logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("shell engine: %w", err)
	}
	c.engine = engine
	return c, nil
}

func (c *components) buildNotifiers(nc config.NotifyConfig) error {
	if nc.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:    nc.Telegram.Token,
			ChatIDs:  nc.Telegram.ChatIDs,
			NotifyOn: nc.Telegram.NotifyOn,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		c.notifiers = append(c.notifiers, tg)
		logger.Info("telegram notifications enabled", "notify_on", nc.Telegram.NotifyOn)
	}
	if nc.Discord.Enabled {
		d, err := notify.NewDiscord(notify.DiscordConfig{
			Token:      nc.Discord.Token,
			ChannelIDs: nc.Discord.ChannelIDs,
			NotifyOn:   nc.Discord.NotifyOn,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		c.notifiers = append(c.notifiers, d)
		logger.Info("discord notifications enabled", "notify_on", nc.Discord.NotifyOn)
	}
	if nc.Slack.Enabled {
		sl, err := notify.NewSlack(notify.SlackConfig{
			Token:      nc.Slack.Token,
			ChannelIDs: nc.Slack.ChannelIDs,
			NotifyOn:   nc.Slack.NotifyOn,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		c.notifiers = append(c.notifiers, sl)
		logger.Info("slack notifications enabled", "notify_on", nc.Slack.NotifyOn)
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web console",
		Long:  "Starts the HTTP console, the audit store and notifiers. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if !cfg.Web.Enabled {
		return fmt.Errorf("web console is disabled (web.enabled=false)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	sc := web.ServerConfig{
		Host:       cfg.Web.Host,
		Port:       cfg.Web.Port,
		Logger:     logger,
		Version:    version,
		Engine:     c.engine,
		Events:     c.events,
		Config:     cfg,
		ConfigPath: resolveConfigPath(),
	}

	if c.store != nil {
		sc.Records = c.store
		if cfg.Audit.RetentionDays > 0 {
			go pruneLoop(ctx, c.store, time.Duration(cfg.Audit.RetentionDays)*24*time.Hour)
		}
	}
	c.startNotifiers(ctx)
	if cfg.Browser.Enabled {
		sc.Browser = browser.NewBridge(browser.BridgeConfig{
			ProfileDir: cfg.Browser.ProfileDir,
			Headless:   cfg.Browser.Headless,
			Timeout:    time.Duration(cfg.Browser.TimeoutSeconds) * time.Second,
			Logger:     logger,
		})
		logger.Info("browser bridge enabled", "headless", cfg.Browser.Headless)
	}

	server := web.NewServer(sc)
	logger.Info("clawconsole started. Press Ctrl+C to stop.",
		"version", version,
		"shell_enabled", cfg.Shell.Enabled,
		"allowed_commands", len(cfg.Shell.AllowedCommands),
	)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("web console: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// pruneLoop deletes persisted records older than retention, once at start
// and then daily.
func pruneLoop(ctx context.Context, st *store.SQLiteStore, retention time.Duration) {
	prune := func() {
		n, err := st.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("audit prune failed", "err", err)
			return
		}
		if n > 0 {
			logger.Info("audit records pruned", "deleted", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. shell.timeout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. shell.maxConcurrentCommands 3)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
