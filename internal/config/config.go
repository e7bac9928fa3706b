package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"clawconsole/internal/domain"
)

// Config is the root configuration for the console.
type Config struct {
	General GeneralConfig `json:"general"`
	Web     WebConfig     `json:"web"`
	Shell   ShellConfig   `json:"shell"`
	Audit   AuditConfig   `json:"audit"`
	Notify  NotifyConfig  `json:"notify"`
	Browser BrowserConfig `json:"browser"`
	Metrics MetricsConfig `json:"metrics"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir"`
	LogLevel  string `json:"logLevel"`
	LogFile   string `json:"logFile,omitempty"`   // optional log file path
	LogFormat string `json:"logFormat,omitempty"` // "text" | "json"
}

type WebConfig struct {
	Enabled bool    `json:"enabled"`
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	Auth    WebAuth `json:"auth"`
}

type WebAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`

	// Bearer tokens issued by POST /api/auth/token. An empty secret means a
	// random one per process, so tokens do not survive a restart.
	TokenSecret     string `json:"tokenSecret,omitempty"`
	TokenTTLMinutes int    `json:"tokenTTLMinutes,omitempty"`
}

// ShellConfig is the execution policy plus the sizes of the in-memory logs.
type ShellConfig struct {
	domain.ShellConfig
	HistorySize int `json:"historySize"`
	AuditSize   int `json:"auditSize"`
}

// AuditConfig controls persistence of history and audit entries to SQLite.
type AuditConfig struct {
	Persist       bool   `json:"persist"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"` // 0 = keep forever
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  ChatConfig     `json:"discord"`
	Slack    ChatConfig     `json:"slack"`
}

type TelegramConfig struct {
	Enabled  bool           `json:"enabled"`
	Token    string         `json:"token"`
	ChatIDs  FlexStringList `json:"chatIds"`
	NotifyOn []string       `json:"notifyOn"` // audit outcomes: "blocked" | "failed" | "allowed"
}

// ChatConfig configures a channel-based notifier (Discord, Slack).
type ChatConfig struct {
	Enabled    bool           `json:"enabled"`
	Token      string         `json:"token"`
	ChannelIDs FlexStringList `json:"channelIds"`
	NotifyOn   []string       `json:"notifyOn"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// BrowserConfig configures the headless page snapshot endpoint.
type BrowserConfig struct {
	Enabled        bool   `json:"enabled"`
	Headless       bool   `json:"headless"`
	ProfileDir     string `json:"profileDir,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.clawconsole).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawconsole"
	}
	return filepath.Join(home, ".clawconsole")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.ExpandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ExpandPaths resolves ~/ in every path-valued field.
func (c *Config) ExpandPaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Audit.DBPath = ExpandPath(c.Audit.DBPath)
	c.Browser.ProfileDir = ExpandPath(c.Browser.ProfileDir)
	for i, d := range c.Shell.AllowedDirectories {
		c.Shell.AllowedDirectories[i] = ExpandPath(d)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		errs = append(errs, "web.port must be between 0 and 65535")
	}
	if cfg.Web.Auth.Enabled && (cfg.Web.Auth.Username == "" || cfg.Web.Auth.PasswordHash == "") {
		errs = append(errs, "web.auth requires username and passwordHash when enabled")
	}
	if cfg.Web.Auth.TokenTTLMinutes < 0 {
		errs = append(errs, "web.auth.tokenTTLMinutes must be >= 0")
	}
	if s := cfg.Web.Auth.TokenSecret; s != "" && len(s) < 16 {
		errs = append(errs, "web.auth.tokenSecret must be at least 16 characters")
	}

	if cfg.Shell.TimeoutMs < 1 {
		errs = append(errs, "shell.timeout must be >= 1")
	}
	if cfg.Shell.MaxOutputSize < 1 {
		errs = append(errs, "shell.maxOutputSize must be >= 1")
	}
	if cfg.Shell.MaxConcurrentCommands < 1 || cfg.Shell.MaxConcurrentCommands > 100 {
		errs = append(errs, "shell.maxConcurrentCommands must be between 1 and 100")
	}
	if cfg.Shell.HistorySize < 0 {
		errs = append(errs, "shell.historySize must be >= 0")
	}
	if cfg.Shell.AuditSize < 0 {
		errs = append(errs, "shell.auditSize must be >= 0")
	}

	if cfg.Audit.Persist && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit.persist is enabled")
	}
	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retentionDays must be >= 0")
	}

	tg := cfg.Notify.Telegram
	if tg.Enabled {
		if tg.Token == "" {
			errs = append(errs, "notify.telegram.token is required when enabled")
		}
		if len(tg.ChatIDs) == 0 {
			errs = append(errs, "notify.telegram.chatIds must not be empty when enabled")
		}
		for _, id := range tg.ChatIDs {
			if _, err := strconv.ParseInt(id, 10, 64); err != nil {
				errs = append(errs, fmt.Sprintf("notify.telegram.chatIds: invalid chat id %q", id))
			}
		}
	}
	errs = append(errs, validateOutcomes("notify.telegram.notifyOn", tg.NotifyOn)...)
	errs = append(errs, validateChat("notify.discord", cfg.Notify.Discord)...)
	errs = append(errs, validateChat("notify.slack", cfg.Notify.Slack)...)

	if cfg.Browser.Enabled && cfg.Browser.TimeoutSeconds < 1 {
		errs = append(errs, "browser.timeoutSeconds must be >= 1")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateChat(prefix string, c ChatConfig) []string {
	var errs []string
	if c.Enabled {
		if c.Token == "" {
			errs = append(errs, prefix+".token is required when enabled")
		}
		if len(c.ChannelIDs) == 0 {
			errs = append(errs, prefix+".channelIds must not be empty when enabled")
		}
	}
	return append(errs, validateOutcomes(prefix+".notifyOn", c.NotifyOn)...)
}

func validateOutcomes(field string, outcomes []string) []string {
	var errs []string
	for _, o := range outcomes {
		switch domain.AuditOutcome(o) {
		case domain.OutcomeAllowed, domain.OutcomeBlocked, domain.OutcomeFailed:
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown outcome %q", field, o))
		}
	}
	return errs
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
