package config

import (
	"clawconsole/internal/domain"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:   "~/.clawconsole",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Shell: ShellConfig{
			ShellConfig: DefaultShellPolicy(),
			HistorySize: 100,
			AuditSize:   1000,
		},
		Audit: AuditConfig{
			Persist:       false,
			DBPath:        "~/.clawconsole/audit.db",
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled:  false,
				NotifyOn: []string{string(domain.OutcomeBlocked)},
			},
			Discord: ChatConfig{NotifyOn: []string{string(domain.OutcomeBlocked)}},
			Slack:   ChatConfig{NotifyOn: []string{string(domain.OutcomeBlocked)}},
		},
		Browser: BrowserConfig{
			Enabled:        false,
			Headless:       true,
			TimeoutSeconds: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// DefaultShellPolicy is the conservative policy a fresh install starts with.
func DefaultShellPolicy() domain.ShellConfig {
	return domain.ShellConfig{
		Enabled:               true,
		TimeoutMs:             30_000,
		MaxOutputSize:         1 << 20,
		AllowedCommands:       defaultAllowedCommands(),
		BlockedPatterns:       defaultBlockedPatterns(),
		AllowedDirectories:    []string{"~/.openclaw", "~/.openclaw/workspace"},
		AllowedEnvVars:        []string{"PATH", "HOME", "USER", "LANG", "TERM", "TMPDIR"},
		MaxConcurrentCommands: 5,
	}
}

func defaultAllowedCommands() []string {
	return []string{
		"openclaw",
		"ls", "cat", "head", "tail", "wc", "grep", "find", "sort",
		"pwd", "echo", "date", "whoami", "uname", "which",
		"df", "du", "ps",
		"git", "node", "npm",
	}
}

func defaultBlockedPatterns() []string {
	return []string{
		"rm -rf",
		"sudo",
		"mkfs",
		"dd if=",
		"chmod 777",
		"> /dev",
		":(){",
		"shutdown",
		"reboot",
		"|", "&&", ";", "`", "$(",
	}
}
