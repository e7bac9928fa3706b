package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"clawconsole/internal/config"
	"clawconsole/internal/shell"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// chromeBinaries are the executables chromedp's allocator looks for.
var chromeBinaries = []string{
	"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ClawConsole installation",
		Long: `Verifies that the configuration, shell policy, audit database, and
optional integrations are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("ClawConsole Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &doctorReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'clawconsole init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", r.passed, r.failed)
				return fmt.Errorf("config invalid")
			}
			r.pass("Config validation", "valid")

			checkShellPolicy(r, cfg)

			if cfg.Audit.Persist {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					r.fail("Audit database", err.Error())
				} else {
					detail := cfg.Audit.DBPath
					if info, err := os.Stat(cfg.Audit.DBPath); err == nil {
						detail += " (" + humanize.Bytes(uint64(info.Size())) + ")"
					}
					r.pass("Audit database", detail)
				}
			} else {
				r.warn("Audit database", "audit.persist is off; audit log is lost on restart")
			}

			if cfg.Web.Enabled {
				if !cfg.Web.Auth.Enabled && cfg.Web.Host != "127.0.0.1" && cfg.Web.Host != "localhost" {
					r.warn("Web auth", fmt.Sprintf("auth disabled while listening on %s", cfg.Web.Host))
				}
				if err := checkPort(cfg.Web.Host, cfg.Web.Port); err != nil {
					r.warn("Web port", fmt.Sprintf("port %d may be in use: %v", cfg.Web.Port, err))
				} else {
					r.pass("Web port", fmt.Sprintf("%s:%d available", cfg.Web.Host, cfg.Web.Port))
				}
			}

			if cfg.Notify.Telegram.Enabled {
				r.pass("Telegram", fmt.Sprintf("%d chat(s), notify on %v", len(cfg.Notify.Telegram.ChatIDs), cfg.Notify.Telegram.NotifyOn))
			}
			for _, n := range []struct {
				name string
				chat config.ChatConfig
			}{{"Discord", cfg.Notify.Discord}, {"Slack", cfg.Notify.Slack}} {
				if n.chat.Enabled {
					r.pass(n.name, fmt.Sprintf("%d channel(s), notify on %v", len(n.chat.ChannelIDs), n.chat.NotifyOn))
				}
			}

			if cfg.Browser.Enabled {
				if bin := findChrome(); bin != "" {
					r.pass("Browser", bin)
				} else {
					r.fail("Browser", "browser.enabled but no Chrome/Chromium found in PATH")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running ClawConsole.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Printf("\nClawConsole should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! ClawConsole is ready to run.\n")
			}
			return nil
		},
	}
}

func checkShellPolicy(r *doctorReport, cfg *config.Config) {
	if err := shell.ValidateConfig(cfg.Shell.ShellConfig); err != nil {
		r.fail("Shell policy", err.Error())
		return
	}
	if !cfg.Shell.Enabled {
		r.warn("Shell policy", "command execution is disabled")
		return
	}
	r.pass("Shell policy", fmt.Sprintf("%d allowed, %d blocked patterns, max %d concurrent",
		len(cfg.Shell.AllowedCommands), len(cfg.Shell.BlockedPatterns), cfg.Shell.MaxConcurrentCommands))

	var missing []string
	for _, c := range cfg.Shell.AllowedCommands {
		if _, err := exec.LookPath(c); err != nil {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		r.warn("Allowed commands", fmt.Sprintf("not found in PATH: %v", missing))
	}

	if len(cfg.Shell.AllowedDirectories) == 0 {
		r.warn("Allowed dirs", "none configured; commands run in the process working directory")
		return
	}
	for _, d := range cfg.Shell.AllowedDirectories {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			r.warn("Allowed dirs", fmt.Sprintf("not a directory: %s", d))
		}
	}
}

func findChrome() string {
	for _, name := range chromeBinaries {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
