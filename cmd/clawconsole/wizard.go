package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"clawconsole/internal/config"
	"clawconsole/internal/web"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: listen address → auth → OpenClaw directory → alerts → save config",
		Long:  "Guides you through the console's listen address, basic auth, the OpenClaw directory commands may run in, and Telegram alerts. Writes config to the path used by --config or default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runWizard(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: run 'clawconsole doctor', then 'clawconsole serve'.")
			return nil
		},
	}
}

// runWizard asks its questions on out, reads answers from in, and applies
// them to cfg.
func runWizard(cfg *config.Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}
	yes := func(def string) (bool, error) {
		ans, err := prompt(def)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(strings.ToLower(ans), "y"), nil
	}

	// Step 1: Listen address
	fmt.Fprintln(out, "\n--- Step 1: Web console ---")
	fmt.Fprint(out, "Listen host")
	host, err := prompt(cfg.Web.Host)
	if err != nil {
		return err
	}
	cfg.Web.Host = host
	fmt.Fprint(out, "Listen port")
	portStr, err := prompt(strconv.Itoa(cfg.Web.Port))
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q", portStr)
	}
	cfg.Web.Port = port

	// Step 2: Auth
	fmt.Fprintln(out, "\n--- Step 2: Basic auth ---")
	def := "n"
	if cfg.Web.Auth.Enabled || (host != "127.0.0.1" && host != "localhost") {
		def = "y"
	}
	fmt.Fprint(out, "Require a username and password (y/n)")
	enableAuth, err := yes(def)
	if err != nil {
		return err
	}
	cfg.Web.Auth.Enabled = enableAuth
	if enableAuth {
		user := cfg.Web.Auth.Username
		if user == "" {
			user = "admin"
		}
		fmt.Fprint(out, "Username")
		if cfg.Web.Auth.Username, err = prompt(user); err != nil {
			return err
		}
		fmt.Fprint(out, "Password")
		pass, err := readSecret(in, out, prompt)
		if err != nil {
			return err
		}
		if pass != "" {
			cfg.Web.Auth.PasswordHash = web.HashPassword(pass)
		}
		if cfg.Web.Auth.PasswordHash == "" {
			return fmt.Errorf("a password is required when auth is enabled")
		}
	}

	// Step 3: OpenClaw directory
	fmt.Fprintln(out, "\n--- Step 3: Command sandbox ---")
	openclawDir := "~/.openclaw"
	if len(cfg.Shell.AllowedDirectories) > 0 {
		openclawDir = cfg.Shell.AllowedDirectories[0]
	}
	fmt.Fprint(out, "Directory commands may run in")
	dir, err := prompt(openclawDir)
	if err != nil {
		return err
	}
	dir = config.ExpandPath(dir)
	cfg.Shell.AllowedDirectories = []string{dir, filepath.Join(dir, "workspace")}
	fmt.Fprint(out, "Persist the audit log to SQLite (y/n)")
	if cfg.Audit.Persist, err = yes("y"); err != nil {
		return err
	}

	// Step 4: Alerts
	fmt.Fprintln(out, "\n--- Step 4: Telegram alerts ---")
	fmt.Fprint(out, "Send blocked-command alerts to Telegram (y/n)")
	enableTG, err := yes("n")
	if err != nil {
		return err
	}
	cfg.Notify.Telegram.Enabled = enableTG
	if enableTG {
		fmt.Fprint(out, "Bot token (from @BotFather, or ${CLAWCONSOLE_TELEGRAM_TOKEN})")
		if cfg.Notify.Telegram.Token, err = prompt("${CLAWCONSOLE_TELEGRAM_TOKEN}"); err != nil {
			return err
		}
		fmt.Fprint(out, "Chat IDs (comma-separated)")
		ids, err := prompt(strings.Join(cfg.Notify.Telegram.ChatIDs, ","))
		if err != nil {
			return err
		}
		var chats config.FlexStringList
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				chats = append(chats, id)
			}
		}
		cfg.Notify.Telegram.ChatIDs = chats
	}
	return nil
}

// readSecret reads a line without echo when in is a terminal and falls back
// to the plain prompt otherwise.
func readSecret(in io.Reader, out io.Writer, prompt func(string) (string, error)) (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return prompt("")
	}
	fmt.Fprint(out, ": ")
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
