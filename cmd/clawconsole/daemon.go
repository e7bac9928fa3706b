package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the console as a user service (launchd/systemd)",
		Long:  "Generates and installs a service file that runs 'clawconsole serve' on login.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}

			path, content, err := serviceFile(runtime.GOOS, home, execPath, cfgPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}

			fmt.Printf("Service installed: %s\n", path)
			if runtime.GOOS == "darwin" {
				os.MkdirAll(filepath.Join(home, ".clawconsole", "logs"), 0o755)
				fmt.Printf("To start: launchctl load %s\n", path)
				fmt.Printf("To stop:  launchctl unload %s\n", path)
			} else {
				fmt.Printf("To start:  systemctl --user start %s\n", systemdUnit)
				fmt.Printf("To enable: systemctl --user enable %s\n", systemdUnit)
				fmt.Printf("To stop:   systemctl --user stop %s\n", systemdUnit)
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the console user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, _, err := serviceFile(runtime.GOOS, home, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service uninstalled: %s\n", path)
			return nil
		},
	}
}

const (
	launchdLabel = "com.clawconsole.serve"
	systemdUnit  = "clawconsole.service"
)

// serviceFile returns where the service definition for goos lives and its
// rendered content.
func serviceFile(goos, home, execPath, cfgPath string) (string, string, error) {
	switch goos {
	case "darwin":
		logDir := filepath.Join(home, ".clawconsole", "logs")
		r := strings.NewReplacer(
			"{{LABEL}}", launchdLabel,
			"{{EXEC}}", execPath,
			"{{CONFIG}}", cfgPath,
			"{{LOG}}", filepath.Join(logDir, "clawconsole.log"),
			"{{ERR_LOG}}", filepath.Join(logDir, "clawconsole-error.log"),
		)
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), r.Replace(launchdTemplate), nil
	case "linux":
		r := strings.NewReplacer("{{EXEC}}", execPath, "{{CONFIG}}", cfgPath)
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), r.Replace(systemdTemplate), nil
	default:
		return "", "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=ClawConsole management console for OpenClaw
After=network.target

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
