package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clawconsole/internal/config"
	"clawconsole/internal/domain"
	"clawconsole/internal/web"
)

func TestResultExitCode(t *testing.T) {
	code := func(n int) *int { return &n }
	tests := []struct {
		name string
		res  domain.CommandResult
		want int
	}{
		{"completed", domain.CommandResult{Status: domain.StatusCompleted, ExitCode: code(0)}, 0},
		{"non-zero exit", domain.CommandResult{Status: domain.StatusFailed, ExitCode: code(3)}, 3},
		{"blocked", domain.CommandResult{Status: domain.StatusFailed}, exitBlocked},
		{"timeout", domain.CommandResult{Status: domain.StatusTimeout}, exitTimeout},
		{"killed", domain.CommandResult{Status: domain.StatusKilled}, exitKilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resultExitCode(tt.res); got != tt.want {
				t.Errorf("resultExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequestFlags(t *testing.T) {
	rf := requestFlags{timeoutMs: 500, env: []string{"LANG=C", "EMPTY="}}
	req, err := rf.request([]string{"ls", "-la", "/tmp"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Command != "ls" || len(req.Args) != 2 || req.TimeoutMs != 500 {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.Env["LANG"] != "C" {
		t.Errorf("env LANG = %q", req.Env["LANG"])
	}
	if v, ok := req.Env["EMPTY"]; !ok || v != "" {
		t.Errorf("env EMPTY = %q, %v", v, ok)
	}

	rf.env = []string{"NOEQUALS"}
	if _, err := rf.request([]string{"ls"}); err == nil {
		t.Error("expected error for malformed --env")
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	cfgPath := filepath.Join(src, "config.json")
	dbPath := filepath.Join(src, "audit.db")
	os.WriteFile(cfgPath, []byte(`{"web":{"port":9090}}`), 0o600)
	os.WriteFile(dbPath, []byte("sqlite bytes"), 0o600)

	files := backupFiles(cfgPath, dbPath)
	if len(files) != 2 {
		t.Fatalf("backupFiles = %v", files)
	}
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	dst := t.TempDir()
	restored, err := extractTarGz(archive, filepath.Join(dst, "data", "audit.db"), filepath.Join(dst, "config.json"))
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("restored = %v", restored)
	}
	data, err := os.ReadFile(filepath.Join(dst, "data", "audit.db"))
	if err != nil || string(data) != "sqlite bytes" {
		t.Errorf("db content = %q, err=%v", data, err)
	}
	data, _ = os.ReadFile(filepath.Join(dst, "config.json"))
	if !strings.Contains(string(data), "9090") {
		t.Errorf("config content = %q", data)
	}
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.tar.gz")
	os.WriteFile(bad, []byte("plain text"), 0o600)
	if _, err := extractTarGz(bad, filepath.Join(t.TempDir(), "a.db"), filepath.Join(t.TempDir(), "c.json")); err == nil {
		t.Error("expected error for non-gzip archive")
	}
}

func TestServiceFile(t *testing.T) {
	path, content, err := serviceFile("linux", "/home/u", "/usr/local/bin/clawconsole", "/home/u/.clawconsole/config.json")
	if err != nil {
		t.Fatalf("serviceFile: %v", err)
	}
	if path != "/home/u/.config/systemd/user/clawconsole.service" {
		t.Errorf("path = %s", path)
	}
	if !strings.Contains(content, "ExecStart=/usr/local/bin/clawconsole serve --config /home/u/.clawconsole/config.json") {
		t.Errorf("unit content:\n%s", content)
	}

	_, content, err = serviceFile("darwin", "/Users/u", "/opt/clawconsole", "/Users/u/c.json")
	if err != nil {
		t.Fatalf("serviceFile darwin: %v", err)
	}
	if !strings.Contains(content, "<string>serve</string>") || strings.Contains(content, "{{") {
		t.Errorf("plist content:\n%s", content)
	}

	if _, _, err := serviceFile("plan9", "/", "", ""); err == nil {
		t.Error("expected error for unsupported OS")
	}
}

func TestRunWizard(t *testing.T) {
	cfg := config.Defaults()
	answers := strings.Join([]string{
		"0.0.0.0",       // host
		"9000",          // port
		"",              // auth: default is y for a non-loopback host
		"ops",           // username
		"hunter2",       // password
		"/srv/openclaw", // sandbox dir
		"n",             // persist audit
		"y",             // telegram
		"123:abc",       // token
		"42, -100",      // chat ids
	}, "\n") + "\n"

	if err := runWizard(cfg, strings.NewReader(answers), io.Discard); err != nil {
		t.Fatalf("runWizard: %v", err)
	}
	if cfg.Web.Host != "0.0.0.0" || cfg.Web.Port != 9000 {
		t.Errorf("web = %s:%d", cfg.Web.Host, cfg.Web.Port)
	}
	if !cfg.Web.Auth.Enabled || cfg.Web.Auth.Username != "ops" || cfg.Web.Auth.PasswordHash != web.HashPassword("hunter2") {
		t.Errorf("auth = %+v", cfg.Web.Auth)
	}
	if len(cfg.Shell.AllowedDirectories) != 2 || cfg.Shell.AllowedDirectories[1] != filepath.Join("/srv/openclaw", "workspace") {
		t.Errorf("dirs = %v", cfg.Shell.AllowedDirectories)
	}
	if cfg.Audit.Persist {
		t.Error("audit persist should be off")
	}
	if !cfg.Notify.Telegram.Enabled || len(cfg.Notify.Telegram.ChatIDs) != 2 || cfg.Notify.Telegram.ChatIDs[1] != "-100" {
		t.Errorf("telegram = %+v", cfg.Notify.Telegram)
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("wizard produced an invalid config: %v", err)
	}
}

func TestRunWizard_BadPort(t *testing.T) {
	err := runWizard(config.Defaults(), strings.NewReader("127.0.0.1\nabc\n"), io.Discard)
	if err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}
