package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidateURL(t *testing.T) {
	valid := []string{
		"http://127.0.0.1:18789/",
		"https://example.com/dashboard?tab=agents",
	}
	for _, raw := range valid {
		if _, err := ValidateURL(raw); err != nil {
			t.Errorf("%q should be valid: %v", raw, err)
		}
	}

	invalid := []string{
		"file:///etc/passwd",
		"javascript:alert(1)",
		"chrome://settings",
		"ftp://example.com",
		"/relative/path",
		"http://",
		"://bad",
	}
	for _, raw := range invalid {
		_, err := ValidateURL(raw)
		if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("%q: expected ErrInvalidURL, got %v", raw, err)
		}
	}
}

func TestSnapshot_RejectsInvalidURLBeforeLaunch(t *testing.T) {
	b := NewBridge(BridgeConfig{ProfileDir: t.TempDir(), Headless: true})
	_, err := b.Snapshot(context.Background(), "file:///etc/shadow", false)
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestCapText(t *testing.T) {
	s, cut := capText("short", 10)
	if s != "short" || cut {
		t.Errorf("short text: %q %v", s, cut)
	}

	s, cut = capText(strings.Repeat("é", 10), 5)
	if !cut {
		t.Error("expected truncation")
	}
	if !utf8.ValidString(s) || len(s) > 5 {
		t.Errorf("cut produced %q (%d bytes)", s, len(s))
	}
}

func TestNewBridge_Defaults(t *testing.T) {
	b := NewBridge(BridgeConfig{})
	if b.timeout != defaultTimeout {
		t.Errorf("timeout: got %s", b.timeout)
	}
	if b.profileDir == "" || b.logger == nil {
		t.Error("profile dir and logger should default")
	}
}
