package shell

import (
	"path/filepath"
	"testing"

	"clawconsole/internal/domain"
)

func testPolicy(t *testing.T) (*Policy, string) {
	t.Helper()
	dir := t.TempDir()
	return NewPolicy(domain.ShellConfig{
		AllowedCommands:    []string{"ls", "git", " echo "},
		BlockedPatterns:    []string{"RM -RF", "&&", "sudo"},
		AllowedDirectories: []string{dir},
	}), dir
}

func TestPolicy_IsWhitelisted_ExactAndBasename(t *testing.T) {
	p, _ := testPolicy(t)

	for _, cmd := range []string{"ls", "/bin/ls", "/usr/local/bin/git", "echo"} {
		if !p.IsWhitelisted(cmd) {
			t.Errorf("%q should be whitelisted", cmd)
		}
	}
	for _, cmd := range []string{"rm", "lsblk", "/bin/ls2", ""} {
		if p.IsWhitelisted(cmd) {
			t.Errorf("%q should not be whitelisted", cmd)
		}
	}
}

func TestPolicy_MatchesBlacklist_CaseInsensitive(t *testing.T) {
	p, _ := testPolicy(t)

	pattern, ok := p.MatchesBlacklist("Rm", []string{"-Rf", "/"})
	if !ok {
		t.Fatal("expected blacklist match")
	}
	if pattern != "rm -rf" {
		t.Errorf("pattern: got %q", pattern)
	}

	if _, ok := p.MatchesBlacklist("echo", []string{"a", "&&", "b"}); !ok {
		t.Error("chain operator in args should match")
	}
	if _, ok := p.MatchesBlacklist("ls", []string{"-la"}); ok {
		t.Error("ls -la should not match")
	}
}

func TestPolicy_IsDirectoryAllowed(t *testing.T) {
	p, dir := testPolicy(t)

	if !p.IsDirectoryAllowed(dir) {
		t.Error("allowed dir itself should pass")
	}
	if !p.IsDirectoryAllowed(filepath.Join(dir, "sub", "deeper")) {
		t.Error("nested dir should pass")
	}
	if !p.IsDirectoryAllowed(filepath.Join(dir, "sub", "..")) {
		t.Error("dir resolving back to allowed dir should pass")
	}
	if p.IsDirectoryAllowed(dir + "-sibling") {
		t.Error("sibling sharing a string prefix must not pass")
	}
	if p.IsDirectoryAllowed(filepath.Join(dir, "..")) {
		t.Error("parent dir must not pass")
	}
}

func TestPolicy_DefaultDirectory(t *testing.T) {
	p, dir := testPolicy(t)
	abs, _ := filepath.Abs(dir)
	if got := p.DefaultDirectory(); got != abs {
		t.Errorf("DefaultDirectory: got %q, want %q", got, abs)
	}

	empty := NewPolicy(domain.ShellConfig{})
	if got := empty.DefaultDirectory(); got != "" {
		t.Errorf("expected empty default dir, got %q", got)
	}
}

func TestSanitize_StripsMetacharacters(t *testing.T) {
	cases := map[string]string{
		"plain":         "plain",
		"a;b":           "ab",
		"$(whoami)":     "whoami",
		"`id`":          "id",
		"x|y&z":         "xyz",
		"{a}[b]<c>":     "abc",
		`back\slash`:    "backslash",
		"-la":           "-la",
		"file name.txt": "file name.txt",
		"ünïcödé;":      "ünïcödé",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeArgs_Idempotent(t *testing.T) {
	args := []string{"a;b", "$(rm)", "ok", "`x`|y", ""}
	once := SanitizeArgs(args)
	twice := SanitizeArgs(once)
	if len(once) != len(twice) {
		t.Fatalf("length changed: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("arg %d: %q != %q", i, once[i], twice[i])
		}
	}
	if args[0] != "a;b" {
		t.Error("SanitizeArgs must not modify its input")
	}
}
