package shell

import (
	"path/filepath"
	"strings"

	"clawconsole/internal/domain"
)

// shellMetachars are removed from every argument before spawn.
const shellMetachars = ";&|`$(){}[]<>\\"

// Policy holds the matching rules derived from one ShellConfig snapshot.
// All methods are pure; a Policy is never mutated after construction.
type Policy struct {
	allowed     []string
	blocked     []string // lowercased
	directories []string // absolute, cleaned
}

// NewPolicy compiles cfg into a Policy.
func NewPolicy(cfg domain.ShellConfig) *Policy {
	p := &Policy{
		allowed:     make([]string, 0, len(cfg.AllowedCommands)),
		blocked:     make([]string, 0, len(cfg.BlockedPatterns)),
		directories: make([]string, 0, len(cfg.AllowedDirectories)),
	}
	for _, c := range cfg.AllowedCommands {
		if c = strings.TrimSpace(c); c != "" {
			p.allowed = append(p.allowed, c)
		}
	}
	for _, b := range cfg.BlockedPatterns {
		if b != "" {
			p.blocked = append(p.blocked, strings.ToLower(b))
		}
	}
	for _, d := range cfg.AllowedDirectories {
		if d == "" {
			continue
		}
		p.directories = append(p.directories, resolveDir(d))
	}
	return p
}

// IsWhitelisted reports whether command, or its basename, is an allowed command.
func (p *Policy) IsWhitelisted(command string) bool {
	base := filepath.Base(command)
	for _, a := range p.allowed {
		if command == a || base == a {
			return true
		}
	}
	return false
}

// MatchesBlacklist returns the first blocked pattern contained in the
// lowercased "command args..." line.
func (p *Policy) MatchesBlacklist(command string, args []string) (string, bool) {
	full := strings.ToLower(command + " " + strings.Join(args, " "))
	for _, pattern := range p.blocked {
		if strings.Contains(full, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// IsDirectoryAllowed reports whether dir resolves to an allowed directory or
// a path below one.
func (p *Policy) IsDirectoryAllowed(dir string) bool {
	resolved := resolveDir(dir)
	for _, allowed := range p.directories {
		if resolved == allowed {
			return true
		}
		prefix := allowed
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(resolved, prefix) {
			return true
		}
	}
	return false
}

// DefaultDirectory is the first allowed directory, or "" when none is set.
func (p *Policy) DefaultDirectory() string {
	if len(p.directories) == 0 {
		return ""
	}
	return p.directories[0]
}

// Sanitize strips shell metacharacters from a single argument.
func Sanitize(arg string) string {
	if !strings.ContainsAny(arg, shellMetachars) {
		return arg
	}
	var b strings.Builder
	b.Grow(len(arg))
	for _, r := range arg {
		if strings.ContainsRune(shellMetachars, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeArgs returns a sanitized copy of args.
func SanitizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Sanitize(a)
	}
	return out
}

func resolveDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Clean(dir)
	}
	return abs
}
