package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"clawconsole/internal/shell"
)

// secretPaths maps each credential path to the mask applied when the
// config leaves the process (config get/list, GET /api/config).
var secretPaths = map[string]func(string) string{
	"notify.telegram.token": maskString,
	"notify.discord.token":  maskString,
	"notify.slack.token":    maskString,
	"web.auth.passwordHash": func(string) string { return "***" },
	"web.auth.tokenSecret":  func(string) string { return "***" },
}

// tree is the JSON object form of a Config, keyed the way config.json is.
type tree map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode config tree: %w", err)
	}
	return t, nil
}

func (t tree) config() (*Config, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode config tree: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// lookup walks a dot path through objects and arrays.
func (t tree) lookup(path string) (any, error) {
	var cur any = map[string]any(t)
	for _, key := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("unknown config path %q", path)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid index %q in %q", key, path)
			}
			cur = v[idx]
		default:
			return nil, fmt.Errorf("%q is not an object", path)
		}
	}
	return cur, nil
}

// GetByPath returns the value at a dot path such as "shell.timeout" or
// "shell.allowedCommands.0".
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	return t.lookup(path)
}

// SetByPath parses raw according to the type of the existing leaf at path
// and applies it. Only existing leaves can be set; lists take a
// comma-separated value. Changes under "shell." must pass
// shell.ValidateConfig. cfg is left untouched on any error.
func SetByPath(cfg *Config, path, raw string) error {
	t, err := toTree(cfg)
	if err != nil {
		return err
	}
	parentPath, key := "", path
	if i := strings.LastIndex(path, "."); i >= 0 {
		parentPath, key = path[:i], path[i+1:]
	}
	parent := map[string]any(t)
	if parentPath != "" {
		p, err := t.lookup(parentPath)
		if err != nil {
			return err
		}
		m, ok := p.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot set %q: parent is not an object", path)
		}
		parent = m
	}
	old, ok := parent[key]
	if !ok {
		return fmt.Errorf("unknown config path %q", path)
	}
	val, err := coerce(old, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	parent[key] = val

	next, err := t.config()
	if err != nil {
		return err
	}
	if strings.HasPrefix(path, "shell.") {
		if err := shell.ValidateConfig(next.Shell.ShellConfig); err != nil {
			return err
		}
	}
	*cfg = *next
	return nil
}

func coerce(old any, raw string) (any, error) {
	switch old.(type) {
	case map[string]any:
		return nil, fmt.Errorf("is an object, set one of its fields")
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", raw)
		}
		return b, nil
	case float64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", raw)
		}
		return n, nil
	case []any, nil:
		// null leaves are unset lists
		items := []any{}
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		return items, nil
	default:
		return raw, nil
	}
}

// Sanitize returns a copy of cfg with every secret path masked.
func Sanitize(cfg *Config) *Config {
	t, err := toTree(cfg)
	if err != nil {
		return &Config{}
	}
	for path, mask := range secretPaths {
		i := strings.LastIndex(path, ".")
		p, err := t.lookup(path[:i])
		if err != nil {
			continue
		}
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := m[path[i+1:]].(string); s != "" {
			m[path[i+1:]] = mask(s)
		}
	}
	out, err := t.config()
	if err != nil {
		return &Config{}
	}
	return out
}

// maskString keeps the first and last four characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into settable leaf paths. Lists stay whole.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(k, sub)
				continue
			}
			out[k] = v
		}
	}
	walk("", t)
	return out
}
