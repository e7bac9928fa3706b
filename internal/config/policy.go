package config

import (
	"fmt"
	"os"
	"path/filepath"

	"clawconsole/internal/domain"

	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk layout of an exported shell policy.
type policyFile struct {
	Version int                `yaml:"version"`
	Shell   domain.ShellConfig `yaml:"shell"`
}

const policyVersion = 1

// LoadPolicyFile reads a YAML shell policy. Fields missing from the file keep
// the values of DefaultShellPolicy.
func LoadPolicyFile(path string) (domain.ShellConfig, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return domain.ShellConfig{}, fmt.Errorf("read policy %s: %w", path, err)
	}

	pf := policyFile{Shell: DefaultShellPolicy()}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return domain.ShellConfig{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if pf.Version > policyVersion {
		return domain.ShellConfig{}, fmt.Errorf("policy %s: unsupported version %d", path, pf.Version)
	}
	for i, d := range pf.Shell.AllowedDirectories {
		pf.Shell.AllowedDirectories[i] = ExpandPath(d)
	}
	return pf.Shell, nil
}

// SavePolicyFile writes cfg as a YAML policy.
func SavePolicyFile(path string, cfg domain.ShellConfig) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create policy directory: %w", err)
	}
	data, err := yaml.Marshal(policyFile{Version: policyVersion, Shell: cfg})
	if err != nil {
		return fmt.Errorf("cannot marshal policy: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
