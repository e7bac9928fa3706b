package shell

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"clawconsole/internal/domain"
)

// ErrInvalidConfig is returned when a configuration update would leave the
// policy in an unusable state.
var ErrInvalidConfig = errors.New("shell: invalid config")

// snapshot pairs a config with the policy compiled from it so readers never
// observe one without the other.
type snapshot struct {
	cfg    domain.ShellConfig
	policy *Policy
}

// Settings is the configuration store. Reads are lock-free; updates are
// serialized and published with a single atomic swap.
type Settings struct {
	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
}

// NewSettings validates cfg and returns a store holding it.
func NewSettings(cfg domain.ShellConfig) (*Settings, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	s := &Settings{}
	s.publish(cfg)
	return s, nil
}

func (s *Settings) load() *snapshot {
	return s.current.Load()
}

func (s *Settings) publish(cfg domain.ShellConfig) {
	cfg = cfg.Clone()
	s.current.Store(&snapshot{cfg: cfg, policy: NewPolicy(cfg)})
}

// Get returns a deep copy of the current config.
func (s *Settings) Get() domain.ShellConfig {
	return s.load().cfg.Clone()
}

// Update merges patch into the current config and publishes the result.
func (s *Settings) Update(patch domain.ShellConfigPatch) (domain.ShellConfig, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := patch.Apply(s.load().cfg)
	if err := ValidateConfig(next); err != nil {
		return s.load().cfg.Clone(), err
	}
	s.publish(next)
	return next.Clone(), nil
}

// Replace publishes cfg as a whole.
func (s *Settings) Replace(cfg domain.ShellConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.publish(cfg)
	return nil
}

// ValidateConfig checks the numeric limits of cfg.
func ValidateConfig(cfg domain.ShellConfig) error {
	var errs []string
	if cfg.TimeoutMs <= 0 {
		errs = append(errs, "timeout must be > 0")
	}
	if cfg.MaxOutputSize <= 0 {
		errs = append(errs, "maxOutputSize must be > 0")
	}
	if cfg.MaxConcurrentCommands < 1 {
		errs = append(errs, "maxConcurrentCommands must be >= 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
