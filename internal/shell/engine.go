// Package shell is the sandboxed command-execution engine: policy
// validation, argument sanitization, process supervision, the active command
// registry and the history/audit logs.
package shell

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"clawconsole/internal/domain"
	"clawconsole/internal/metrics"

	"github.com/google/uuid"
)

// Sink receives every finished result and every audit entry. Implementations
// must not block for long; errors are logged and otherwise ignored.
type Sink interface {
	RecordResult(ctx context.Context, res domain.CommandResult) error
	RecordAudit(ctx context.Context, entry domain.ShellAuditEntry) error
}

// MultiSink fans out to several sinks.
type MultiSink []Sink

func (m MultiSink) RecordResult(ctx context.Context, res domain.CommandResult) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordResult(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) RecordAudit(ctx context.Context, entry domain.ShellAuditEntry) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordAudit(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EngineConfig holds the dependencies of an Engine.
type EngineConfig struct {
	Shell       domain.ShellConfig
	HistorySize int // default DefaultHistorySize
	AuditSize   int // default DefaultAuditSize
	Sink        Sink
	Logger      *slog.Logger
}

// Engine is the entry point for command execution. All methods are safe for
// concurrent use.
type Engine struct {
	settings *Settings
	registry *Registry
	recorder *Recorder
	sink     Sink
	logger   *slog.Logger

	// waitDelay bounds how long Wait keeps reading pipes after the child
	// exits or is killed.
	waitDelay time.Duration
}

// NewEngine creates an engine with the given initial policy.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	settings, err := NewSettings(cfg.Shell)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		settings:  settings,
		registry:  NewRegistry(),
		recorder:  NewRecorder(cfg.HistorySize, cfg.AuditSize),
		sink:      cfg.Sink,
		logger:    logger,
		waitDelay: 2 * time.Second,
	}, nil
}

// Config returns a copy of the current policy.
func (e *Engine) Config() domain.ShellConfig {
	return e.settings.Get()
}

// Configure merges patch into the current policy. It takes effect for every
// request validated afterwards; running commands are not affected.
func (e *Engine) Configure(patch domain.ShellConfigPatch) (domain.ShellConfig, error) {
	cfg, err := e.settings.Update(patch)
	if err != nil {
		return cfg, err
	}
	e.logger.Info("shell config updated",
		"enabled", cfg.Enabled,
		"allowed_commands", len(cfg.AllowedCommands),
		"max_concurrent", cfg.MaxConcurrentCommands,
	)
	return cfg, nil
}

// ReplaceConfig swaps in cfg as a whole.
func (e *Engine) ReplaceConfig(cfg domain.ShellConfig) error {
	if err := e.settings.Replace(cfg); err != nil {
		return err
	}
	e.logger.Info("shell config replaced", "allowed_commands", len(cfg.AllowedCommands))
	return nil
}

// KillCommand terminates a running command, escalating to a forced kill if
// it ignores the graceful signal. It returns false if id is not running
// (already finished, already killed or never existed). The command keeps
// its concurrency slot until the process has exited.
func (e *Engine) KillCommand(id string) bool {
	ok := e.registry.Kill(id)
	if ok {
		e.logger.Info("command kill requested", "id", id, "grace", e.registry.killGrace)
	}
	return ok
}

// ListActive returns a snapshot of running commands.
func (e *Engine) ListActive() []domain.CommandResult {
	return e.registry.Snapshot()
}

// History returns one page of finished commands, newest first.
func (e *Engine) History(page, limit int) domain.Page[domain.CommandResult] {
	return e.recorder.History(page, limit)
}

// AuditLog returns one page of the security audit trail, newest first.
func (e *Engine) AuditLog(page, limit int) domain.Page[domain.ShellAuditEntry] {
	return e.recorder.AuditLog(page, limit)
}

// ClearHistory empties the execution history only.
func (e *Engine) ClearHistory() {
	e.recorder.ClearHistory()
	e.logger.Info("shell history cleared")
}

// ClearAuditLog empties the audit trail.
func (e *Engine) ClearAuditLog() {
	e.recorder.ClearAuditLog()
	e.logger.Warn("shell audit log cleared")
}

func (e *Engine) audit(ctx context.Context, entry domain.ShellAuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	e.recorder.addAudit(entry)
	metrics.ShellAuditTotal.WithLabelValues(string(entry.Outcome)).Inc()

	if e.sink != nil {
		if err := e.sink.RecordAudit(context.WithoutCancel(ctx), entry); err != nil {
			e.logger.Warn("audit sink write failed", "id", entry.ID, "err", err)
		}
	}
}

func (e *Engine) record(ctx context.Context, res domain.CommandResult) {
	e.recorder.addResult(res)
	metrics.ShellCommandsTotal.WithLabelValues(string(res.Status)).Inc()

	if e.sink != nil {
		if err := e.sink.RecordResult(context.WithoutCancel(ctx), res); err != nil {
			e.logger.Warn("history sink write failed", "id", res.ID, "err", err)
		}
	}
}
