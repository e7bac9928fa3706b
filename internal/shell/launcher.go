package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"clawconsole/internal/domain"
	"clawconsole/internal/metrics"

	"github.com/google/uuid"
)

// Execute validates req and, if allowed, runs it to completion. It blocks
// until the process exits, times out or is killed, and always returns a
// terminal result: callers branch on Status, never on errors.
//
// Cancelling ctx kills the command the same way KillCommand does.
func (e *Engine) Execute(ctx context.Context, req domain.CommandRequest) domain.CommandResult {
	req = cloneRequest(req)
	id := uuid.NewString()
	started := time.Now()

	snap := e.settings.load()
	v := checkPolicy(snap, req)

	ac := &activeCommand{id: id, command: req.Command, args: req.Args, startedAt: started}
	if v.Valid && !e.registry.reserve(ac, snap.cfg.MaxConcurrentCommands) {
		v.Valid = false
		v.Error = capacityReason(snap.cfg.MaxConcurrentCommands)
	}
	if !v.Valid {
		return e.reject(ctx, id, started, req, v.Error)
	}
	metrics.ShellActiveCommands.Set(float64(e.registry.Len()))

	return e.launch(ctx, snap, ac, req, v.SanitizedArgs)
}

// reject produces the synthetic result for a request that never spawned.
func (e *Engine) reject(ctx context.Context, id string, started time.Time, req domain.CommandRequest, reason string) domain.CommandResult {
	e.block(ctx, req, reason)
	res := domain.CommandResult{
		ID:        id,
		Command:   req.Command,
		Args:      req.Args,
		Status:    domain.StatusFailed,
		Stderr:    reason,
		Timestamp: started.UTC(),
	}
	e.record(ctx, res)
	return res
}

func (e *Engine) launch(ctx context.Context, snap *snapshot, ac *activeCommand, req domain.CommandRequest, args []string) domain.CommandResult {
	res := domain.CommandResult{
		ID:        ac.id,
		Command:   req.Command,
		Args:      req.Args,
		Timestamp: ac.startedAt.UTC(),
	}

	cmd := exec.Command(req.Command, args...)
	cmd.Dir = workingDir(snap, req)
	cmd.Env = buildEnv(snap.cfg.AllowedEnvVars, req.Env)
	cmd.WaitDelay = e.waitDelay
	prepare(cmd)

	stdout := newCappedBuffer(snap.cfg.MaxOutputSize)
	stderr := newCappedBuffer(snap.cfg.MaxOutputSize)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	e.logger.Info("command started",
		"id", ac.id,
		"command", req.Command,
		"args", args,
		"cwd", cmd.Dir,
	)

	if ac.killed.Load() {
		e.registry.release(ac.id)
		res.Status = domain.StatusKilled
		res.Killed = true
		res.DurationMs = time.Since(ac.startedAt).Milliseconds()
		return e.finish(ctx, res, "killed before start")
	}

	if err := cmd.Start(); err != nil {
		e.registry.release(ac.id)
		e.logger.Error("command spawn failed", "id", ac.id, "command", req.Command, "err", err)
		res.Status = domain.StatusFailed
		res.Stderr = err.Error()
		res.DurationMs = time.Since(ac.startedAt).Milliseconds()
		return e.finish(ctx, res, err.Error())
	}

	pg := newProcGroup(cmd.Process)
	if !e.registry.attach(ac.id, pg) {
		// Killed while spawning.
		pg.stop(e.registry.killGrace)
	}

	timeout := time.Duration(snap.cfg.TimeoutMs) * time.Millisecond
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	timer := time.AfterFunc(timeout, func() {
		if pg.kill() {
			ac.timedOut.Store(true)
		}
	})
	stopCancel := context.AfterFunc(ctx, func() {
		if pg.kill() {
			ac.killed.Store(true)
		}
	})

	waitErr := cmd.Wait()
	pg.markExited()
	timer.Stop()
	stopCancel()
	e.registry.release(ac.id)
	metrics.ShellActiveCommands.Set(float64(e.registry.Len()))

	res.DurationMs = time.Since(ac.startedAt).Milliseconds()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Truncated = stdout.Truncated() || stderr.Truncated()
	res.TimedOut = ac.timedOut.Load()
	res.Killed = ac.killed.Load()

	if cmd.ProcessState != nil {
		// ExitCode is -1 when the process died from a signal.
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			res.ExitCode = &code
		}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		res.Stderr = appendLine(res.Stderr, waitErr.Error())
	}

	var reason string
	switch {
	case res.TimedOut:
		res.Status = domain.StatusTimeout
		reason = fmt.Sprintf("timed out after %s", timeout)
	case res.Killed:
		res.Status = domain.StatusKilled
		reason = "killed"
	case res.ExitCode != nil && *res.ExitCode == 0:
		res.Status = domain.StatusCompleted
	default:
		res.Status = domain.StatusFailed
		if res.ExitCode != nil {
			reason = fmt.Sprintf("exit code %d", *res.ExitCode)
		} else if waitErr != nil {
			reason = waitErr.Error()
		}
	}
	return e.finish(ctx, res, reason)
}

// finish freezes a terminal result into history and the audit trail.
func (e *Engine) finish(ctx context.Context, res domain.CommandResult, reason string) domain.CommandResult {
	metrics.ShellCommandDuration.Observe(float64(res.DurationMs) / 1000)

	outcome := domain.OutcomeFailed
	if res.Status == domain.StatusCompleted {
		outcome = domain.OutcomeAllowed
		reason = ""
	}
	duration := res.DurationMs
	e.audit(ctx, domain.ShellAuditEntry{
		Command:    res.Command,
		Args:       append([]string(nil), res.Args...),
		Outcome:    outcome,
		Reason:     reason,
		ExitCode:   copyInt(res.ExitCode),
		DurationMs: &duration,
	})
	e.record(ctx, res)

	e.logger.Info("command finished",
		"id", res.ID,
		"command", res.Command,
		"status", res.Status,
		"exit_code", exitCodeAttr(res.ExitCode),
		"duration_ms", res.DurationMs,
	)
	return res
}

func workingDir(snap *snapshot, req domain.CommandRequest) string {
	if req.Cwd != "" {
		return resolveDir(req.Cwd)
	}
	return snap.policy.DefaultDirectory()
}

// buildEnv copies the allow-listed host variables and applies overrides.
// The result is never nil so the child does not inherit the full host
// environment.
func buildEnv(allowed []string, overrides map[string]string) []string {
	vars := make(map[string]string, len(allowed)+len(overrides))
	for _, name := range allowed {
		if v, ok := os.LookupEnv(name); ok {
			vars[name] = v
		}
	}
	for k, v := range overrides {
		if k == "" {
			continue
		}
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

func cloneRequest(req domain.CommandRequest) domain.CommandRequest {
	req.Args = append([]string(nil), req.Args...)
	if req.Env != nil {
		env := make(map[string]string, len(req.Env))
		for k, v := range req.Env {
			env[k] = v
		}
		req.Env = env
	}
	return req
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	if s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s + line
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func exitCodeAttr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
