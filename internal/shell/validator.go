package shell

import (
	"context"
	"fmt"

	"clawconsole/internal/domain"
)

const reasonDisabled = "Shell command execution is disabled"

// checkPolicy runs every check except the concurrency cap, in order, and
// stops at the first failure.
func checkPolicy(snap *snapshot, req domain.CommandRequest) domain.CommandValidation {
	v := domain.CommandValidation{
		Command: req.Command,
		Args:    append([]string(nil), req.Args...),
	}

	if !snap.cfg.Enabled {
		v.Error = reasonDisabled
		return v
	}
	if req.Command == "" {
		v.Error = "Command is required"
		return v
	}

	// The raw line is matched so intent is caught even for metacharacters
	// that sanitization would later strip.
	if pattern, ok := snap.policy.MatchesBlacklist(req.Command, req.Args); ok {
		v.Error = fmt.Sprintf("Command contains blocked pattern: %s", pattern)
		return v
	}
	if !snap.policy.IsWhitelisted(req.Command) {
		v.Error = fmt.Sprintf("Command '%s' is not allowed", req.Command)
		return v
	}
	if req.Cwd != "" && !snap.policy.IsDirectoryAllowed(req.Cwd) {
		v.Error = fmt.Sprintf("Working directory '%s' is not allowed", req.Cwd)
		return v
	}

	v.Valid = true
	v.SanitizedArgs = SanitizeArgs(req.Args)
	return v
}

func capacityReason(max int) string {
	return fmt.Sprintf("Maximum concurrent commands (%d) reached", max)
}

// ValidateCommand is a dry run of the policy. It never spawns or reserves
// anything; a rejection is written to the audit log.
func (e *Engine) ValidateCommand(req domain.CommandRequest) domain.CommandValidation {
	snap := e.settings.load()
	v := checkPolicy(snap, req)
	if v.Valid && e.registry.Len() >= snap.cfg.MaxConcurrentCommands {
		v = domain.CommandValidation{
			Command: v.Command,
			Args:    v.Args,
			Error:   capacityReason(snap.cfg.MaxConcurrentCommands),
		}
	}
	if !v.Valid {
		e.block(context.Background(), req, v.Error)
	}
	return v
}

// block writes the audit entry for a rejected request.
func (e *Engine) block(ctx context.Context, req domain.CommandRequest, reason string) {
	e.logger.Warn("command blocked",
		"command", req.Command,
		"args", req.Args,
		"reason", reason,
	)
	e.audit(ctx, domain.ShellAuditEntry{
		Command: req.Command,
		Args:    append([]string(nil), req.Args...),
		Outcome: domain.OutcomeBlocked,
		Reason:  reason,
	})
}
