package domain

import "time"

// CommandStatus is the lifecycle state of a CommandResult.
type CommandStatus string

const (
	StatusRunning   CommandStatus = "running"
	StatusCompleted CommandStatus = "completed"
	StatusFailed    CommandStatus = "failed"
	StatusTimeout   CommandStatus = "timeout"
	StatusKilled    CommandStatus = "killed"
)

// Terminal reports whether no further transitions can occur from s.
func (s CommandStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusKilled:
		return true
	}
	return false
}

// AuditOutcome classifies a ShellAuditEntry.
type AuditOutcome string

const (
	OutcomeAllowed AuditOutcome = "allowed"
	OutcomeBlocked AuditOutcome = "blocked"
	OutcomeFailed  AuditOutcome = "failed"
)

// CommandRequest is a single request to run a program.
type CommandRequest struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	TimeoutMs int               `json:"timeout,omitempty"` // 0 = use ShellConfig.TimeoutMs
	Env       map[string]string `json:"env,omitempty"`
}

// ShellConfig is the process-wide execution policy.
type ShellConfig struct {
	Enabled               bool     `json:"enabled" yaml:"enabled"`
	TimeoutMs             int      `json:"timeout" yaml:"timeout"`
	MaxOutputSize         int      `json:"maxOutputSize" yaml:"maxOutputSize"`
	AllowedCommands       []string `json:"allowedCommands" yaml:"allowedCommands"`
	BlockedPatterns       []string `json:"blockedPatterns" yaml:"blockedPatterns"`
	AllowedDirectories    []string `json:"allowedDirectories" yaml:"allowedDirectories"`
	AllowedEnvVars        []string `json:"allowedEnvVars" yaml:"allowedEnvVars"`
	MaxConcurrentCommands int      `json:"maxConcurrentCommands" yaml:"maxConcurrentCommands"`
}

// Clone returns a deep copy of c.
func (c ShellConfig) Clone() ShellConfig {
	c.AllowedCommands = cloneStrings(c.AllowedCommands)
	c.BlockedPatterns = cloneStrings(c.BlockedPatterns)
	c.AllowedDirectories = cloneStrings(c.AllowedDirectories)
	c.AllowedEnvVars = cloneStrings(c.AllowedEnvVars)
	return c
}

// ShellConfigPatch is a partial ShellConfig. Nil fields are left unchanged.
type ShellConfigPatch struct {
	Enabled               *bool     `json:"enabled,omitempty"`
	TimeoutMs             *int      `json:"timeout,omitempty"`
	MaxOutputSize         *int      `json:"maxOutputSize,omitempty"`
	AllowedCommands       *[]string `json:"allowedCommands,omitempty"`
	BlockedPatterns       *[]string `json:"blockedPatterns,omitempty"`
	AllowedDirectories    *[]string `json:"allowedDirectories,omitempty"`
	AllowedEnvVars        *[]string `json:"allowedEnvVars,omitempty"`
	MaxConcurrentCommands *int      `json:"maxConcurrentCommands,omitempty"`
}

// Apply merges p into a copy of base.
func (p ShellConfigPatch) Apply(base ShellConfig) ShellConfig {
	out := base.Clone()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.TimeoutMs != nil {
		out.TimeoutMs = *p.TimeoutMs
	}
	if p.MaxOutputSize != nil {
		out.MaxOutputSize = *p.MaxOutputSize
	}
	if p.AllowedCommands != nil {
		out.AllowedCommands = cloneStrings(*p.AllowedCommands)
	}
	if p.BlockedPatterns != nil {
		out.BlockedPatterns = cloneStrings(*p.BlockedPatterns)
	}
	if p.AllowedDirectories != nil {
		out.AllowedDirectories = cloneStrings(*p.AllowedDirectories)
	}
	if p.AllowedEnvVars != nil {
		out.AllowedEnvVars = cloneStrings(*p.AllowedEnvVars)
	}
	if p.MaxConcurrentCommands != nil {
		out.MaxConcurrentCommands = *p.MaxConcurrentCommands
	}
	return out
}

// CommandValidation is the verdict of the security policy for one request.
type CommandValidation struct {
	Valid         bool     `json:"valid"`
	Command       string   `json:"command"`
	Args          []string `json:"args"`
	SanitizedArgs []string `json:"sanitizedArgs,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// CommandResult is the execution record of a request.
type CommandResult struct {
	ID         string        `json:"id"`
	Command    string        `json:"command"`
	Args       []string      `json:"args"`
	Status     CommandStatus `json:"status"`
	ExitCode   *int          `json:"exitCode"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	DurationMs int64         `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
	TimedOut   bool          `json:"timedOut"`
	Killed     bool          `json:"killed"`
	Truncated  bool          `json:"truncated,omitempty"`
}

// ShellAuditEntry is a security record of a validation or execution outcome.
type ShellAuditEntry struct {
	ID         string       `json:"id"`
	Timestamp  time.Time    `json:"timestamp"`
	Command    string       `json:"command"`
	Args       []string     `json:"args"`
	Outcome    AuditOutcome `json:"outcome"`
	Reason     string       `json:"reason,omitempty"`
	ExitCode   *int         `json:"exitCode,omitempty"`
	DurationMs *int64       `json:"duration,omitempty"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// PageStart returns the index of the first item of a 1-based page, clamped
// to total. Huge page numbers cannot overflow.
func PageStart(page, limit, total int) int {
	if page < 1 || limit < 1 {
		return 0
	}
	if page-1 > total/limit {
		return total
	}
	return min((page-1)*limit, total)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
