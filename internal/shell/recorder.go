package shell

import (
	"sync"

	"clawconsole/internal/domain"
)

const (
	DefaultHistorySize = 100
	DefaultAuditSize   = 1000

	defaultPageLimit = 20
	maxHistoryLimit  = 100
	maxAuditLimit    = 500
)

// ring is a bounded, newest-first log. Pushing past capacity evicts the
// oldest item.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T // items[0] is the newest
	cap   int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, 0, capacity), cap: capacity}
}

func (r *ring[T]) push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) < r.cap {
		r.items = append(r.items, item)
	}
	// Shift right by one; the tail (oldest) falls off when full.
	copy(r.items[1:], r.items[:len(r.items)-1])
	r.items[0] = item
}

func (r *ring[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *ring[T]) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.items)
	r.items = r.items[:0]
}

// page returns a copy of the requested 1-based page.
func (r *ring[T]) page(page, limit, maxLimit int) domain.Page[T] {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.items)
	start := domain.PageStart(page, limit, total)
	end := min(start+limit, total)
	items := make([]T, end-start)
	copy(items, r.items[start:end])

	return domain.Page[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

// Recorder holds the execution history and the security audit trail. The two
// logs have independent capacities and are cleared independently.
type Recorder struct {
	history *ring[domain.CommandResult]
	audit   *ring[domain.ShellAuditEntry]
}

// NewRecorder creates a recorder. Non-positive sizes select the defaults.
func NewRecorder(historySize, auditSize int) *Recorder {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if auditSize <= 0 {
		auditSize = DefaultAuditSize
	}
	return &Recorder{
		history: newRing[domain.CommandResult](historySize),
		audit:   newRing[domain.ShellAuditEntry](auditSize),
	}
}

// addResult stores a frozen copy so later edits by callers cannot leak in.
func (r *Recorder) addResult(res domain.CommandResult) {
	res.Args = append([]string(nil), res.Args...)
	res.ExitCode = copyInt(res.ExitCode)
	r.history.push(res)
}

func (r *Recorder) addAudit(e domain.ShellAuditEntry) { r.audit.push(e) }

// History returns one page of execution results, newest first.
func (r *Recorder) History(page, limit int) domain.Page[domain.CommandResult] {
	return r.history.page(page, limit, maxHistoryLimit)
}

// AuditLog returns one page of audit entries, newest first.
func (r *Recorder) AuditLog(page, limit int) domain.Page[domain.ShellAuditEntry] {
	return r.audit.page(page, limit, maxAuditLimit)
}

// ClearHistory empties the execution history. The audit trail is untouched.
func (r *Recorder) ClearHistory() { r.history.clear() }

// ClearAuditLog empties the audit trail.
func (r *Recorder) ClearAuditLog() { r.audit.clear() }
