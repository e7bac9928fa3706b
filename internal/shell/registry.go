package shell

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"clawconsole/internal/domain"
)

// activeCommand is a registry entry. proc is nil between reservation and a
// successful spawn. A killed entry keeps its slot until the process exits but
// is no longer listed or killable.
type activeCommand struct {
	id        string
	command   string
	args      []string
	startedAt time.Time

	proc     *procGroup
	killed   atomic.Bool
	timedOut atomic.Bool
}

// Registry tracks in-flight commands. Reservation and insertion happen in one
// critical section so the concurrency cap can never be overshot.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*activeCommand

	// killGrace is how long a killed command may ignore the graceful
	// signal before it is killed outright.
	killGrace time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[string]*activeCommand),
		killGrace: 2 * time.Second,
	}
}

// Len returns the number of occupied slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// reserve inserts ac if fewer than max slots are occupied.
func (r *Registry) reserve(ac *activeCommand, max int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= max {
		return false
	}
	r.entries[ac.id] = ac
	return true
}

// attach records the spawned process on a reserved entry. It returns false
// when the entry was killed before the process existed; the caller must then
// stop the process itself.
func (r *Registry) attach(id string, p *procGroup) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ac, ok := r.entries[id]
	if !ok {
		return false
	}
	ac.proc = p
	return !ac.killed.Load()
}

// release frees the slot held by id. Releasing an unknown id is a no-op.
func (r *Registry) release(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Kill marks id as killed and stops its process: a graceful signal first,
// then a forced kill after killGrace. The slot is freed when the process
// exits. It returns false if id is not running or was already killed.
func (r *Registry) Kill(id string) bool {
	r.mu.Lock()
	ac, ok := r.entries[id]
	if !ok || ac.killed.Load() {
		r.mu.Unlock()
		return false
	}
	ac.killed.Store(true)
	p := ac.proc
	r.mu.Unlock()

	if p != nil {
		p.stop(r.killGrace)
	}
	return true
}

// Snapshot returns the active commands as running results, oldest first.
func (r *Registry) Snapshot() []domain.CommandResult {
	r.mu.Lock()
	list := make([]*activeCommand, 0, len(r.entries))
	for _, ac := range r.entries {
		if !ac.killed.Load() {
			list = append(list, ac)
		}
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].startedAt.Before(list[j].startedAt) })

	now := time.Now()
	out := make([]domain.CommandResult, 0, len(list))
	for _, ac := range list {
		out = append(out, domain.CommandResult{
			ID:         ac.id,
			Command:    ac.command,
			Args:       append([]string(nil), ac.args...),
			Status:     domain.StatusRunning,
			DurationMs: now.Sub(ac.startedAt).Milliseconds(),
			Timestamp:  ac.startedAt,
		})
	}
	return out
}
