package shell

import (
	"os"
	"sync"
	"time"
)

// procGroup signals a spawned command and every process it forked. Once the
// launcher has reaped the leader no further signals are sent, so a recycled
// pid is never hit.
type procGroup struct {
	proc *os.Process

	mu       sync.Mutex
	exited   bool
	escalate *time.Timer
}

func newProcGroup(p *os.Process) *procGroup {
	return &procGroup{proc: p}
}

// stop sends the graceful signal and follows up with kill after grace
// unless the process exits first. Repeated calls are no-ops.
func (g *procGroup) stop(grace time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.exited || g.escalate != nil {
		return
	}
	_ = sendTerm(g.proc)
	g.escalate = time.AfterFunc(grace, func() { g.kill() })
}

// kill sends the non-catchable signal. It reports false when the process
// had already been reaped.
func (g *procGroup) kill() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.exited {
		return false
	}
	_ = sendKill(g.proc)
	return true
}

// markExited is called once Wait has returned.
func (g *procGroup) markExited() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exited = true
	if g.escalate != nil {
		g.escalate.Stop()
	}
}
