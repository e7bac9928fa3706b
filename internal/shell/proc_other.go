//go:build !unix

package shell

import (
	"os"
	"os/exec"
)

func prepare(cmd *exec.Cmd) {}

// sendTerm has no graceful variant off unix.
func sendTerm(p *os.Process) error {
	return p.Kill()
}

func sendKill(p *os.Process) error {
	return p.Kill()
}
