//go:build !windows

package transport

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// SetDetachedProcess configures the command to run in its own session so
// signals to the host's process group do not reach the extension.
func SetDetachedProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// unfreezeAndSignal sends SIGCONT (in case the extension is SIGSTOP'd and
// would otherwise swallow the terminate signal) followed by SIGTERM.
func unfreezeAndSignal(p *os.Process) {
	_ = unix.Kill(p.Pid, unix.SIGCONT)
	_ = unix.Kill(p.Pid, unix.SIGTERM)
}
