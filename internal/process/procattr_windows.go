//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

const (
	sigTerm = syscall.Signal(15)
	sigKill = syscall.Signal(9)
)

func setProcAttr(cmd *exec.Cmd) {}

// signalGroup has no group semantics on Windows; every signal terminates.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return os.ErrProcessDone
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return os.ErrProcessDone
	}
	return p.Kill()
}

var windowsSignals = map[string]syscall.Signal{
	"SIGHUP":  syscall.Signal(1),
	"SIGINT":  syscall.Signal(2),
	"SIGQUIT": syscall.Signal(3),
	"SIGKILL": syscall.Signal(9),
	"SIGUSR1": syscall.Signal(10),
	"SIGUSR2": syscall.Signal(12),
	"SIGTERM": syscall.Signal(15),
}

func lookupSignal(name string) (syscall.Signal, bool) {
	sig, ok := windowsSignals[name]
	return sig, ok
}

func exitSignalName(state *os.ProcessState) string { return "" }
