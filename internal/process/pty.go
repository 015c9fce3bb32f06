package process

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// PtyMode is the caller's pseudo-terminal preference.
type PtyMode string

const (
	PtyOff     PtyMode = "off"
	PtyPrefer  PtyMode = "prefer"
	PtyRequire PtyMode = "require"
)

// ParsePtyMode parses a preference string. Empty means off; booleans are
// accepted the way tool callers tend to send them.
func ParsePtyMode(s string) (PtyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "false", "no":
		return PtyOff, nil
	case "prefer", "true", "yes", "on":
		return PtyPrefer, nil
	case "require", "required":
		return PtyRequire, nil
	}
	return "", fmt.Errorf("invalid pty mode %q (want off, prefer or require)", s)
}

// ptyHelperName is the helper that allocates a terminal and relays it over
// ordinary pipes.
const ptyHelperName = "script"

// ptyProbe caches the helper lookup for the lifetime of one Launcher.
type ptyProbe struct {
	once     sync.Once
	lookPath func(string) (string, error)
	path     string
	err      error
}

func (p *ptyProbe) helper() (string, error) {
	p.once.Do(func() {
		if runtime.GOOS == "windows" {
			p.err = fmt.Errorf("pty wrapping is not supported on windows")
			return
		}
		lookPath := p.lookPath
		if lookPath == nil {
			lookPath = exec.LookPath
		}
		p.path, p.err = lookPath(ptyHelperName)
		if p.err != nil {
			p.err = fmt.Errorf("%s helper not found: %w", ptyHelperName, p.err)
		}
	})
	return p.path, p.err
}

// wrapWithPty builds the helper invocation that runs shell with args inside
// a pseudo-terminal. util-linux script takes one command string, so each
// argument is quoted individually; BSD script takes the argv directly.
func wrapWithPty(helper, shell string, args []string) []string {
	if runtime.GOOS == "linux" {
		quoted := make([]string, 0, len(args)+1)
		quoted = append(quoted, ShellQuote(shell))
		for _, a := range args {
			quoted = append(quoted, ShellQuote(a))
		}
		return []string{helper, "-q", "-e", "-f", "-c", strings.Join(quoted, " "), "/dev/null"}
	}
	argv := []string{helper, "-q", "/dev/null", shell}
	return append(argv, args...)
}
