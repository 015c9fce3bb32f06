package process

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ShellKind distinguishes argument conventions.
type ShellKind int

const (
	ShellPOSIX ShellKind = iota
	ShellPowerShell
)

// DetectShellKind classifies a shell by its executable name.
func DetectShellKind(shell string) ShellKind {
	base := strings.ToLower(filepath.Base(strings.ReplaceAll(shell, `\`, "/")))
	base = strings.TrimSuffix(base, ".exe")
	switch base {
	case "powershell", "pwsh":
		return ShellPowerShell
	}
	return ShellPOSIX
}

// DefaultShell picks the shell used when none is configured: $SHELL on
// POSIX hosts (falling back to /bin/sh) and PowerShell on Windows.
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// BuildShellArgs returns the argument vector (without argv[0]) that makes
// shell run command, optionally as a login shell.
func BuildShellArgs(shell string, login bool, command string) []string {
	if DetectShellKind(shell) == ShellPowerShell {
		if login {
			return []string{"-Login", "-NoLogo", "-Command", command}
		}
		return []string{"-NoLogo", "-Command", command}
	}
	if login {
		return []string{"-lc", command}
	}
	return []string{"-c", command}
}

// ShellQuote quotes s for a POSIX shell. Safe strings are returned as is.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.ContainsRune("@%+=:,./-_", c)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
