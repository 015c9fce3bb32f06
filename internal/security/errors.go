package security

import "fmt"

// SecurityViolation is returned when an environment mapping carries a variable
// that could inject code into a process started on a shared host.
type SecurityViolation struct {
	Key    string
	Reason string
}

func (e *SecurityViolation) Error() string {
	return fmt.Sprintf("security violation: environment variable %q is not allowed for host execution (%s)", e.Key, e.Reason)
}

// BlockedCommand is returned by the self-protection guard. It names the
// segment that triggered the block, the resolved target and the protected
// entry that was hit.
type BlockedCommand struct {
	Command       string
	Target        string
	ProtectedPath string // absolute form
	ProtectedRel  string // relative to the install root
	Reason        string
}

func (e *BlockedCommand) Error() string {
	if e.ProtectedPath == "" {
		return fmt.Sprintf("blocked by self-protection: %s (command: %s)", e.Reason, e.Command)
	}
	return fmt.Sprintf("blocked by self-protection: %s; target %s hits protected path %s (%s) (command: %s)",
		e.Reason, e.Target, e.ProtectedPath, e.ProtectedRel, e.Command)
}
