package process

import (
	"strings"
	"syscall"
)

// AllowedSignals is the set the process tool may deliver.
var AllowedSignals = []string{"SIGTERM", "SIGKILL", "SIGINT", "SIGQUIT", "SIGHUP", "SIGUSR1", "SIGUSR2"}

func allowedSignalList() string {
	return strings.Join(AllowedSignals, ", ")
}

// ParseSignal normalizes name ("term", "SIGTERM", "sigterm") and resolves it
// if it belongs to AllowedSignals.
func ParseSignal(name string) (syscall.Signal, error) {
	norm := strings.ToUpper(strings.TrimSpace(name))
	if norm != "" && !strings.HasPrefix(norm, "SIG") {
		norm = "SIG" + norm
	}
	for _, allowed := range AllowedSignals {
		if norm != allowed {
			continue
		}
		if sig, ok := lookupSignal(norm); ok {
			return sig, nil
		}
		break
	}
	return 0, &InvalidSignal{Signal: name}
}
