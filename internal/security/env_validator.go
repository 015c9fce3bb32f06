package security

import (
	"sort"
	"strings"
)

// DangerousHostEnvVars are variables that let a caller inject code into, or
// alter the loading of, a process started on a shared host.
var DangerousHostEnvVars = []string{
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"LD_AUDIT",
	"DYLD_INSERT_LIBRARIES",
	"DYLD_LIBRARY_PATH",
	"NODE_OPTIONS",
	"NODE_PATH",
	"PYTHONPATH",
	"PYTHONHOME",
	"RUBYLIB",
	"PERL5LIB",
	"BASH_ENV",
	"ENV",
	"GCONV_PATH",
	"IFS",
	"SSLKEYLOGFILE",
}

// DangerousHostEnvPrefixes are loader prefixes rejected wholesale.
var DangerousHostEnvPrefixes = []string{"DYLD_", "LD_"}

var dangerousHostEnvSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(DangerousHostEnvVars))
	for _, k := range DangerousHostEnvVars {
		m[k] = struct{}{}
	}
	return m
}()

// ValidateHostEnv checks environment overrides destined for a process on a
// shared (non-sandboxed) host. Keys are compared case-insensitively and the
// first violation, in key order, is returned as a *SecurityViolation.
func ValidateHostEnv(env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if reason, bad := checkHostEnvKey(key); bad {
			return &SecurityViolation{Key: key, Reason: reason}
		}
	}
	return nil
}

func checkHostEnvKey(key string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(key))
	if _, ok := dangerousHostEnvSet[upper]; ok {
		return "can inject code into the child process", true
	}
	for _, prefix := range DangerousHostEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return "dynamic loader variables are blocked", true
		}
	}
	if upper == "PATH" {
		return "overriding PATH on the host is not allowed", true
	}
	return "", false
}
