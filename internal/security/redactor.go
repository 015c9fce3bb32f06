package security

import (
	"regexp"
	"strings"
)

const redactedMarker = "[REDACTED]"

// SecretRedactor masks credentials that commonly leak into command output
// before that output leaves the process (exit notifications, logs).
type SecretRedactor struct {
	// keyed patterns keep the label and mask only the value in group 2
	keyed    []*regexp.Regexp
	patterns []*regexp.Regexp
}

// NewSecretRedactor creates a redactor with the default pattern set.
func NewSecretRedactor() *SecretRedactor {
	return &SecretRedactor{
		keyed: []*regexp.Regexp{
			regexp.MustCompile(`(?i)((?:api[_-]?key|access[_-]?token|auth[_-]?token|secret|password|passwd)\s*[:=]\s*["']?)([A-Za-z0-9_\-\.+/]{8,})`),
			regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-\.]{10,256})`),
			regexp.MustCompile(`(?i)(Authorization:\s*Basic\s+)([A-Za-z0-9+/]{20,}={0,2})`),
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`),
			regexp.MustCompile(`sk_(?:live|test)_[0-9A-Za-z]{24}`),
			regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`),
			regexp.MustCompile(`xox[baprs]-[0-9]{10,}-[0-9]{10,}-[A-Za-z0-9]{24}`),
			regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.(?:eyJ[A-Za-z0-9_-]+)?\.[A-Za-z0-9_-]{20,}`),
			regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]+?-----END [A-Z ]*PRIVATE KEY-----`),
			regexp.MustCompile(`(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:@/\s]*:[^@\s]+@`),
		},
	}
}

// Redact masks all detected secrets in text.
func (r *SecretRedactor) Redact(text string) string {
	if text == "" {
		return ""
	}

	out := text
	for _, re := range r.keyed {
		out = re.ReplaceAllStringFunc(out, func(match string) string {
			subs := re.FindStringSubmatch(match)
			if len(subs) < 3 || isSafeValue(subs[2]) {
				return match
			}
			return subs[1] + redactedMarker
		})
	}
	for _, re := range r.patterns {
		out = re.ReplaceAllString(out, redactedMarker)
	}
	return out
}

// AddPattern adds a pattern whose whole match is masked.
func (r *SecretRedactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

var safeValueHints = []string{"example", "test", "dummy", "sample", "changeme", "localhost"}

func isSafeValue(v string) bool {
	lower := strings.ToLower(strings.Trim(v, `"'`))
	for _, hint := range safeValueHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
