package audit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry records one tool call.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	ToolName  string         `json:"tool_name"`
	Action    string         `json:"action,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Scope     string         `json:"scope,omitempty"`
	Args      map[string]any `json:"args"`
	Result    string         `json:"result"` // Truncated result
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ms"`
}

// NewEntry creates an entry for a call to toolName with args. The process
// action, session id and scope are lifted out of args when present.
func NewEntry(runID, toolName string, args map[string]any) *Entry {
	e := &Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		RunID:     runID,
		ToolName:  toolName,
		Args:      args,
	}
	e.Action, _ = args["action"].(string)
	e.SessionID, _ = args["session_id"].(string)
	e.Scope, _ = args["scope"].(string)
	return e
}

// Complete fills in the result fields after tool execution. sessionID is the
// session a background exec created, if any.
func (e *Entry) Complete(result string, success bool, errMsg string, duration time.Duration, sessionID string) {
	e.Result = result
	e.Success = success
	e.Error = errMsg
	e.Duration = duration
	if e.SessionID == "" {
		e.SessionID = sessionID
	}
}

// MarshalJSON implements custom JSON marshaling.
func (e *Entry) MarshalJSON() ([]byte, error) {
	type Alias Entry
	return json.Marshal(&struct {
		*Alias
		DurationMs int64 `json:"duration_ms"`
	}{
		Alias:      (*Alias)(e),
		DurationMs: e.Duration.Milliseconds(),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type Alias Entry
	aux := &struct {
		*Alias
		DurationMs int64 `json:"duration_ms"`
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	e.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// QueryFilter defines criteria for querying audit entries.
type QueryFilter struct {
	ToolName  string
	Action    string
	SessionID string
	Success   *bool
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// Matches checks if the entry matches the filter criteria.
func (e *Entry) Matches(filter QueryFilter) bool {
	if filter.ToolName != "" && e.ToolName != filter.ToolName {
		return false
	}
	if filter.Action != "" && e.Action != filter.Action {
		return false
	}
	if filter.SessionID != "" && e.SessionID != filter.SessionID {
		return false
	}
	if filter.Success != nil && e.Success != *filter.Success {
		return false
	}
	if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
		return false
	}
	return true
}

var sensitiveKeyParts = []string{"password", "passwd", "secret", "token", "api_key", "apikey", "credential", "auth"}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// SanitizeArgs copies args, blanking values under sensitive keys and passing
// every other string value through redact. Nested maps (env overrides) are
// sanitized the same way.
func SanitizeArgs(args map[string]any, redact func(string) string) map[string]any {
	if args == nil {
		return nil
	}
	if redact == nil {
		redact = func(s string) string { return s }
	}

	sanitized := make(map[string]any, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = sanitizeValue(v, redact)
	}
	return sanitized
}

func sanitizeValue(v any, redact func(string) string) any {
	switch val := v.(type) {
	case string:
		return redact(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return SanitizeArgs(m, redact)
	case map[string]any:
		return SanitizeArgs(val, redact)
	default:
		return v
	}
}

// TruncateResult truncates a result string to at most maxLen runes.
func TruncateResult(result string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 1000
	}
	runes := []rune(result)
	if len(runes) <= maxLen {
		return result
	}
	return string(runes[:maxLen]) + "...[truncated]"
}
