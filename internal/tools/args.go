package tools

import "fmt"

// ValidationError reports a malformed tool argument.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// GetString returns args[key] if it is a string.
func GetString(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}

// GetBool returns args[key] if it is a bool.
func GetBool(args map[string]any, key string) (bool, bool) {
	b, ok := args[key].(bool)
	return b, ok
}

// GetFloat returns args[key] as a float64. Decoded function calls carry
// JSON numbers as float64; Go callers pass ints.
func GetFloat(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// GetInt returns args[key] as an int, truncating fractions.
func GetInt(args map[string]any, key string) (int, bool) {
	if n, ok := args[key].(int); ok {
		return n, true
	}
	f, ok := GetFloat(args, key)
	return int(f), ok
}

func argOr[T any](args map[string]any, key string, def T, get func(map[string]any, string) (T, bool)) T {
	if v, ok := get(args, key); ok {
		return v
	}
	return def
}

// GetStringDefault returns the string at key, or def.
func GetStringDefault(args map[string]any, key, def string) string {
	return argOr(args, key, def, GetString)
}

// GetIntDefault returns the number at key as an int, or def.
func GetIntDefault(args map[string]any, key string, def int) int {
	return argOr(args, key, def, GetInt)
}

// GetBoolDefault returns the bool at key, or def.
func GetBoolDefault(args map[string]any, key string, def bool) bool {
	return argOr(args, key, def, GetBool)
}

// GetStringMap reads an object of string values, such as env overrides.
// Numbers and booleans are rendered the way a shell would see them.
func GetStringMap(args map[string]any, key string) (map[string]string, error) {
	switch m := args[key].(type) {
	case nil:
		return nil, nil
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			switch tv := v.(type) {
			case string:
				out[k] = tv
			case bool, int, int64, float64:
				out[k] = fmt.Sprint(tv)
			default:
				return nil, NewValidationError(key, fmt.Sprintf("value of %s must be a string", k))
			}
		}
		return out, nil
	}
	return nil, NewValidationError(key, "must be an object of string values")
}
