package tools

import "context"

// streamingCallbackKey is the context key for streaming callbacks.
type streamingCallbackKey struct{}

// StreamingCallback is a function that receives streaming text output.
type StreamingCallback func(text string)

// ContextWithStreamingCallback returns a new context with the streaming callback attached.
// This allows tool execution to stream output back to the caller in real-time.
func ContextWithStreamingCallback(ctx context.Context, onText StreamingCallback) context.Context {
	return context.WithValue(ctx, streamingCallbackKey{}, onText)
}

// GetStreamingCallback retrieves the streaming callback from the context, if present.
// Returns nil if no callback was attached.
func GetStreamingCallback(ctx context.Context) StreamingCallback {
	if cb, ok := ctx.Value(streamingCallbackKey{}).(StreamingCallback); ok {
		return cb
	}
	return nil
}

// scopeKey is the context key for the caller's session scope.
type scopeKey struct{}

// ContextWithScope attaches the scope that session ids are resolved in when a
// call does not name one explicitly.
func ContextWithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the scope attached by ContextWithScope.
func ScopeFromContext(ctx context.Context) string {
	s, _ := ctx.Value(scopeKey{}).(string)
	return s
}

// resolveScope prefers an explicit scope argument over the context's.
func resolveScope(ctx context.Context, args map[string]any) string {
	if s, ok := GetString(args, "scope"); ok && s != "" {
		return s
	}
	return ScopeFromContext(ctx)
}
