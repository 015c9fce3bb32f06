package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"google.golang.org/genai"

	"warden/internal/logging"
)

// Registry manages the collection of available tools.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the names of all registered tools, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations returns all tool declarations for Gemini, ordered by name.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	declarations := make([]*genai.FunctionDeclaration, 0, len(names))
	for _, name := range names {
		declarations = append(declarations, r.tools[name].Declaration())
	}
	return declarations
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}

	r.tools[name] = tool
	return nil
}

// MustRegister adds a tool to the registry and logs a warning on error.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		logging.Warn("failed to register tool", "tool", tool.Name(), "error", err)
	}
}

// Execute validates args and runs the named tool. Validation failures and
// unknown tools come back as error results, never as Go errors.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return NewErrorResult(fmt.Sprintf("unknown tool: %s", name)), nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := tool.Validate(args); err != nil {
		return NewErrorResult(err.Error()), nil
	}

	start := time.Now()
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return ToolResult{}, fmt.Errorf("%s: %w", name, err)
	}
	if result.Duration == "" {
		result.Duration = time.Since(start).Round(time.Millisecond).String()
	}
	logging.Debug("tool executed", "tool", name, "success", result.Success, "duration", result.Duration)
	return result, nil
}
