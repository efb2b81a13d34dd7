package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultToolTimeout bounds one handler invocation.
const DefaultToolTimeout = 30 * time.Second

// ToolHandler executes one tool call. A returned error is terminal for
// the round (wrapped into ToolExecutionError by the registry); soft
// failures the model should see are expressed as ToolResult.Success=false.
type ToolHandler func(ctx context.Context, args map[string]any) (ToolResult, error)

type registeredTool struct {
	def     ToolDefinition
	handler ToolHandler
}

// chatScopedTools receive an automatically injected chat_id argument,
// so the model never has to supply it.
var chatScopedTools = map[string]bool{
	"schedule_reminder":            true,
	"get_scheduled_reminders":      true,
	"cancel_reminder":              true,
	"add_expense":                  true,
	"calculate_expense_settlement": true,
	"get_expense_balance":          true,
	"get_expense_history":          true,
	"settle_payments":              true,
	"switch_conversation_mode":     true,
}

// Registry maps tool names to handlers and exposes their declarations
// to the backend. Registration happens at startup; execution is
// concurrency-safe afterwards.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]registeredTool
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]registeredTool),
		timeout: DefaultToolTimeout,
		logger:  logger.With("component", "tools"),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def ToolDefinition, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = registeredTool{def: def, handler: handler}
}

// Definitions returns the declarations in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Execute runs one function call. Unknown tools and soft failures come
// back as unsuccessful results the model can read; handler errors and
// panics return a ToolExecutionError, terminal for the round.
func (r *Registry) Execute(ctx context.Context, call FunctionCall, chatID string) (ToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", call.Name)
		return ToolResult{Err: fmt.Sprintf("tool %q is not available", call.Name)}, nil
	}

	args := make(map[string]any, len(call.Args)+1)
	for k, v := range call.Args {
		args[k] = v
	}
	if chatScopedTools[call.Name] && chatID != "" {
		args["chat_id"] = chatID
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := r.runSafely(callCtx, tool.handler, args)
	if err != nil {
		r.logger.Error("tool execution failed",
			"tool", call.Name, "duration", time.Since(start).Round(time.Millisecond), "error", err)
		return ToolResult{}, &ToolExecutionError{Tool: call.Name, Err: err}
	}

	r.logger.Info("tool executed",
		"tool", call.Name,
		"success", result.Success,
		"duration", time.Since(start).Round(time.Millisecond))
	return result, nil
}

// runSafely invokes a handler with panic recovery.
func (r *Registry) runSafely(ctx context.Context, handler ToolHandler, args map[string]any) (result ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, args)
}

// Argument accessors. The backend sends untyped maps; each tool
// validates only the fields it needs.

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argFloat(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func argInt(args map[string]any, key string, fallback int) int {
	if v, ok := argFloat(args, key); ok {
		return int(v)
	}
	return fallback
}

func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
