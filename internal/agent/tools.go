package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/antlerlab/antlerbot/internal/providers"
)

// Tool is a function the LLM can call during generation.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema for the arguments
	Run         func(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolRegistry holds the tools bound to the agent.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns provider-ready tool definitions in registration order.
func (r *ToolRegistry) Defs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}

// Execute runs a tool and returns its result as LLM-facing text. Unknown
// tools and tool errors are reported back to the LLM rather than aborting
// the invocation.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	t, ok := r.Get(name)
	if !ok {
		slog.Warn("unknown tool requested", "tool", name)
		return fmt.Sprintf("Error: unknown tool %q", name)
	}

	out, err := t.Run(ctx, args)
	if err != nil {
		slog.Warn("tool error", "tool", name, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}
