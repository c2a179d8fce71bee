// Package tools provides the tool framework and the fixed tool catalog the
// community agent can call.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/communityagent/communityagent/internal/provider"
)

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool with the given parameters.
	// Returns result string and error. On error, return user-friendly message.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// TieredTool is an optional interface for tools that declare a risk tier.
// Tier 0: read-only community data
// Tier 1: writes to community data
// Tier 2: outbound requests to third-party sites
type TieredTool interface {
	Tool
	Tier() int
}

// Risk tier constants.
const (
	TierReadOnly = 0
	TierWrite    = 1
	TierExternal = 2
)

// ToolTier returns the risk tier for a tool.
// If the tool implements TieredTool, its Tier() is returned.
// Otherwise defaults to TierReadOnly.
func ToolTier(t Tool) int {
	if tt, ok := t.(TieredTool); ok {
		return tt.Tier()
	}
	return TierReadOnly
}

// Registry holds the tools advertised for one agent run and executes calls
// against them.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. Registering a name twice replaces the
// earlier tool but keeps its position.
func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	result := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns tool definitions in OpenAI format.
func (r *Registry) Definitions() []provider.ToolDefinition {
	result := make([]provider.ToolDefinition, 0, len(r.order))
	for _, tool := range r.List() {
		result = append(result, provider.NewFunctionTool(tool.Name(), tool.Description(), tool.Parameters()))
	}
	return result
}

// Run executes one model-issued tool call and always returns text for the
// conversation. Unregistered names yield "Unknown tool: <name>", tool errors
// become "Error: <err>" and panics are recovered.
func (r *Registry) Run(ctx context.Context, call provider.ToolCall) (result string) {
	tool, ok := r.tools[call.Name]
	if !ok {
		slog.Warn("Unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return "Unknown tool: " + call.Name
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Tool panicked", "tool", call.Name, "panic", rec)
			result = fmt.Sprintf("Error: tool %s panicked", call.Name)
		}
	}()

	params := call.Arguments
	if params == nil {
		params = map[string]any{}
	}
	out, err := tool.Execute(ctx, params)
	if err != nil {
		slog.Debug("Tool failed", "tool", call.Name, "tier", ToolTier(tool), "error", err)
		return "Error: " + err.Error()
	}
	slog.Debug("Tool executed", "tool", call.Name, "tier", ToolTier(tool), "result_length", len(out))
	return out
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value. Numeric strings
// are accepted since some models quote integers. Values beyond the int
// range saturate at math.MinInt or math.MaxInt.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return saturateInt(n)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return saturateInt(f)
			}
		}
	}
	return defaultVal
}

func saturateInt(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}

// GetStringSlice extracts a list of strings. A single comma-separated string
// is split; blank entries are dropped.
func GetStringSlice(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	var raw []string
	switch t := v.(type) {
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(t, ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
