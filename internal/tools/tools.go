package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chefcode-ai/chefcode/internal/bridge"
	"github.com/chefcode-ai/chefcode/internal/logger"
)

// Tool names
const (
	ToolNameView       = "view"
	ToolNameEdit       = "edit"
	ToolNameEditDiff   = "editDiff"
	ToolNameNpmInstall = "npmInstall"
	ToolNameDeploy     = "deploy"
)

// Tool is one agent-invocable operation. Execute returns the success
// payload for the agent loop or an error; errors never escape the
// dispatcher as exceptions, they become the tool call's failure result.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (string, error)
}

// Registry manages the available tools
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	return out
}

// ToJSONSchema converts the registered tools to the JSON schema shape the
// agent loop advertises to the model.
func (r *Registry) ToJSONSchema() []map[string]interface{} {
	schemas := make([]map[string]interface{}, 0, len(r.tools))
	for _, tool := range r.tools {
		schemas = append(schemas, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return schemas
}

// Dispatcher runs tool invocations and converts every outcome into a
// tagged result. Only an unknown tool name is additionally reported as an
// error, so the runner's chain bookkeeping records it.
type Dispatcher struct {
	registry  *Registry
	sanitizer *Sanitizer
}

// NewDispatcher creates a dispatcher over the given registry
func NewDispatcher(registry *Registry, sanitizer *Sanitizer) *Dispatcher {
	return &Dispatcher{registry: registry, sanitizer: sanitizer}
}

// Dispatch executes the named tool with raw JSON arguments
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, args json.RawMessage) (bridge.Result, error) {
	tool, ok := d.registry.Get(toolName)
	if !ok {
		err := fmt.Errorf("unknown tool: %s", toolName)
		return bridge.Err(err.Error()), err
	}

	params := make(map[string]interface{})
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return bridge.Errf("invalid arguments for tool %s: %v", toolName, err), nil
		}
	}

	text, err := tool.Execute(ctx, params)
	if err != nil {
		logger.Warn("tools: %s failed: %v", toolName, err)
		return bridge.Err(err.Error()), nil
	}

	if d.sanitizer != nil {
		text = d.sanitizer.Truncate(text)
	}
	return bridge.OK(text), nil
}

// GetStringParam returns a string parameter or the default
func GetStringParam(params map[string]interface{}, key string, defaultVal string) string {
	if val, ok := params[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetIntParam returns an int parameter or the default
func GetIntParam(params map[string]interface{}, key string, defaultVal int) int {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}
