package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dylanbstorey/arawn-sub003/internal/tools/policy"
)

// Tool parameter limits, guarding against resource exhaustion from a
// misbehaving or adversarial model.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup (§4.A). Tools are registered by name and retrieved for
// execution and for advertisement to an LLMProvider.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name, replacing any
// existing tool registered under the same name. The tool's declared
// JSON-schema is compiled eagerly so a malformed schema fails at
// registration time rather than silently skipping validation at
// dispatch time; a tool whose schema fails to compile is still
// registered, but Execute performs no argument validation for it.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	delete(r.schemas, tool.Name())
	if schema := tool.Schema(); len(schema) > 0 {
		if compiled, err := compileToolSchema(tool.Name(), schema); err == nil {
			r.schemas[tool.Name()] = compiled
		}
	}
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

func compileToolSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	uri := "tool:" + name
	if err := c.AddResource(uri, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	return c.Compile(uri)
}

// Get returns a tool by name and whether it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs a tool by name against raw JSON parameters, validating
// the name and parameter size before dispatch. A missing tool or
// oversized input yields an error ToolResult rather than a Go error,
// so the model sees it as a recoverable tool failure (§4.E).
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{Content: "tool not found: " + name, IsError: true}, nil
	}
	if schema != nil {
		if err := validateToolParams(schema, params); err != nil {
			return &ToolResult{Content: fmt.Sprintf("invalid arguments for %s: %v", name, err), IsError: true}, nil
		}
	}
	return tool.Execute(ctx, params)
}

// validateToolParams validates raw tool-call arguments against a
// tool's compiled JSON-schema before dispatch (§4.A, SPEC_FULL §4:
// "validates tool call arguments against each tool's declared
// JSON-schema before dispatch").
func validateToolParams(schema *jsonschema.Schema, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(v)
}

// AsLLMTools returns all registered tools, unordered, for assembly into
// a models.ToolDefinition slice by the context builder.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// FilterByPolicy returns the subset of tools a resolver/policy pair
// allows. A nil resolver or policy disables filtering (all tools pass).
func FilterByPolicy(resolver *policy.Resolver, toolPolicy *policy.Policy, tools []Tool) []Tool {
	if resolver == nil || toolPolicy == nil {
		return tools
	}
	filtered := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		if resolver.IsAllowed(toolPolicy, tool.Name()) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// NormalizeToolName canonicalizes a tool name through a resolver's
// alias table, falling back to policy.NormalizeTool when resolver is
// nil.
func NormalizeToolName(name string, resolver *policy.Resolver) string {
	if resolver == nil {
		return policy.NormalizeTool(name)
	}
	return resolver.CanonicalName(name)
}

// MatchesToolPatterns reports whether toolName matches any of the given
// glob-ish patterns (exact match, "prefix.*" suffix wildcard, or the
// special "mcp:*" wildcard matching every MCP-adapted tool).
func MatchesToolPatterns(patterns []string, toolName string, resolver *policy.Resolver) bool {
	if len(patterns) == 0 {
		return false
	}
	name := NormalizeToolName(toolName, resolver)
	for _, pattern := range patterns {
		if matchToolPattern(NormalizeToolName(pattern, resolver), name) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}
