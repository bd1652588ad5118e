package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolRegistry manages available tools with thread-safe registration and lookup.
// Tools are registered by name and can be retrieved for execution during agent conversations.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name, compiling its parameter
// schema so Execute can validate tool-call input against it (§4.4). A tool
// whose schema fails to compile is still registered; Execute skips validation
// for it rather than making the agent unusable over a malformed schema.
func (r *ToolRegistry) Register(tool Tool) {
	schema, err := compileToolSchema(tool.Name(), tool.Schema())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	if err == nil {
		r.schemas[tool.Name()] = schema
	} else {
		delete(r.schemas, tool.Name())
	}
}

// compileToolSchema compiles a tool's JSON Schema document. An empty schema
// is treated as "no constraints" rather than an error.
func compileToolSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema for tool %q: %w", name, err)
	}

	resourceID := "tool:" + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceID, doc); err != nil {
		return nil, fmt.Errorf("add schema resource for tool %q: %w", name, err)
	}
	schema, err := c.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema for tool %q: %w", name, err)
	}
	return schema, nil
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Execute runs a tool by name with the given JSON parameters.
// Returns an error result if the tool is not found or parameters are invalid.
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
		return &ToolResult{
			Content: "unknown tool " + name,
			IsError: true,
		}, nil
	}

	if schema != nil {
		var decoded any
		if err := json.Unmarshal(params, &decoded); err != nil {
			return &ToolResult{
				Content: fmt.Sprintf("invalid parameters for tool %q: %s", name, err),
				IsError: true,
			}, nil
		}
		if err := schema.Validate(decoded); err != nil {
			return &ToolResult{
				Content: fmt.Sprintf("parameters for tool %q failed schema validation: %s", name, err),
				IsError: true,
			}, nil
		}
	}

	return tool.Execute(ctx, params)
}

// AsLLMTools returns all registered tools as a slice for passing to LLM providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// FilterByAgent narrows tools down to the subset an Agent may call: anything
// in agentTools by name, plus any tool whose name carries an "integration:"
// prefix matching one of the agent's allowed integrations, respecting that
// integration's ToolFilter.
func (r *ToolRegistry) FilterByAgent(agentTools []string, integrations map[string]toolFilter) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := make(map[string]struct{}, len(agentTools))
	for _, name := range agentTools {
		allowed[name] = struct{}{}
	}

	filtered := make([]Tool, 0, len(r.tools))
	for name, tool := range r.tools {
		if _, ok := allowed[name]; ok {
			filtered = append(filtered, tool)
			continue
		}
		integration, rest, isIntegration := strings.Cut(name, ":")
		if !isIntegration {
			continue
		}
		filter, ok := integrations[integration]
		if !ok {
			continue
		}
		if filter.permits(rest) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// toolFilter mirrors models.ToolFilter's allow/deny semantics for a single
// integration's tool set, decoupling ToolRegistry from pkg/models.
type toolFilter struct {
	Allow []string
	Deny  []string
}

func (f toolFilter) permits(name string) bool {
	for _, d := range f.Deny {
		if matchToolPattern(d, name) {
			return false
		}
	}
	if len(f.Allow) == 0 {
		return true
	}
	for _, a := range f.Allow {
		if matchToolPattern(a, name) {
			return true
		}
	}
	return false
}

// normalizeToolName lowercases and trims a tool name for pattern comparison.
func normalizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// matchesToolPatterns reports whether toolName matches any of patterns, each
// of which may be an exact name, an "mcp:*" wildcard, or a "prefix.*" glob.
func matchesToolPatterns(patterns []string, toolName string) bool {
	if len(patterns) == 0 {
		return false
	}
	name := normalizeToolName(toolName)
	for _, pattern := range patterns {
		if matchToolPattern(normalizeToolName(pattern), name) {
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
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}

// threadLock provides session-local exclusivity for thread mutation (§5):
// every goroutine appending events to the same thread ID serializes through
// the same *sync.Mutex, while unrelated threads proceed concurrently. Entries
// are refcounted and reclaimed once no caller still holds or awaits them.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// ThreadLocks is a registry of per-thread-ID exclusivity locks.
type ThreadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

// NewThreadLocks creates an empty ThreadLocks registry.
func NewThreadLocks() *ThreadLocks {
	return &ThreadLocks{locks: make(map[string]*threadLock)}
}

// Lock blocks until the caller holds exclusive access to threadID, returning
// an unlock function the caller must invoke exactly once.
func (t *ThreadLocks) Lock(threadID string) func() {
	if strings.TrimSpace(threadID) == "" {
		return func() {}
	}

	t.mu.Lock()
	lock := t.locks[threadID]
	if lock == nil {
		lock = &threadLock{}
		t.locks[threadID] = lock
	}
	lock.refs++
	t.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		t.mu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(t.locks, threadID)
		}
		t.mu.Unlock()
	}
}
