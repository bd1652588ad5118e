package config

import (
	"github.com/codayhq/coday/internal/mcp"
	"github.com/codayhq/coday/pkg/models"
)

// Layer identifies which of the three precedence levels a Config came from
// (§4.5): CODAY is the read-only global, PROJECT is per-project, USER is
// the per-user override.
type Layer string

const (
	LayerCoday   Layer = "CODAY"
	LayerProject Layer = "PROJECT"
	LayerUser    Layer = "USER"
)

// ProviderConfig is one AI provider's layer-level settings: its API key and
// which models it exposes at BIG/SMALL size.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"apiKey,omitempty"`
	BigModel  string `yaml:"bigModel,omitempty"`
	SmallModel string `yaml:"smallModel,omitempty"`
}

// Config is the shape decoded from a single CODAY/PROJECT/USER file: MCP
// servers, AI providers, and integration tool filters, all keyed by id/name
// so MergeMCPServer (and its provider/integration counterparts) can align
// same-id entries across layers.
type Config struct {
	MCPServers   map[string]*mcp.ServerConfig   `yaml:"mcpServers,omitempty"`
	Providers    map[string]*ProviderConfig     `yaml:"providers,omitempty"`
	Integrations map[string]models.ToolFilter   `yaml:"integrations,omitempty"`
	PriceThreshold float64                      `yaml:"priceThreshold,omitempty"`
}

// LoadLayer reads and decodes a single config file at path (resolving
// $include directives) into a Config for one precedence layer.
func LoadLayer(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	return decodeRawConfig(raw)
}

// MergeProvider applies the scalar-last-wins rule (§4.5) across layers of
// the same provider name.
func MergeProvider(coday, project, user *ProviderConfig) *ProviderConfig {
	merged := &ProviderConfig{}
	for _, layer := range []*ProviderConfig{coday, project, user} {
		if layer == nil {
			continue
		}
		if layer.Name != "" {
			merged.Name = layer.Name
		}
		if layer.APIKey != "" {
			merged.APIKey = layer.APIKey
		}
		if layer.BigModel != "" {
			merged.BigModel = layer.BigModel
		}
		if layer.SmallModel != "" {
			merged.SmallModel = layer.SmallModel
		}
	}
	return merged
}

// MergeToolFilter concatenates Allow/Deny lists across layers (§4.5
// allowedTools/set-like list rule): undefined iff no layer sets it.
func MergeToolFilter(coday, project, user *models.ToolFilter) models.ToolFilter {
	var merged models.ToolFilter
	for _, layer := range []*models.ToolFilter{coday, project, user} {
		if layer == nil {
			continue
		}
		merged.Allow = append(merged.Allow, layer.Allow...)
		merged.Deny = append(merged.Deny, layer.Deny...)
	}
	return merged
}

// MergeAll walks every MCP server id, provider name, and integration name
// mentioned in any of the three layers and folds them through the per-kind
// merge rule above, producing the single effective Config a session runs
// with (§4.5). Any layer may be nil.
func MergeAll(coday, project, user *Config, hostEnv func(string) (string, bool)) *Config {
	out := &Config{
		MCPServers:   map[string]*mcp.ServerConfig{},
		Providers:    map[string]*ProviderConfig{},
		Integrations: map[string]models.ToolFilter{},
	}

	for _, id := range unionMCPServerKeys(coday, project, user) {
		merged := MergeMCPServer(mcpLayer(coday, id), mcpLayer(project, id), mcpLayer(user, id), hostEnv)
		if ValidMCPServer(merged) {
			out.MCPServers[id] = merged
		}
	}
	for _, name := range unionProviderKeys(coday, project, user) {
		out.Providers[name] = MergeProvider(providerLayer(coday, name), providerLayer(project, name), providerLayer(user, name))
	}
	for _, name := range unionIntegrationKeys(coday, project, user) {
		out.Integrations[name] = MergeToolFilter(integrationLayer(coday, name), integrationLayer(project, name), integrationLayer(user, name))
	}

	for _, layer := range []*Config{coday, project, user} {
		if layer != nil && layer.PriceThreshold != 0 {
			out.PriceThreshold = layer.PriceThreshold
		}
	}
	return out
}

func mcpLayer(c *Config, id string) *mcp.ServerConfig {
	if c == nil {
		return nil
	}
	return c.MCPServers[id]
}

func providerLayer(c *Config, name string) *ProviderConfig {
	if c == nil {
		return nil
	}
	return c.Providers[name]
}

func integrationLayer(c *Config, name string) *models.ToolFilter {
	if c == nil {
		return nil
	}
	if f, ok := c.Integrations[name]; ok {
		return &f
	}
	return nil
}

func unionMCPServerKeys(layers ...*Config) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range layers {
		if c == nil {
			continue
		}
		for id := range c.MCPServers {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

func unionProviderKeys(layers ...*Config) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range layers {
		if c == nil {
			continue
		}
		for name := range c.Providers {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out
}

func unionIntegrationKeys(layers ...*Config) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, c := range layers {
		if c == nil {
			continue
		}
		for name := range c.Integrations {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out
}
