package config

import (
	"os"
	"sort"
	"strings"

	"github.com/codayhq/coday/internal/mcp"
)

// BuiltinSafeEnvVars is the fixed set of host environment variables an MCP
// server may inherit even without an explicit whitelist entry (§4.5).
var BuiltinSafeEnvVars = []string{
	"PATH", "HOME", "USER", "TMPDIR", "TEMP", "TMP",
	"LANG", "LC_ALL", "LC_CTYPE", "TERM", "COLORTERM", "SHELL", "OS",
}

// MergeMCPServer applies the CODAY < PROJECT < USER precedence of §4.5 to
// three optional layers of the same server id, then the host-environment
// fallback. Any layer may be nil if that level does not mention this
// server. hostEnv is injected so the fallback is testable without touching
// the real process environment; pass os.Environ-derived lookup in
// production via LookupHostEnv.
func MergeMCPServer(coday, project, user *mcp.ServerConfig, hostEnv func(string) (string, bool)) *mcp.ServerConfig {
	layers := []*mcp.ServerConfig{coday, project, user}

	merged := &mcp.ServerConfig{}
	enabledSet := false
	allowedToolsSet := false
	envVarNames := make(map[string]struct{})

	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if layer.ID != "" {
			merged.ID = layer.ID
		}
		if layer.Name != "" {
			merged.Name = layer.Name
		}
		if layer.Command != "" {
			merged.Command = layer.Command
		}
		if layer.URL != "" {
			merged.URL = layer.URL
		}
		if layer.WorkDir != "" {
			merged.WorkDir = layer.WorkDir
		}
		if layer.Transport != "" {
			merged.Transport = layer.Transport
		}
		if layer.Timeout != 0 {
			merged.Timeout = layer.Timeout
		}
		if layer.AuthToken != "" {
			merged.AuthToken = layer.AuthToken
		}

		// enabled: last level that sets it wins; we treat presence as "this
		// layer mentioned the field at all" via a convention that callers
		// always populate Enabled explicitly once they touch this server.
		merged.Enabled = layer.Enabled
		enabledSet = true

		// debug / noShare: sticky OR.
		merged.Debug = merged.Debug || layer.Debug
		merged.NoShare = merged.NoShare || layer.NoShare

		// args: ordered concatenation, duplicates allowed.
		merged.Args = append(merged.Args, layer.Args...)

		// allowedTools: concatenation; undefined iff no level sets it.
		if layer.AllowedTools != nil {
			merged.AllowedTools = append(merged.AllowedTools, layer.AllowedTools...)
			allowedToolsSet = true
		}

		// envVarNames: set-union, distinct from allowedTools (§4.5).
		for _, n := range layer.EnvVarNames {
			envVarNames[n] = struct{}{}
		}

		// env: deep merge, later keys override.
		if len(layer.Env) > 0 {
			if merged.Env == nil {
				merged.Env = make(map[string]string, len(layer.Env))
			}
			for k, v := range layer.Env {
				merged.Env[k] = v
			}
		}

		if layer.AutoStart {
			merged.AutoStart = true
		}
	}

	if !enabledSet {
		merged.Enabled = true
	}
	if !allowedToolsSet {
		merged.AllowedTools = nil
	}
	if len(envVarNames) > 0 {
		merged.EnvVarNames = make([]string, 0, len(envVarNames))
		for n := range envVarNames {
			merged.EnvVarNames = append(merged.EnvVarNames, n)
		}
		sort.Strings(merged.EnvVarNames)
	}

	applyHostEnvFallback(merged, hostEnv)

	return merged
}

// applyHostEnvFallback fills in env vars named in the built-in safe set or
// the merged whitelist that aren't already set in Env (§4.5).
func applyHostEnvFallback(cfg *mcp.ServerConfig, hostEnv func(string) (string, bool)) {
	if hostEnv == nil {
		hostEnv = LookupHostEnv
	}
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}

	names := make(map[string]struct{}, len(BuiltinSafeEnvVars)+len(cfg.EnvVarNames))
	for _, n := range BuiltinSafeEnvVars {
		names[n] = struct{}{}
	}
	for _, n := range cfg.EnvVarNames {
		names[n] = struct{}{}
	}

	for name := range names {
		if _, already := cfg.Env[name]; already {
			continue
		}
		if v, ok := hostEnv(name); ok {
			cfg.Env[name] = v
		}
	}
}

// LookupHostEnv reads from the real process environment.
func LookupHostEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// ValidMCPServer reports whether cfg has enough to be usable: at least one
// of command or url must be set (§4.5 validation; callers drop invalid
// merged servers with a warning rather than failing the whole config load).
func ValidMCPServer(cfg *mcp.ServerConfig) bool {
	return strings.TrimSpace(cfg.Command) != "" || strings.TrimSpace(cfg.URL) != ""
}
