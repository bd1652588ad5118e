package config

import (
	"reflect"
	"testing"

	"github.com/codayhq/coday/internal/mcp"
)

func noHostEnv(string) (string, bool) { return "", false }

func TestMergeMCPServer_ScalarLastWins(t *testing.T) {
	coday := &mcp.ServerConfig{ID: "s", Command: "coday-cmd", WorkDir: "/coday"}
	project := &mcp.ServerConfig{Command: "project-cmd"}
	user := &mcp.ServerConfig{WorkDir: "/user"}

	merged := MergeMCPServer(coday, project, user, noHostEnv)
	if merged.Command != "project-cmd" {
		t.Errorf("Command = %q, want last-set value %q", merged.Command, "project-cmd")
	}
	if merged.WorkDir != "/user" {
		t.Errorf("WorkDir = %q, want last-set value %q", merged.WorkDir, "/user")
	}
}

func TestMergeMCPServer_DebugNoShareAreStickyOR(t *testing.T) {
	coday := &mcp.ServerConfig{Debug: true}
	project := &mcp.ServerConfig{}
	user := &mcp.ServerConfig{NoShare: true}

	merged := MergeMCPServer(coday, project, user, noHostEnv)
	if !merged.Debug {
		t.Error("Debug should stay true once any layer sets it")
	}
	if !merged.NoShare {
		t.Error("NoShare should stay true once any layer sets it")
	}
}

func TestMergeMCPServer_ArgsConcatenated(t *testing.T) {
	coday := &mcp.ServerConfig{Args: []string{"--coday-flag"}}
	user := &mcp.ServerConfig{Args: []string{"--user-flag"}}

	merged := MergeMCPServer(coday, nil, user, noHostEnv)
	want := []string{"--coday-flag", "--user-flag"}
	if !reflect.DeepEqual(merged.Args, want) {
		t.Errorf("Args = %v, want %v", merged.Args, want)
	}
}

func TestMergeMCPServer_AllowedToolsConcatenatedNotUnioned(t *testing.T) {
	coday := &mcp.ServerConfig{AllowedTools: []string{"a", "b"}}
	user := &mcp.ServerConfig{AllowedTools: []string{"b", "c"}}

	merged := MergeMCPServer(coday, nil, user, noHostEnv)
	want := []string{"a", "b", "b", "c"}
	if !reflect.DeepEqual(merged.AllowedTools, want) {
		t.Errorf("AllowedTools = %v, want %v (ordered concatenation, duplicates kept)", merged.AllowedTools, want)
	}
}

func TestMergeMCPServer_EnvVarNamesSetUnion(t *testing.T) {
	coday := &mcp.ServerConfig{EnvVarNames: []string{"FOO", "BAR"}}
	user := &mcp.ServerConfig{EnvVarNames: []string{"BAR", "BAZ"}}

	merged := MergeMCPServer(coday, nil, user, noHostEnv)
	want := []string{"BAR", "BAZ", "FOO"} // set-union, sorted
	if !reflect.DeepEqual(merged.EnvVarNames, want) {
		t.Errorf("EnvVarNames = %v, want %v (deduplicated, sorted)", merged.EnvVarNames, want)
	}
}

func TestMergeMCPServer_EnvVarNamesDistinctFromAllowedTools(t *testing.T) {
	coday := &mcp.ServerConfig{
		AllowedTools: []string{"SOME_TOOL"},
		EnvVarNames:  []string{"SOME_TOOL"},
	}

	merged := MergeMCPServer(coday, nil, nil, noHostEnv)
	if len(merged.AllowedTools) != 1 || merged.AllowedTools[0] != "SOME_TOOL" {
		t.Errorf("AllowedTools = %v, want [SOME_TOOL] unaffected by EnvVarNames", merged.AllowedTools)
	}
	if len(merged.EnvVarNames) != 1 || merged.EnvVarNames[0] != "SOME_TOOL" {
		t.Errorf("EnvVarNames = %v, want [SOME_TOOL] unaffected by AllowedTools", merged.EnvVarNames)
	}
}

func TestMergeMCPServer_EnvDeepMergeLaterWins(t *testing.T) {
	coday := &mcp.ServerConfig{Env: map[string]string{"A": "coday", "B": "coday"}}
	user := &mcp.ServerConfig{Env: map[string]string{"B": "user"}}

	merged := MergeMCPServer(coday, nil, user, noHostEnv)
	if merged.Env["A"] != "coday" {
		t.Errorf("Env[A] = %q, want %q", merged.Env["A"], "coday")
	}
	if merged.Env["B"] != "user" {
		t.Errorf("Env[B] = %q, want %q (later layer wins)", merged.Env["B"], "user")
	}
}

func TestMergeMCPServer_EnabledDefaultsTrueWhenUnset(t *testing.T) {
	merged := MergeMCPServer(nil, nil, nil, noHostEnv)
	if !merged.Enabled {
		t.Error("Enabled should default to true when no layer mentions the server")
	}
}

func TestMergeMCPServer_HostEnvFallback(t *testing.T) {
	host := map[string]string{
		"PATH":     "/usr/bin:/bin",
		"MY_TOKEN": "from-host",
	}
	lookup := func(name string) (string, bool) {
		v, ok := host[name]
		return v, ok
	}

	coday := &mcp.ServerConfig{EnvVarNames: []string{"MY_TOKEN"}}
	merged := MergeMCPServer(coday, nil, nil, lookup)

	if merged.Env["PATH"] != "/usr/bin:/bin" {
		t.Errorf("Env[PATH] = %q, want built-in safe var pulled from host", merged.Env["PATH"])
	}
	if merged.Env["MY_TOKEN"] != "from-host" {
		t.Errorf("Env[MY_TOKEN] = %q, want whitelisted var pulled from host", merged.Env["MY_TOKEN"])
	}
}

func TestMergeMCPServer_HostEnvFallbackDoesNotOverrideExplicitEnv(t *testing.T) {
	lookup := func(string) (string, bool) { return "from-host", true }

	coday := &mcp.ServerConfig{
		Env:         map[string]string{"PATH": "explicit-value"},
		EnvVarNames: []string{"PATH"},
	}
	merged := MergeMCPServer(coday, nil, nil, lookup)

	if merged.Env["PATH"] != "explicit-value" {
		t.Errorf("Env[PATH] = %q, want explicit value preserved over host fallback", merged.Env["PATH"])
	}
}

func TestMergeMCPServer_HostEnvFallbackDoesNotLeakUnlistedVars(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "SOME_OTHER_SECRET" {
			return "leaked", true
		}
		return "", false
	}

	merged := MergeMCPServer(&mcp.ServerConfig{}, nil, nil, lookup)
	if _, ok := merged.Env["SOME_OTHER_SECRET"]; ok {
		t.Error("host env fallback should only pull names in BuiltinSafeEnvVars or EnvVarNames")
	}
}

func TestValidMCPServer(t *testing.T) {
	if ValidMCPServer(&mcp.ServerConfig{}) {
		t.Error("a server with neither command nor url should be invalid")
	}
	if !ValidMCPServer(&mcp.ServerConfig{Command: "npx"}) {
		t.Error("a server with a command should be valid")
	}
	if !ValidMCPServer(&mcp.ServerConfig{URL: "https://example.com"}) {
		t.Error("a server with a url should be valid")
	}
}
