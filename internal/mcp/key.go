package mcp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// InstanceKey computes the deterministic instance-key hash of a merged MCP
// server config (§4.6): a SHA-256 hex digest over command, url, args (order
// preserved), env (keys sorted), cwd, and debug. id/name/enabled/
// allowedTools/authToken never participate; authToken only affects the hash
// if it has been folded into Env by the caller. If NoShare is true, a fresh
// unique token is returned instead, forcing a private instance per call.
func InstanceKey(cfg *ServerConfig) string {
	if cfg.NoShare {
		return fmt.Sprintf("no-share-%d-%s", time.Now().UnixNano(), randomToken())
	}

	var b strings.Builder
	b.WriteString("command=")
	b.WriteString(cfg.Command)
	b.WriteString("\nurl=")
	b.WriteString(cfg.URL)
	b.WriteString("\nargs=")
	for _, a := range cfg.Args {
		b.WriteString(a)
		b.WriteByte('\x1f')
	}
	b.WriteString("\nenv=")
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(cfg.Env[k])
		b.WriteByte('\x1f')
	}
	b.WriteString("\ncwd=")
	b.WriteString(cfg.WorkDir)
	b.WriteString("\ndebug=")
	if cfg.Debug {
		b.WriteString("1")
	} else {
		b.WriteString("0")
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func randomToken() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(buf)
}
