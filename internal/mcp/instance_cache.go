package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultGraceTimeout is how long a ref-count-zero instance is kept alive
// before its underlying client is torn down (§5).
const DefaultGraceTimeout = 30 * time.Second

type cacheEntry struct {
	client *Client
	refs   int
	grace  *time.Timer
}

// InstanceCache is the process-global, content-hash-keyed cache of MCP
// client instances (§4.6, §5): concurrent callers resolving the same merged
// config share the same underlying child process. An entry is torn down
// once its ref-count reaches zero and a grace timer expires, so a session
// that disconnects and immediately reconnects does not pay reconnect cost.
type InstanceCache struct {
	logger *slog.Logger
	grace  time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewInstanceCache creates an InstanceCache. grace <= 0 uses DefaultGraceTimeout.
func NewInstanceCache(logger *slog.Logger, grace time.Duration) *InstanceCache {
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = DefaultGraceTimeout
	}
	return &InstanceCache{
		logger:  logger.With("component", "mcp.instance_cache"),
		grace:   grace,
		entries: make(map[string]*cacheEntry),
	}
}

// Acquire returns the client for cfg's instance key (§4.6), connecting a
// new one if no cached entry exists or the prior one was already torn down.
// The returned release func must be called exactly once when the caller no
// longer needs the client.
func (c *InstanceCache) Acquire(ctx context.Context, cfg *ServerConfig) (*Client, func(), error) {
	key := InstanceKey(cfg)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		if entry.grace != nil {
			entry.grace.Stop()
			entry.grace = nil
		}
		entry.refs++
		c.mu.Unlock()
		return entry.client, c.releaseFunc(key), nil
	}
	c.mu.Unlock()

	client := NewClient(cfg, c.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		// Lost a race with a concurrent Acquire; keep theirs, close ours.
		entry.refs++
		c.mu.Unlock()
		_ = client.Close()
		return entry.client, c.releaseFunc(key), nil
	}
	entry = &cacheEntry{client: client, refs: 1}
	c.entries[key] = entry
	c.mu.Unlock()

	return client, c.releaseFunc(key), nil
}

func (c *InstanceCache) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { c.release(key) })
	}
}

func (c *InstanceCache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}

	entry.grace = time.AfterFunc(c.grace, func() {
		c.mu.Lock()
		current, ok := c.entries[key]
		if ok && current.refs <= 0 {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		if ok {
			if err := current.client.Close(); err != nil {
				c.logger.Warn("failed to close grace-expired MCP client", "error", err)
			}
		}
	})
}

// Shutdown closes every cached client immediately, skipping grace timers.
func (c *InstanceCache) Shutdown() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	for _, e := range entries {
		if e.grace != nil {
			e.grace.Stop()
		}
		_ = e.client.Close()
	}
}
