package toolbackend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alex-galey/mission-mcp/internal/shared/toolstep"
	"github.com/alex-galey/mission-mcp/pkg/config"
	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	result    *toolstep.Result
	expiresAt time.Time
}

// InvocationCache remembers successful results of idempotent tool calls so that an
// explicit retry does not repeat work already done. Concurrent identical calls share
// one backend invocation.
type InvocationCache struct {
	next    toolstep.Backend
	cfg     config.BackendCacheConfig
	logger  *slog.Logger
	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]cacheEntry
	stop    chan struct{}
	once    sync.Once
}

// NewInvocationCache wraps next with a result cache and starts the cleanup loop.
func NewInvocationCache(next toolstep.Backend, cfg config.BackendCacheConfig, logger *slog.Logger) *InvocationCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	c := &InvocationCache{
		next:    next,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]cacheEntry),
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop(cfg.TTL / 2)

	logger.Debug("Invocation cache initialized",
		"default_ttl", cfg.TTL,
		"policies", len(cfg.Policies))
	return c
}

func (c *InvocationCache) Invoke(ctx context.Context, toolID string, inputs map[string]any) (*toolstep.Result, error) {
	key, ok := cacheKey(toolID, inputs)
	if !ok {
		return c.next.Invoke(ctx, toolID, inputs)
	}

	if res, hit := c.get(key); hit {
		c.logger.Debug("Cache hit", "tool_id", toolID, "key", key)
		return res, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		res, err := c.next.Invoke(ctx, toolID, inputs)
		if err == nil && res != nil && res.Success {
			c.set(key, toolID, res)
		}
		return res, err
	})
	if err != nil {
		return nil, err
	}
	return cloneResult(v.(*toolstep.Result)), nil
}

// Invalidate clears all cached entries.
func (c *InvocationCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.logger.Debug("Cache invalidated")
}

// Len returns the number of live entries.
func (c *InvocationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop stops the background cleanup loop.
func (c *InvocationCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *InvocationCache) ttlFor(toolID string) time.Duration {
	if ttl, ok := c.cfg.Policies[toolID]; ok && ttl > 0 {
		return ttl
	}
	return c.cfg.TTL
}

func (c *InvocationCache) get(key string) (*toolstep.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return cloneResult(entry.result), true
}

func (c *InvocationCache) set(key, toolID string, res *toolstep.Result) {
	ttl := c.ttlFor(toolID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: cloneResult(res), expiresAt: time.Now().Add(ttl)}
}

func (c *InvocationCache) cleanupLoop(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanupExpired()
		}
	}
}

func (c *InvocationCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		c.logger.Debug("Cleaned expired cache entries", "count", cleaned)
	}
}

// cacheKey hashes the tool id and the canonical JSON encoding of the inputs.
// encoding/json sorts map keys, which makes the encoding canonical.
func cacheKey(toolID string, inputs map[string]any) (string, bool) {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "", false
	}
	hasher := sha256.New()
	hasher.Write([]byte(toolID))
	hasher.Write([]byte{0})
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))[:16], true
}

func cloneResult(res *toolstep.Result) *toolstep.Result {
	if res == nil {
		return nil
	}
	out := *res
	if res.Outputs != nil {
		out.Outputs = make(map[string]any, len(res.Outputs))
		for k, v := range res.Outputs {
			out.Outputs[k] = v
		}
	}
	return &out
}
