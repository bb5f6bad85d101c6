// Package cache implements the disposable read-through layer in front of the
// durable store. Every failure inside the layer is logged and swallowed: a
// broken cache degrades to a miss, never to an error for the caller.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/observability/metrics"
	"OpenMCP-Goals/pkg/logger"
)

const (
	DefaultPrefix  = "goal_agent_cache"
	DefaultTTL     = time.Hour
	DefaultTimeout = 500 * time.Millisecond

	entityGoal = "goal"
	entityTask = "task"
)

// Backend is a TTL key/value store.
type Backend interface {
	// Get returns found=false with a nil error on a miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// Config tunes key namespacing, expiry and per-call timeouts.
type Config struct {
	Prefix  string
	TTL     time.Duration
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Layer stores JSON copies of goals and tasks under <prefix>:<entity>:<id>.
// A nil backend yields a disabled layer on which every lookup misses.
type Layer struct {
	backend Backend
	cfg     Config
}

// New wraps backend with the given configuration.
func New(backend Backend, cfg Config) *Layer {
	cfg.applyDefaults()
	return &Layer{backend: backend, cfg: cfg}
}

// Disabled returns a layer that never stores anything.
func Disabled() *Layer {
	return New(nil, Config{})
}

// Enabled reports whether a backend is configured.
func (l *Layer) Enabled() bool {
	return l != nil && l.backend != nil
}

// Key builds the namespaced key for an entity.
func (l *Layer) Key(entity, id string) string {
	return l.cfg.Prefix + ":" + entity + ":" + id
}

// Available pings the backend.
func (l *Layer) Available(ctx context.Context) bool {
	if !l.Enabled() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	return l.backend.Ping(ctx) == nil
}

// GetGoal returns the cached goal, if any.
func (l *Layer) GetGoal(ctx context.Context, id string) (*goal.Goal, bool) {
	var g goal.Goal
	if !l.get(ctx, entityGoal, id, &g) {
		return nil, false
	}
	return &g, true
}

// SetGoal caches a copy of g.
func (l *Layer) SetGoal(ctx context.Context, g *goal.Goal) {
	if g == nil {
		return
	}
	l.set(ctx, entityGoal, g.ID, g)
}

// GetTask returns the cached task, if any.
func (l *Layer) GetTask(ctx context.Context, id string) (*goal.Task, bool) {
	var t goal.Task
	if !l.get(ctx, entityTask, id, &t) {
		return nil, false
	}
	return &t, true
}

// SetTask caches a copy of t.
func (l *Layer) SetTask(ctx context.Context, t *goal.Task) {
	if t == nil {
		return
	}
	l.set(ctx, entityTask, t.ID, t)
}

// EvictGoal removes a goal key.
func (l *Layer) EvictGoal(ctx context.Context, id string) {
	l.delete(ctx, l.Key(entityGoal, id))
}

// EvictTasks removes task keys.
func (l *Layer) EvictTasks(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.Key(entityTask, id)
	}
	l.delete(ctx, keys...)
}

// Close releases the backend connection.
func (l *Layer) Close() error {
	if !l.Enabled() {
		return nil
	}
	return l.backend.Close()
}

func (l *Layer) get(ctx context.Context, entity, id string, dst any) bool {
	if !l.Enabled() {
		return false
	}
	key := l.Key(entity, id)
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	raw, found, err := l.backend.Get(ctx, key)
	if err != nil {
		l.warn("cache get failed", key, err)
		metrics.ObserveCacheLookup(entity, false)
		return false
	}
	if !found {
		metrics.ObserveCacheLookup(entity, false)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		l.warn("cache entry undecodable", key, err)
		l.delete(ctx, key)
		metrics.ObserveCacheLookup(entity, false)
		return false
	}
	metrics.ObserveCacheLookup(entity, true)
	return true
}

func (l *Layer) set(ctx context.Context, entity, id string, value any) {
	if !l.Enabled() {
		return
	}
	key := l.Key(entity, id)
	raw, err := json.Marshal(value)
	if err != nil {
		l.warn("cache encode failed", key, err)
		return
	}
	setCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	if err := l.backend.Set(setCtx, key, raw, l.cfg.TTL); err != nil {
		l.warn("cache set failed", key, err)
		// The previous copy may still be there; drop it so reads go to the store.
		l.delete(ctx, key)
	}
}

func (l *Layer) delete(ctx context.Context, keys ...string) {
	if !l.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	if err := l.backend.Delete(ctx, keys...); err != nil {
		l.warn("cache delete failed", keys[0], err)
	}
}

func (l *Layer) warn(msg, key string, err error) {
	wrapped := xerrors.Wrap(xerrors.CodeCacheFailure, err, msg)
	logger.Named("cache").Warn(msg,
		slog.String("key", key),
		slog.String("code", string(wrapped.Code())),
		slog.Any("error", err),
	)
}
