package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"yba-auth/internal/domain"
)

// SessionCache stores auth fragments with a fixed freshness window.
// Implements domain.SessionCache.
type SessionCache struct {
	store  Store
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionCache creates a session cache over store. Fragments older than
// window are treated as absent.
func NewSessionCache(store Store, window time.Duration, logger *slog.Logger) *SessionCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCache{
		store:  store,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Key returns the cache key for a mini app session.
func Key(sessionID string) string {
	return "yba:auth:" + sessionID
}

// Load returns the cached fragment, or false when it is missing, stale or corrupt.
func (c *SessionCache) Load(ctx context.Context, key string) (*domain.Fragment, bool) {
	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "session cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var fragment domain.Fragment
	if err := json.Unmarshal(data, &fragment); err != nil || fragment.Version != domain.FragmentVersion || fragment.SavedAt.IsZero() {
		c.logger.DebugContext(ctx, "discarding session cache entry", "key", key, "error", domain.ErrCacheCorrupt)
		c.Clear(ctx, key)
		return nil, false
	}

	age := c.now().Sub(fragment.SavedAt)
	if age < 0 || age > c.window {
		return nil, false
	}
	return &fragment, true
}

// Save writes the fragment. Failures are logged and swallowed.
func (c *SessionCache) Save(ctx context.Context, key string, fragment domain.Fragment) {
	fragment.Version = domain.FragmentVersion
	fragment.SavedAt = c.now()

	data, err := json.Marshal(fragment)
	if err != nil {
		c.logger.WarnContext(ctx, "session cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.window); err != nil {
		c.logger.WarnContext(ctx, "session cache write failed", "key", key, "error", err)
	}
}

// Clear removes the fragment stored under key.
func (c *SessionCache) Clear(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.WarnContext(ctx, "session cache delete failed", "key", key, "error", err)
	}
}
