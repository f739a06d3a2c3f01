package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"yba-auth/internal/domain"
	ybaotel "yba-auth/utils/otel"
)

// IdentityFactory returns the identity provider bound to one mini app session.
type IdentityFactory func(sessionID string) domain.IdentityProvider

// RegistryConfig configures a SessionRegistry.
type RegistryConfig struct {
	// IdleTimeout evicts machines not touched for this long. Zero disables
	// eviction.
	IdleTimeout time.Duration
	// MaxSessions caps live machines. A new session beyond the cap evicts
	// the least recently used one. Zero means no cap.
	MaxSessions   int
	LookupTimeout time.Duration
	// CacheKey maps a session id to its session cache key.
	CacheKey func(sessionID string) string
	Logger   *slog.Logger
	Metrics  *ybaotel.AuthMetrics
}

type registryEntry struct {
	machine  *AuthMachine
	lastSeen time.Time
}

// SessionRegistry owns one AuthMachine per session id.
type SessionRegistry struct {
	identities IdentityFactory
	directory  domain.Directory
	cache      domain.SessionCache
	cfg        RegistryConfig

	mu       sync.Mutex
	machines map[string]*registryEntry
	stop     chan struct{}
	once     sync.Once
	now      func() time.Time
}

// NewSessionRegistry creates a registry and starts its eviction loop when an
// idle timeout is configured.
func NewSessionRegistry(identities IdentityFactory, dir domain.Directory, c domain.SessionCache, cfg RegistryConfig) *SessionRegistry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheKey == nil {
		cfg.CacheKey = func(sessionID string) string { return sessionID }
	}
	r := &SessionRegistry{
		identities: identities,
		directory:  dir,
		cache:      c,
		cfg:        cfg,
		machines:   make(map[string]*registryEntry),
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	if cfg.IdleTimeout > 0 {
		go r.evictLoop(cfg.IdleTimeout / 2)
	}
	return r
}

// Machine returns the machine for sessionID, creating it on first use.
func (r *SessionRegistry) Machine(sessionID string) (*AuthMachine, error) {
	if sessionID == "" {
		return nil, domain.ErrSessionMissing
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.machines[sessionID]; ok {
		e.lastSeen = r.now()
		return e.machine, nil
	}

	if limit := r.cfg.MaxSessions; limit > 0 && len(r.machines) >= limit {
		r.evictOldestLocked()
	}

	m := NewAuthMachine(r.identities(sessionID), r.directory, r.cache, AuthMachineConfig{
		CacheKey:      r.cfg.CacheKey(sessionID),
		LookupTimeout: r.cfg.LookupTimeout,
		Logger:        r.cfg.Logger.With("yba.session.id", sessionID),
		Metrics:       r.cfg.Metrics,
	})
	r.machines[sessionID] = &registryEntry{machine: m, lastSeen: r.now()}
	return m, nil
}

// Lookup returns an existing machine without creating one.
func (r *SessionRegistry) Lookup(sessionID string) (*AuthMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.machines[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionMissing, sessionID)
	}
	e.lastSeen = r.now()
	return e.machine, nil
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

// Close stops the eviction loop.
func (r *SessionRegistry) Close() {
	r.once.Do(func() { close(r.stop) })
}

func (r *SessionRegistry) evictIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.cfg.IdleTimeout)
	evicted := 0
	for id, e := range r.machines {
		if e.lastSeen.Before(cutoff) {
			delete(r.machines, id)
			evicted++
		}
	}
	return evicted
}

// evictOldestLocked drops the least recently used machine. r.mu must be held.
func (r *SessionRegistry) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range r.machines {
		if oldestID == "" || e.lastSeen.Before(oldest) {
			oldestID, oldest = id, e.lastSeen
		}
	}
	if oldestID != "" {
		delete(r.machines, oldestID)
		r.cfg.Logger.DebugContext(context.Background(), "session cap reached, evicted least recently used", "yba.session.id", oldestID)
	}
}

func (r *SessionRegistry) evictLoop(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.evictIdle(); n > 0 {
				r.cfg.Logger.DebugContext(context.Background(), "evicted idle sessions", "count", n)
			}
		case <-r.stop:
			return
		}
	}
}
