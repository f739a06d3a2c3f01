package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheSQLite = "sqlite"
)

// minSecretLen is the shortest accepted HMAC secret.
const minSecretLen = 32

// Config holds the application configuration. Values come from defaults, then
// the optional YAML file named by CONFIG_FILE, then environment variables.
type Config struct {
	Port string `yaml:"port"`

	BridgeURL     string        `yaml:"bridge_url"`     // mini app host bridge
	BridgeTimeout time.Duration `yaml:"bridge_timeout"` // identity, profile and phone calls

	DirectoryURL     string        `yaml:"directory_url"` // Strapi GraphQL endpoint
	DirectoryToken   string        `yaml:"directory_token"`
	DirectoryTimeout time.Duration `yaml:"directory_timeout"`
	LookupTimeout    time.Duration `yaml:"lookup_timeout"` // per account/member lookup

	CacheBackend string        `yaml:"cache_backend"`
	CacheTTL     time.Duration `yaml:"cache_ttl"` // session cache freshness window
	RedisURL     string        `yaml:"redis_url"`
	RedisPrefix  string        `yaml:"redis_prefix"`
	SQLitePath   string        `yaml:"sqlite_path"`

	TokenSecret   string        `yaml:"token_secret"`
	TokenIssuer   string        `yaml:"token_issuer"`
	TokenAudience string        `yaml:"token_audience"`
	TokenTTL      time.Duration `yaml:"token_ttl"`

	CSRFSecret     string `yaml:"csrf_secret"`
	InternalSecret string `yaml:"internal_secret"` // empty disables /internal

	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	PermissionTimeout  time.Duration `yaml:"permission_timeout"` // zero: bounded by the client
	MaxSessions        int           `yaml:"max_sessions"`       // live sessions kept in memory

	RedirectHome         string `yaml:"redirect_home"`
	RedirectRegistration string `yaml:"redirect_registration"`

	RateLimit   float64 `yaml:"rate_limit"` // requests per second per session
	RateBurst   int     `yaml:"rate_burst"`
	IPRateLimit float64 `yaml:"ip_rate_limit"` // requests per second per client IP
	IPRateBurst int     `yaml:"ip_rate_burst"`
}

func defaults() *Config {
	return &Config{
		Port:                 "8888",
		BridgeURL:            "http://zmp-bridge:3000",
		BridgeTimeout:        5 * time.Second,
		DirectoryURL:         "http://strapi:1337/graphql",
		DirectoryTimeout:     10 * time.Second,
		LookupTimeout:        10 * time.Second,
		CacheBackend:         CacheMemory,
		CacheTTL:             5 * time.Minute,
		SQLitePath:           "data/yba-auth.sqlite3",
		TokenIssuer:          "yba-auth",
		TokenAudience:        "yba-features",
		TokenTTL:             5 * time.Minute,
		SessionIdleTimeout:   30 * time.Minute,
		MaxSessions:          10000,
		RedirectHome:         "/",
		RedirectRegistration: "/register",
		RateLimit:            10,
		RateBurst:            20,
		IPRateLimit:          30,
		IPRateBurst:          60,
	}
}

// Load reads configuration and validates it.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"PORT", &c.Port},
		{"BRIDGE_URL", &c.BridgeURL},
		{"DIRECTORY_URL", &c.DirectoryURL},
		{"DIRECTORY_TOKEN", &c.DirectoryToken},
		{"CACHE_BACKEND", &c.CacheBackend},
		{"REDIS_URL", &c.RedisURL},
		{"REDIS_PREFIX", &c.RedisPrefix},
		{"SQLITE_PATH", &c.SQLitePath},
		{"MEMBER_TOKEN_SECRET", &c.TokenSecret},
		{"MEMBER_TOKEN_ISSUER", &c.TokenIssuer},
		{"MEMBER_TOKEN_AUDIENCE", &c.TokenAudience},
		{"CSRF_SECRET", &c.CSRFSecret},
		{"INTERNAL_SECRET", &c.InternalSecret},
		{"REDIRECT_HOME", &c.RedirectHome},
		{"REDIRECT_REGISTRATION", &c.RedirectRegistration},
	}
	for _, s := range strs {
		*s.dst = getEnv(s.key, *s.dst)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BRIDGE_TIMEOUT", &c.BridgeTimeout},
		{"DIRECTORY_TIMEOUT", &c.DirectoryTimeout},
		{"LOOKUP_TIMEOUT", &c.LookupTimeout},
		{"CACHE_TTL", &c.CacheTTL},
		{"MEMBER_TOKEN_TTL", &c.TokenTTL},
		{"SESSION_IDLE_TIMEOUT", &c.SessionIdleTimeout},
		{"PERMISSION_TIMEOUT", &c.PermissionTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", d.key, err)
		}
		*d.dst = parsed
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"RATE_LIMIT", &c.RateLimit},
		{"IP_RATE_LIMIT", &c.IPRateLimit},
	}
	for _, f := range floats {
		v := os.Getenv(f.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"RATE_BURST", &c.RateBurst},
		{"IP_RATE_BURST", &c.IPRateBurst},
		{"MAX_SESSIONS", &c.MaxSessions},
	}
	for _, i := range ints {
		v := os.Getenv(i.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.key, err)
		}
		*i.dst = parsed
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	for key, raw := range map[string]string{"BRIDGE_URL": c.BridgeURL, "DIRECTORY_URL": c.DirectoryURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL", key))
		}
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.LookupTimeout <= 0 {
		errs = append(errs, errors.New("LOOKUP_TIMEOUT must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("MEMBER_TOKEN_TTL must be positive"))
	}

	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis cache backend"))
		}
	case CacheSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite cache backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend))
	}

	if len(c.TokenSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("MEMBER_TOKEN_SECRET must be at least %d bytes", minSecretLen))
	}
	if len(c.CSRFSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("CSRF_SECRET must be at least %d bytes", minSecretLen))
	}
	if c.InternalSecret != "" && len(c.InternalSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("INTERNAL_SECRET must be at least %d bytes when set", minSecretLen))
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT and RATE_BURST must be positive"))
	}
	if c.IPRateLimit <= 0 || c.IPRateBurst <= 0 {
		errs = append(errs, errors.New("IP_RATE_LIMIT and IP_RATE_BURST must be positive"))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, errors.New("MAX_SESSIONS must be positive"))
	}

	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a fallback value.
// KEY_FILE, when set and readable, wins over KEY.
func getEnv(key, fallback string) string {
	if fileValue := os.Getenv(key + "_FILE"); fileValue != "" {
		content, err := os.ReadFile(fileValue)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
