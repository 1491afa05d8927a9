// Package config reads service settings from the environment and optional .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	minSecretBytes = 32
)

type Config struct {
	HTTPAddr            string
	AuthSecret          string
	AuthIssuer          string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Store               string
	PostgresDSN         string
	RedisURL            string
	PermissionCacheTTL  time.Duration
	PermissionCacheMax  int
	BlacklistPruneEvery time.Duration
	LogLevel            string
	LogFormat           string
	RateLimitRPS        int
	RateLimitBurst      int
	AdminUsername       string
	AdminEmail          string
	AdminPassword       string
}

// Lookup resolves one variable, like os.LookupEnv.
type Lookup func(key string) (string, bool)

// Load reads the process environment, falling back to values from envFiles
// (".env" when none are given). Missing files are ignored; the process
// environment always wins.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	fileVals := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, ok := fileVals[k]; !ok {
				fileVals[k] = v
			}
		}
	}
	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	})
}

// FromLookup builds a Config from lookup and validates it.
func FromLookup(lookup Lookup) (Config, error) {
	p := parser{lookup: lookup}
	cfg := Config{
		HTTPAddr:            p.str("WORKNEST_HTTP_ADDR", ":8080"),
		AuthSecret:          p.str("WORKNEST_AUTH_SECRET", ""),
		AuthIssuer:          p.str("WORKNEST_AUTH_ISSUER", "worknest"),
		AccessTTL:           p.duration("WORKNEST_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:          p.duration("WORKNEST_REFRESH_TTL", 30*24*time.Hour),
		Store:               strings.ToLower(p.str("WORKNEST_STORE", StoreMemory)),
		PostgresDSN:         p.str("WORKNEST_PG_DSN", ""),
		RedisURL:            p.str("WORKNEST_REDIS_URL", ""),
		PermissionCacheTTL:  p.duration("WORKNEST_PERMISSION_CACHE_TTL", 0),
		PermissionCacheMax:  p.integer("WORKNEST_PERMISSION_CACHE_SIZE", 1024),
		BlacklistPruneEvery: p.duration("WORKNEST_BLACKLIST_PRUNE_INTERVAL", time.Hour),
		LogLevel:            p.str("WORKNEST_LOG_LEVEL", "info"),
		LogFormat:           p.str("WORKNEST_LOG_FORMAT", "json"),
		RateLimitRPS:        p.integer("WORKNEST_RATE_LIMIT_RPS", 5),
		RateLimitBurst:      p.integer("WORKNEST_RATE_LIMIT_BURST", 10),
		AdminUsername:       p.str("WORKNEST_ADMIN_USERNAME", ""),
		AdminEmail:          p.str("WORKNEST_ADMIN_EMAIL", ""),
		AdminPassword:       p.str("WORKNEST_ADMIN_PASSWORD", ""),
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.AuthSecret) < minSecretBytes {
		errs = append(errs, fmt.Errorf("WORKNEST_AUTH_SECRET must be at least %d bytes", minSecretBytes))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("WORKNEST_ACCESS_TTL must be positive"))
	}
	if c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("WORKNEST_REFRESH_TTL must be positive"))
	}
	if c.PermissionCacheTTL < 0 {
		errs = append(errs, errors.New("WORKNEST_PERMISSION_CACHE_TTL must not be negative"))
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("WORKNEST_PG_DSN is required when WORKNEST_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("WORKNEST_STORE must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store))
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("WORKNEST_ADMIN_USERNAME and WORKNEST_ADMIN_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup Lookup
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}
