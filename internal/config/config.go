// Package config loads server settings from the environment and the shop
// catalog from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// Config holds everything the API server needs at startup.
type Config struct {
	Port string

	StorageBackend string
	MongoURI       string
	SQLitePath     string

	// JWTKeys maps key ids to HMAC secrets. With a single JWT_SECRET it
	// holds one entry under the empty kid.
	JWTKeys      map[string]string
	JWTActiveKid string
	SessionTTL   time.Duration

	RateLimitRPM int
	CatalogPath  string

	TLSCert      string
	TLSKey       string
	RequireTLS   bool
	CookieSecure bool

	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. It is split from Load so tests can
// supply their own environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:           get("PORT", "8080"),
		StorageBackend: strings.ToLower(get("STORAGE_BACKEND", BackendMemory)),
		MongoURI:       get("MONGODB_URI", ""),
		SQLitePath:     get("SQLITE_PATH", "marketchat.db"),
		JWTActiveKid:   get("JWT_ACTIVE_KID", ""),
		SessionTTL:     24 * time.Hour,
		RateLimitRPM:   10,
		CatalogPath:    get("CATALOG_PATH", ""),
		TLSCert:        get("TLS_CERT", ""),
		TLSKey:         get("TLS_KEY", ""),
		RequireTLS:     get("REQUIRE_TLS", "") == "true",
		CookieSecure:   get("COOKIE_SECURE", "") == "true",
		LogLevel:       get("LOG_LEVEL", "info"),
		LogFormat:      get("LOG_FORMAT", "json"),
	}

	switch cfg.StorageBackend {
	case BackendMemory, BackendSQLite:
	case BackendMongo:
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MONGODB_URI must be set for the mongo backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	// JWT_KEYS (kid:secret,kid2:secret2) enables rotation; otherwise fall
	// back to the single JWT_SECRET.
	if keys := get("JWT_KEYS", ""); keys != "" {
		parsed, err := ParseKeys(keys)
		if err != nil {
			return nil, err
		}
		cfg.JWTKeys = parsed
		if cfg.JWTActiveKid == "" {
			return nil, fmt.Errorf("JWT_ACTIVE_KID must be set with JWT_KEYS")
		}
		if _, ok := parsed[cfg.JWTActiveKid]; !ok {
			return nil, fmt.Errorf("JWT_ACTIVE_KID %q is not in JWT_KEYS", cfg.JWTActiveKid)
		}
	} else if secret := get("JWT_SECRET", ""); secret != "" {
		cfg.JWTKeys = map[string]string{"": secret}
		cfg.JWTActiveKid = ""
	} else {
		return nil, fmt.Errorf("either JWT_SECRET or JWT_KEYS must be set")
	}

	if v := get("SESSION_TTL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid SESSION_TTL %q", v)
		}
		cfg.SessionTTL = d
	}
	if v := get("RATE_LIMIT_RPM", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitRPM = n
		}
	}

	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}
	if cfg.RequireTLS && cfg.TLSCert == "" {
		return nil, fmt.Errorf("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return cfg, nil
}

// ParseKeys parses "kid:secret" pairs separated by commas.
func ParseKeys(s string) (map[string]string, error) {
	keys := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, secret, ok := strings.Cut(pair, ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", pair)
		}
		keys[kid] = secret
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("JWT_KEYS has no entries")
	}
	return keys, nil
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}
