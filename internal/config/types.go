package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every server-level option plus the table access policies once
// they are loaded.
type Config struct {
	Server   ServerConfig           `koanf:"server"`
	Policies map[string]TablePolicy `koanf:"policies"`

	// InlinePolicies preserves the policies declared directly in the main
	// config document so folder reloads can re-merge them without re-reading
	// the file.
	InlinePolicies map[string]TablePolicy `koanf:"-"`

	// PolicySources records which files contributed policy definitions once
	// the loader resolves the configured sources. Excluded from koanf so the
	// value only reflects runtime discovery.
	PolicySources []string `koanf:"-"`
	// SkippedPolicies captures duplicate or otherwise invalid policy
	// definitions the loader intentionally disabled.
	SkippedPolicies []PolicySkip `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs for the gateway process.
type ServerConfig struct {
	Listen   ListenConfig   `koanf:"listen"`
	Logging  LoggingConfig  `koanf:"logging"`
	Cache    CacheConfig    `koanf:"cache"`
	Auth     AuthConfig     `koanf:"auth"`
	Policies PoliciesConfig `koanf:"policies"`
	Storage  StorageConfig  `koanf:"storage"`
	Upload   UploadConfig   `koanf:"upload"`
	Admin    AdminConfig    `koanf:"admin"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CacheConfig controls the response cache layer.
type CacheConfig struct {
	Disabled    bool             `koanf:"disabled"`
	Backend     string           `koanf:"backend"`
	TTLSeconds  int              `koanf:"ttlSeconds"`
	APIPrefix   string           `koanf:"apiPrefix"`
	BypassPaths []string         `koanf:"bypassPaths"`
	QueueSize   int              `koanf:"queueSize"`
	Redis       RedisCacheConfig `koanf:"redis"`
}

// RedisCacheConfig points the valkey-backed stores at a Redis-protocol server.
type RedisCacheConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// AuthConfig wires the session cookie and the API-key credential.
type AuthConfig struct {
	CookieName   string `koanf:"cookieName"`
	APIKeyHeader string `koanf:"apiKeyHeader"`
	APIKey       string `koanf:"apiKey"`
	AdminPrefix  string `koanf:"adminPrefix"`
	LoginPath    string `koanf:"loginPath"`
	HomePath     string `koanf:"homePath"`
	SessionStore string `koanf:"sessionStore"`
}

// PoliciesConfig announces how table policy documents are sourced.
type PoliciesConfig struct {
	PoliciesFolder string `koanf:"policiesFolder"`
	PoliciesFile   string `koanf:"policiesFile"`
}

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Backend    string           `koanf:"backend"`
	S3         S3Config         `koanf:"s3"`
	Filesystem FilesystemConfig `koanf:"filesystem"`
}

// S3Config carries the credentials and endpoint for an S3-compatible bucket.
// When Endpoint is empty it is derived from AccountID using the
// Cloudflare-style `https://{accountId}.r2.cloudflarestorage.com` form.
type S3Config struct {
	AccountID      string `koanf:"accountId"`
	Endpoint       string `koanf:"endpoint"`
	Region         string `koanf:"region"`
	AccessKeyID    string `koanf:"accessKeyId"`
	SecretKey      string `koanf:"secretKey"`
	Bucket         string `koanf:"bucket"`
	PublicDomain   string `koanf:"publicDomain"`
	ForcePathStyle bool   `koanf:"forcePathStyle"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
	MaxAttempts    int    `koanf:"maxAttempts"`
}

// FilesystemConfig backs uploads with a local directory during development.
type FilesystemConfig struct {
	Root         string `koanf:"root"`
	PublicDomain string `koanf:"publicDomain"`
}

// UploadConfig scopes the upload pipeline.
type UploadConfig struct {
	KeyPrefix string `koanf:"keyPrefix"`
}

// AdminConfig gates the admin UI surface.
type AdminConfig struct {
	UsersCanRegister bool   `koanf:"usersCanRegister"`
	TemplatesFolder  string `koanf:"templatesFolder"`
}

// PolicySkip describes a policy definition the loader intentionally ignored
// because it violated invariants (for example duplicate table names across
// files). Operators can surface these without re-parsing raw files.
type PolicySkip struct {
	Table   string   `json:"table"`
	Reason  string   `json:"reason"`
	Sources []string `json:"sources"`
}

// TablePolicy declares who may perform each operation on a table, plus
// field-level overrides. Predicates are either built-in names (public, none,
// admin, adminOrEditor, adminOrEditorOrApiKey) or CEL expressions over the
// caller context.
type TablePolicy struct {
	Description string                 `koanf:"description"`
	Operations  OperationPolicy        `koanf:"operations"`
	Fields      map[string]FieldPolicy `koanf:"fields"`
}

// OperationPolicy names a predicate per table operation.
type OperationPolicy struct {
	Read   string `koanf:"read"`
	Create string `koanf:"create"`
	Update string `koanf:"update"`
	Delete string `koanf:"delete"`
}

// FieldPolicy overrides the operation-level rule for a single field. An empty
// predicate inherits the operation rule.
type FieldPolicy struct {
	Read   string `koanf:"read"`
	Update string `koanf:"update"`
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config: server.cache.ttlSeconds invalid: %d", c.Server.Cache.TTLSeconds)
	}
	if c.Server.Cache.QueueSize < 0 {
		return fmt.Errorf("config: server.cache.queueSize invalid: %d", c.Server.Cache.QueueSize)
	}
	if !strings.HasPrefix(c.Server.Cache.APIPrefix, "/") {
		return fmt.Errorf("config: server.cache.apiPrefix must start with /: %s", c.Server.Cache.APIPrefix)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	sessionStore := strings.TrimSpace(strings.ToLower(c.Server.Auth.SessionStore))
	switch sessionStore {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis session store")
		}
	default:
		return fmt.Errorf("config: server.auth.sessionStore unsupported: %s", c.Server.Auth.SessionStore)
	}
	if c.Server.Auth.CookieName == "" {
		return errors.New("config: server.auth.cookieName required")
	}
	if !strings.HasPrefix(c.Server.Auth.AdminPrefix, "/") {
		return fmt.Errorf("config: server.auth.adminPrefix must start with /: %s", c.Server.Auth.AdminPrefix)
	}
	if c.Server.Policies.PoliciesFolder != "" && c.Server.Policies.PoliciesFile != "" {
		return errors.New("config: policiesFolder and policiesFile are mutually exclusive")
	}
	switch strings.TrimSpace(strings.ToLower(c.Server.Storage.Backend)) {
	case "s3":
		if c.Server.Storage.S3.Bucket == "" {
			return errors.New("config: server.storage.s3.bucket required")
		}
		if c.Server.Storage.S3.PublicDomain == "" {
			return errors.New("config: server.storage.s3.publicDomain required")
		}
		if c.Server.Storage.S3.Endpoint == "" && c.Server.Storage.S3.AccountID == "" {
			return errors.New("config: server.storage.s3 requires endpoint or accountId")
		}
	case "", "filesystem":
		if c.Server.Storage.Filesystem.PublicDomain == "" {
			return errors.New("config: server.storage.filesystem.publicDomain required")
		}
	default:
		return fmt.Errorf("config: server.storage.backend unsupported: %s", c.Server.Storage.Backend)
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the gateway
// defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Cache: CacheConfig{
				Backend:    "memory",
				TTLSeconds: 300,
				APIPrefix:  "/api",
				BypassPaths: []string{
					"/api/v1/auth",
					"/api/v1/cacheRequests",
					"/api/v1/kv",
					"/api/v1/admin",
				},
				QueueSize: 256,
			},
			Auth: AuthConfig{
				CookieName:   "session",
				APIKeyHeader: "x-api-key",
				AdminPrefix:  "/admin",
				LoginPath:    "/admin/login",
				HomePath:     "/admin",
				SessionStore: "memory",
			},
			Storage: StorageConfig{
				Backend: "filesystem",
				S3: S3Config{
					Region:         "auto",
					ForcePathStyle: true,
					TimeoutSeconds: 30,
					MaxAttempts:    3,
				},
				Filesystem: FilesystemConfig{
					Root:         "./media",
					PublicDomain: "localhost:8080",
				},
			},
			Upload: UploadConfig{
				KeyPrefix: "blog-posts",
			},
		},
	}
}
