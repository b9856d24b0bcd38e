package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules
// and resolves the table policy bundle.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.cache.ttlseconds":                "server.cache.ttlSeconds",
			"server.cache.apiprefix":                 "server.cache.apiPrefix",
			"server.cache.bypasspaths":               "server.cache.bypassPaths",
			"server.cache.queuesize":                 "server.cache.queueSize",
			"server.cache.redis.tls.cafile":          "server.cache.redis.tls.caFile",
			"server.auth.cookiename":                 "server.auth.cookieName",
			"server.auth.apikeyheader":               "server.auth.apiKeyHeader",
			"server.auth.apikey":                     "server.auth.apiKey",
			"server.auth.adminprefix":                "server.auth.adminPrefix",
			"server.auth.loginpath":                  "server.auth.loginPath",
			"server.auth.homepath":                   "server.auth.homePath",
			"server.auth.sessionstore":               "server.auth.sessionStore",
			"server.policies.policiesfolder":         "server.policies.policiesFolder",
			"server.policies.policiesfile":           "server.policies.policiesFile",
			"server.storage.s3.accountid":            "server.storage.s3.accountId",
			"server.storage.s3.accesskeyid":          "server.storage.s3.accessKeyId",
			"server.storage.s3.secretkey":            "server.storage.s3.secretKey",
			"server.storage.s3.publicdomain":         "server.storage.s3.publicDomain",
			"server.storage.s3.forcepathstyle":       "server.storage.s3.forcePathStyle",
			"server.storage.s3.timeoutseconds":       "server.storage.s3.timeoutSeconds",
			"server.storage.s3.maxattempts":          "server.storage.s3.maxAttempts",
			"server.storage.filesystem.publicdomain": "server.storage.filesystem.publicDomain",
			"server.upload.keyprefix":                "server.upload.keyPrefix",
			"server.admin.userscanregister":          "server.admin.usersCanRegister",
			"server.admin.templatesfolder":           "server.admin.templatesFolder",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (SERVER__CACHE__DISABLED -> server.cache.disabled).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so CACHE_DISABLED collapses into
			// cachedisabled when callers choose not to use double underscores
			// for object nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.InlinePolicies = clonePolicyMap(cfg.Policies)

	bundle, err := buildPolicyBundle(ctx, cfg.InlinePolicies, cfg.Server.Policies)
	if err != nil {
		return Config{}, err
	}
	cfg.Policies = bundle.Policies
	cfg.PolicySources = bundle.Sources
	cfg.SkippedPolicies = bundle.Skipped
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"cache": map[string]any{
				"disabled":    cfg.Server.Cache.Disabled,
				"backend":     cfg.Server.Cache.Backend,
				"ttlSeconds":  cfg.Server.Cache.TTLSeconds,
				"apiPrefix":   cfg.Server.Cache.APIPrefix,
				"bypassPaths": cfg.Server.Cache.BypassPaths,
				"queueSize":   cfg.Server.Cache.QueueSize,
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
			"auth": map[string]any{
				"cookieName":   cfg.Server.Auth.CookieName,
				"apiKeyHeader": cfg.Server.Auth.APIKeyHeader,
				"apiKey":       cfg.Server.Auth.APIKey,
				"adminPrefix":  cfg.Server.Auth.AdminPrefix,
				"loginPath":    cfg.Server.Auth.LoginPath,
				"homePath":     cfg.Server.Auth.HomePath,
				"sessionStore": cfg.Server.Auth.SessionStore,
			},
			"policies": map[string]any{
				"policiesFolder": cfg.Server.Policies.PoliciesFolder,
				"policiesFile":   cfg.Server.Policies.PoliciesFile,
			},
			"storage": map[string]any{
				"backend": cfg.Server.Storage.Backend,
				"s3": map[string]any{
					"accountId":      cfg.Server.Storage.S3.AccountID,
					"endpoint":       cfg.Server.Storage.S3.Endpoint,
					"region":         cfg.Server.Storage.S3.Region,
					"accessKeyId":    cfg.Server.Storage.S3.AccessKeyID,
					"secretKey":      cfg.Server.Storage.S3.SecretKey,
					"bucket":         cfg.Server.Storage.S3.Bucket,
					"publicDomain":   cfg.Server.Storage.S3.PublicDomain,
					"forcePathStyle": cfg.Server.Storage.S3.ForcePathStyle,
					"timeoutSeconds": cfg.Server.Storage.S3.TimeoutSeconds,
					"maxAttempts":    cfg.Server.Storage.S3.MaxAttempts,
				},
				"filesystem": map[string]any{
					"root":         cfg.Server.Storage.Filesystem.Root,
					"publicDomain": cfg.Server.Storage.Filesystem.PublicDomain,
				},
			},
			"upload": map[string]any{
				"keyPrefix": cfg.Server.Upload.KeyPrefix,
			},
			"admin": map[string]any{
				"usersCanRegister": cfg.Server.Admin.UsersCanRegister,
				"templatesFolder":  cfg.Server.Admin.TemplatesFolder,
			},
		},
	}
}
