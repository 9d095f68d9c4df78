// Package service assembles the config store: configuration loading,
// component wiring and lifecycle.
package service

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/config-store/pkg/auth"
)

// Config holds the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Name    string    `yaml:"name"`
	Version string    `yaml:"version"`
	Address string    `yaml:"address"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig configures TLS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BackendConfig selects and configures the history backend.
type BackendConfig struct {
	// Mode is "memory" or "githost".
	Mode    string        `yaml:"mode"`
	Githost GithostConfig `yaml:"githost"`
}

// GithostConfig configures the git hosting backend.
type GithostConfig struct {
	BaseURL string        `yaml:"base_url"`
	Repo    string        `yaml:"repo"`
	Branch  string        `yaml:"branch"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig configures the PostgreSQL connection used for the
// version ledger and audit log. An empty DSN keeps both in memory.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// AuthConfig configures authentication.
type AuthConfig struct {
	Enabled        bool             `yaml:"enabled"`
	AllowAnonymous bool             `yaml:"allow_anonymous"`
	APIKeys        []auth.APIKey    `yaml:"api_keys"`
	JWT            JWTServiceConfig `yaml:"jwt"`
}

// JWTServiceConfig configures the JWT bearer authenticator.
type JWTServiceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Issuer     string `yaml:"issuer"`
	SigningKey string `yaml:"signing_key"`
}

// AuditConfig configures audit logging.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// CORSConfig configures cross-origin access.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns a configuration with defaults applied: an
// in-memory backend, no auth, listening on :8080.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "config-store"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Backend.Mode == "" {
		cfg.Backend.Mode = "memory"
	}
	if cfg.Backend.Githost.Branch == "" {
		cfg.Backend.Githost.Branch = "main"
	}
	if cfg.Backend.Githost.Timeout == 0 {
		cfg.Backend.Githost.Timeout = 30 * time.Second
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	switch c.Backend.Mode {
	case "memory":
	case "githost":
		if c.Backend.Githost.Repo == "" {
			errs = append(errs, "backend.githost.repo is required in githost mode")
		}
		if c.Backend.Githost.Token == "" {
			errs = append(errs, "backend.githost.token is required in githost mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.mode %q is not supported", c.Backend.Mode))
	}

	if c.Auth.Enabled {
		if len(c.Auth.APIKeys) == 0 && !c.Auth.JWT.Enabled && !c.Auth.AllowAnonymous {
			errs = append(errs, "auth is enabled but no authenticator is configured")
		}
		if c.Auth.JWT.Enabled {
			if c.Auth.JWT.Issuer == "" {
				errs = append(errs, "auth.jwt.issuer is required when JWT is enabled")
			}
			if c.Auth.JWT.SigningKey == "" {
				errs = append(errs, "auth.jwt.signing_key is required when JWT is enabled")
			}
		}
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			errs = append(errs, "server.tls.cert_file and key_file are required when TLS is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
