package app

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// PGDSN selects the PostgreSQL store; empty keeps assignments in memory.
	PGDSN string `envconfig:"PG_DSN"`
	// RedisAddr enables the decision cache and the job queue; empty disables both.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	CacheTTL time.Duration `envconfig:"RBAC_CACHE_TTL" default:"5m"`
	// RelatedLevels is the ordered action list checked on related objects. Set it to an
	// empty value to turn related checks off.
	RelatedLevels string   `envconfig:"RBAC_CHECK_RELATED_PERMISSIONS" default:"use,change,view"`
	APITokens     string   `envconfig:"RBAC_API_TOKENS"`
	Superusers    []string `envconfig:"RBAC_SUPERUSERS"`
	SweepCron     string   `envconfig:"RBAC_SWEEP_CRON" default:"0 * * * *"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.CacheTTL < 0 {
		return nil, errors.New("cache ttl must not be negative")
	}
	if cfg.IsProduction() && strings.TrimSpace(cfg.APITokens) == "" {
		return nil, errors.New("api tokens must be provided in production")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// RelatedPermissionLevels returns the configured levels. The result is never nil, so an
// empty setting disables related checks instead of selecting the defaults.
func (c *Config) RelatedPermissionLevels() []string {
	levels := []string{}
	for _, level := range strings.Split(c.RelatedLevels, ",") {
		if level = strings.ToLower(strings.TrimSpace(level)); level != "" {
			levels = append(levels, level)
		}
	}
	return levels
}
