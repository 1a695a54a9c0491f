// Package config loads MangaDexZip's worker/frontend/admin configuration
// from a JSON file with environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Limits mirrors backend.limits in the original configuration: every
// field is a soft cap, zero meaning "unenforced".
type Limits struct {
	MaxGroups         int     `mapstructure:"max_groups"`
	MaxActiveGroups   int     `mapstructure:"max_active_groups"`
	MaxTasks          int     `mapstructure:"max_tasks"`
	MaxActiveTasks    int     `mapstructure:"max_active_tasks"`
	MaxWorkerSpaceMB  float64 `mapstructure:"max_worker_space_mb"`
	MaxWorkerSpacePct float64 `mapstructure:"max_worker_space_pct"`
	MaxUsedSpaceMB    float64 `mapstructure:"max_used_space_mb"`
	MaxUsedSpacePct   float64 `mapstructure:"max_used_space_pct"`
	MinFreeSpaceMB    float64 `mapstructure:"min_free_space_mb"`
	MinFreeSpacePct   float64 `mapstructure:"min_free_space_pct"`
}

// Backend describes one worker backend as seen by the frontend's dispatcher.
type Backend struct {
	URL             string        `mapstructure:"url"`
	ExternalURL     string        `mapstructure:"external_url"`
	Token           string        `mapstructure:"token"`
	Priority        int           `mapstructure:"priority"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ProxyData       bool          `mapstructure:"proxy_data"`
	SkipReadyCheck  bool          `mapstructure:"skip_ready_check"`
	Maintenance     bool          `mapstructure:"maintenance"`
}

// BackendConfig is this process's own worker configuration (when backend.enabled).
type BackendConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	TempPath           string  `mapstructure:"temp_path"`
	AuthToken          string  `mapstructure:"auth_token"`
	AlwaysAllowRetrieve bool   `mapstructure:"always_allow_retrieve"`
	EnforceLimits      bool    `mapstructure:"enforce_limits"`
	HideFromOpenAPI    bool    `mapstructure:"hide_from_openapi"`
	Limits             Limits  `mapstructure:"limits"`
}

// FrontendConfig is this process's dispatching configuration (when frontend.enabled).
type FrontendConfig struct {
	Enabled      bool               `mapstructure:"enabled"`
	Backends     map[string]Backend `mapstructure:"backends"`
	TaskCacheTTL time.Duration      `mapstructure:"task_cache_ttl"`
}

// AdminConfig governs the admin surface. It is mounted independently of
// FrontendConfig.Enabled: the admin panel inspects and edits the backends
// map even on a process that isn't itself dispatching frontend traffic.
type AdminConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	AuthToken       string `mapstructure:"auth_token"`
	HideFromOpenAPI bool   `mapstructure:"hide_from_openapi"`
}

// Config is the full process configuration.
type Config struct {
	SchedulerEmptyWait time.Duration  `mapstructure:"scheduler_empty_wait"`
	TaskTTL            time.Duration  `mapstructure:"task_ttl"`
	TaskEmptyTTL       time.Duration  `mapstructure:"task_empty_ttl"`
	CleanupInterval    time.Duration  `mapstructure:"cleanup_interval"`
	Backend            BackendConfig  `mapstructure:"backend"`
	Frontend           FrontendConfig `mapstructure:"frontend"`
	Admin              AdminConfig    `mapstructure:"admin"`
	StorageDSN         string         `mapstructure:"storage_dsn"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("scheduler_empty_wait", "1s")
	v.SetDefault("task_ttl", "1h")
	v.SetDefault("task_empty_ttl", "10m")
	v.SetDefault("cleanup_interval", "30s")

	v.SetDefault("backend.enabled", true)
	v.SetDefault("backend.temp_path", "./data/temp")
	v.SetDefault("backend.always_allow_retrieve", false)
	v.SetDefault("backend.enforce_limits", true)
	v.SetDefault("backend.hide_from_openapi", false)

	v.SetDefault("frontend.enabled", false)
	v.SetDefault("frontend.task_cache_ttl", "5m")

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.hide_from_openapi", false)

	v.SetDefault("storage_dsn", "./data/mangadexzip.db")
}

// Load reads configuration from the JSON file at path (if it exists) and
// overlays environment variables prefixed MANGADEXZIP_, following the
// precedence env > file > default used throughout the viper ecosystem.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("MANGADEXZIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}
