package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the service's own bootstrap configuration: how it listens,
// which root paths it serves, and how its background GC passes are
// paced. It is distinct from the namespaces the service serves to
// clients, which are never persisted between runs (§1 Non-goals).
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Roots   []RootConfig  `mapstructure:"roots"`
	Log     LogConfig     `mapstructure:"log"`
	Cache   CacheConfig   `mapstructure:"cache"`
	GC      GCConfig      `mapstructure:"gc"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	App     AppConfig     `mapstructure:"app"`
}

// ServerConfig holds the HTTP/WebSocket listener configuration.
type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// RootConfig declares one root_path the service indexes at startup.
type RootConfig struct {
	ID   string `mapstructure:"id"`
	Path string `mapstructure:"path"`
}

// LogConfig mirrors pkg/logger.Config; kept separate so the mapstructure
// tags stay close to the rest of this file's style.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig paces the merged-config cache (§4.D.8).
type CacheConfig struct {
	Gen0Window time.Duration `mapstructure:"gen0_window"`
	Gen1Window time.Duration `mapstructure:"gen1_window"`
	Gen2Window time.Duration `mapstructure:"gen2_window"`
}

// GCConfig holds the periods for the six independent passes of §4.E.3.
type GCConfig struct {
	MCGen0Interval        time.Duration `mapstructure:"mc_gen0_interval"`
	MCGen1Interval        time.Duration `mapstructure:"mc_gen1_interval"`
	MCGen2Interval        time.Duration `mapstructure:"mc_gen2_interval"`
	DeadPointersInterval  time.Duration `mapstructure:"dead_pointers_interval"`
	NamespacesInterval    time.Duration `mapstructure:"namespaces_interval"`
	VersionsInterval      time.Duration `mapstructure:"versions_interval"`
	NamespaceMaxIdle      time.Duration `mapstructure:"namespace_max_idle"`
	VersionRetentionWindow time.Duration `mapstructure:"version_retention_window"`
}

// MetricsConfig controls the Prometheus exporter endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AppConfig holds process-identity fields used in logs and metrics labels.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LoadConfig loads configuration from configPath (if non-empty) layered
// over defaults and environment variable overrides (MHCONF_SERVER_PORT
// style, via the "." -> "_" replacer below).
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("mhconf")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// §4.D.8 generation windows: a GEN_0/GEN_1 pass moves every
	// merged-config not accessed within the window to the next
	// generation, and the GEN_2 pass drops such entries; an entry
	// accessed within the window stays in its generation.
	viper.SetDefault("cache.gen0_window", "20s")
	viper.SetDefault("cache.gen1_window", "100s")
	viper.SetDefault("cache.gen2_window", "340s")

	// §4.E.3 suggested periods.
	viper.SetDefault("gc.mc_gen0_interval", "20s")
	viper.SetDefault("gc.mc_gen1_interval", "100s")
	viper.SetDefault("gc.mc_gen2_interval", "340s")
	viper.SetDefault("gc.dead_pointers_interval", "140s")
	viper.SetDefault("gc.namespaces_interval", "220s")
	viper.SetDefault("gc.versions_interval", "60s")
	viper.SetDefault("gc.namespace_max_idle", "30m")
	viper.SetDefault("gc.version_retention_window", "10m")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("app.name", "mhconf")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
}

// Validate rejects structurally invalid configuration before the server
// starts indexing any root path.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	seen := make(map[string]bool, len(c.Roots))
	for _, r := range c.Roots {
		if r.ID == "" || r.Path == "" {
			return fmt.Errorf("roots entries require both id and path")
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate root id %q", r.ID)
		}
		seen[r.ID] = true
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	return nil
}

// IsDevelopment reports whether the app environment is "development".
func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }

// IsProduction reports whether the app environment is "production".
func (c *Config) IsProduction() bool { return c.App.Environment == "production" }

// IsDebug reports whether verbose diagnostics should be emitted.
func (c *Config) IsDebug() bool { return c.App.Debug || c.IsDevelopment() }
