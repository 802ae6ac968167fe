// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pricescan/pricescan-scraper/internal/scrape"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Scheduler  SchedulerConfig         `mapstructure:"scheduler"`
	HTTP       HTTPConfig              `mapstructure:"http"`
	Delay      DelayConfig             `mapstructure:"delay"`
	Correction scrape.CorrectionConfig `mapstructure:"correction"`
	DB         DBConfig                `mapstructure:"db"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Currency   string                  `mapstructure:"currency"`
	Sources    []scrape.SourceConfig   `mapstructure:"sources"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SchedulerConfig governs the tick loop and worker pool.
type SchedulerConfig struct {
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	MaxWorkers           int           `mapstructure:"max_workers"`
	ShutdownGrace        time.Duration `mapstructure:"shutdown_grace"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	ErrorCooldown        time.Duration `mapstructure:"error_cooldown"`
}

// HTTPConfig configures outbound fetch behavior.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	IgnoreRobots bool          `mapstructure:"ignore_robots"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	RateBurst    int           `mapstructure:"rate_limit_burst"`
}

// DelayConfig bounds the jittered pause between queries within one run.
type DelayConfig struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory sink.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICESCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.tick_interval", "60s")
	v.SetDefault("scheduler.max_workers", 0) // 0 = sized from the source list
	v.SetDefault("scheduler.shutdown_grace", "5s")
	v.SetDefault("scheduler.max_consecutive_errors", 5)
	v.SetDefault("scheduler.error_cooldown", "5m")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.user_agent", "pricescan-scraper/1.0")
	v.SetDefault("http.ignore_robots", false)
	v.SetDefault("http.rate_limit_rps", 1.0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("delay.min", "500ms")
	v.SetDefault("delay.max", "2s")
	v.SetDefault("correction.enabled", true)
	v.SetDefault("correction.threshold", 100)
	v.SetDefault("correction.multiplier", 1000)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("currency", "CFA")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be > 0")
	}
	if c.Scheduler.MaxWorkers < 0 {
		return fmt.Errorf("scheduler.max_workers must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Delay.Min < 0 || c.Delay.Max < c.Delay.Min {
		return fmt.Errorf("delay.min/delay.max must satisfy 0 <= min <= max")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if !src.Enabled {
			continue
		}
		if src.Interval <= 0 {
			return fmt.Errorf("source %q: interval must be > 0", src.ID)
		}
		if !strings.Contains(src.SearchURLTemplate, "%q") {
			return fmt.Errorf("source %q: search_url_template must contain a %%q placeholder", src.ID)
		}
		sel := src.Selectors
		if sel.Container == "" || sel.Name == "" || sel.Price == "" {
			return fmt.Errorf("source %q: selectors.container, selectors.name and selectors.price are required", src.ID)
		}
	}
	return nil
}

// EnabledSources filters the configured sources down to the enabled ones.
func (c Config) EnabledSources() []scrape.SourceConfig {
	out := make([]scrape.SourceConfig, 0, len(c.Sources))
	for _, src := range c.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}
