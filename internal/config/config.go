// Package config loads mactrack settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mactrack/internal/snmp"
	"mactrack/internal/targets"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Web      Web      `mapstructure:"web"`
	DB       DB       `mapstructure:"db"`
	SNMP     SNMP     `mapstructure:"snmp"`
	Schedule Schedule `mapstructure:"schedule"`
	Tasks    Tasks    `mapstructure:"tasks"`
	Logging  Logging  `mapstructure:"logging"`
	Timezone string   `mapstructure:"timezone"`
}

type Web struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Templates string `mapstructure:"templates"`
}

// Addr is the listen address.
func (w Web) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

type DB struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

type SNMP struct {
	Network        string `mapstructure:"network"`
	Community      string `mapstructure:"community"`
	Timeout        int    `mapstructure:"timeout"`
	Retries        int    `mapstructure:"retries"`
	Port           uint16 `mapstructure:"port"`
	MaxRepetitions uint32 `mapstructure:"max_repetitions"`
	Concurrency    int    `mapstructure:"concurrency"`
	LegacyMode     bool   `mapstructure:"legacy_mode"`
}

// Params converts the section into session parameters. Timeout is in seconds.
func (s SNMP) Params() snmp.Params {
	return snmp.Params{
		Community:      s.Community,
		Timeout:        time.Duration(s.Timeout) * time.Second,
		Retries:        s.Retries,
		Port:           s.Port,
		MaxRepetitions: s.MaxRepetitions,
	}
}

type Schedule struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	CleanupHour     int `mapstructure:"cleanup_hour"`
	CleanupMinute   int `mapstructure:"cleanup_minute"`
	RetentionDays   int `mapstructure:"retention_days"`
}

func (s Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

type Tasks struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web.host", "0.0.0.0")
	v.SetDefault("web.port", 8500)
	v.SetDefault("web.templates", "./internal/web/templates")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.url", "mactrack.db")
	v.SetDefault("snmp.network", "")
	v.SetDefault("snmp.community", "public")
	v.SetDefault("snmp.timeout", 2)
	v.SetDefault("snmp.retries", 1)
	v.SetDefault("snmp.port", snmp.DefaultPort)
	v.SetDefault("snmp.max_repetitions", snmp.DefaultMaxRepetitions)
	v.SetDefault("snmp.concurrency", 1)
	v.SetDefault("snmp.legacy_mode", false)
	v.SetDefault("schedule.interval_minutes", 10)
	v.SetDefault("schedule.cleanup_hour", 2)
	v.SetDefault("schedule.cleanup_minute", 0)
	v.SetDefault("schedule.retention_days", 30)
	v.SetDefault("tasks.ttl", "24h")
	v.SetDefault("tasks.max_entries", 256)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("timezone", "Asia/Shanghai")
}

// Load reads configuration. An empty path searches for config.yaml in ".",
// "./configs" and "/etc/mactrack"; a missing file falls back to defaults.
// Environment variables override file values using the upper-cased key with
// dots replaced by underscores (SNMP_COMMUNITY, WEB_PORT); DB_PATH is
// accepted as an alias of DB_URL.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mactrack")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("db.url", "DB_URL", "DB_PATH"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first out-of-range setting.
func (c *Config) Validate() error {
	switch {
	case c.SNMP.Timeout < 1:
		return fmt.Errorf("%w: snmp.timeout must be at least 1 second, got %d", ErrInvalidConfig, c.SNMP.Timeout)
	case c.SNMP.Retries < 0:
		return fmt.Errorf("%w: snmp.retries must not be negative, got %d", ErrInvalidConfig, c.SNMP.Retries)
	case c.SNMP.Concurrency < 1:
		return fmt.Errorf("%w: snmp.concurrency must be at least 1, got %d", ErrInvalidConfig, c.SNMP.Concurrency)
	case c.Schedule.RetentionDays < 0:
		return fmt.Errorf("%w: schedule.retention_days must not be negative, got %d", ErrInvalidConfig, c.Schedule.RetentionDays)
	case c.Schedule.IntervalMinutes <= 0:
		return fmt.Errorf("%w: schedule.interval_minutes must be positive, got %d", ErrInvalidConfig, c.Schedule.IntervalMinutes)
	case c.Schedule.CleanupHour < 0 || c.Schedule.CleanupHour > 23:
		return fmt.Errorf("%w: schedule.cleanup_hour must be 0-23, got %d", ErrInvalidConfig, c.Schedule.CleanupHour)
	case c.Schedule.CleanupMinute < 0 || c.Schedule.CleanupMinute > 59:
		return fmt.Errorf("%w: schedule.cleanup_minute must be 0-59, got %d", ErrInvalidConfig, c.Schedule.CleanupMinute)
	case c.DB.Driver != "sqlite" && c.DB.Driver != "postgres":
		return fmt.Errorf("%w: db.driver must be sqlite or postgres, got %q", ErrInvalidConfig, c.DB.Driver)
	}

	if c.SNMP.Network != "" {
		if _, err := targets.Parse(c.SNMP.Network); err != nil {
			return fmt.Errorf("%w: snmp.network: %v", ErrInvalidConfig, err)
		}
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Location loads the serving time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
