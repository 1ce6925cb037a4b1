// Package config loads edusync settings from defaults, an optional config
// file, an optional .env file and EDUSYNC_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix       = "EDUSYNC"
	defaultDataDir  = ".edusync"
	defaultLogLevel = "info"
	defaultEnv      = "local"
)

// Remote kinds.
const (
	RemoteHTTP   = "http"
	RemoteRedis  = "redis"
	RemoteMemory = "memory"
)

// Config is the resolved application configuration.
type Config struct {
	Env       string       `mapstructure:"env"`
	DataDir   string       `mapstructure:"data_dir"`
	TeacherID string       `mapstructure:"teacher_id"`
	Log       LogConfig    `mapstructure:"log"`
	Remote    RemoteConfig `mapstructure:"remote"`
	Sync      SyncConfig   `mapstructure:"sync"`
	Backup    BackupConfig `mapstructure:"backup"`
	DevServer DevServer    `mapstructure:"devserver"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type RemoteConfig struct {
	Kind          string        `mapstructure:"kind"`
	URL           string        `mapstructure:"url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPassword string        `mapstructure:"redis_password"`
}

type SyncConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	StatusInterval   time.Duration `mapstructure:"status_interval"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	SettledRetention time.Duration `mapstructure:"settled_retention"`
	RetainSettled    bool          `mapstructure:"retain_settled"`
	FaultRate        float64       `mapstructure:"fault_rate"`
}

type BackupConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Dir       string        `mapstructure:"dir"`
	Retention int           `mapstructure:"retention"`
}

type DevServer struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", defaultEnv)
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("teacher_id", "")

	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("remote.kind", RemoteHTTP)
	v.SetDefault("remote.url", "http://localhost:8088")
	v.SetDefault("remote.timeout", 10*time.Second)
	v.SetDefault("remote.redis_addr", "localhost:6379")
	v.SetDefault("remote.redis_db", 0)
	v.SetDefault("remote.redis_password", "")

	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.status_interval", 5*time.Second)
	v.SetDefault("sync.probe_interval", 30*time.Second)
	v.SetDefault("sync.backoff_base", time.Duration(0))
	v.SetDefault("sync.backoff_max", time.Hour)
	v.SetDefault("sync.settled_retention", 7*24*time.Hour)
	v.SetDefault("sync.retain_settled", false)
	v.SetDefault("sync.fault_rate", 0.0)

	v.SetDefault("backup.interval", time.Duration(0))
	v.SetDefault("backup.dir", "")
	v.SetDefault("backup.retention", 7)

	v.SetDefault("devserver.addr", ":8088")
}

// Load resolves the configuration. path names an optional YAML/TOML/JSON
// config file; an empty path skips it. A .env file in the working directory
// is loaded when present.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.DataDir, "backups")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the rest of the program cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	switch c.Remote.Kind {
	case RemoteHTTP:
		if c.Remote.URL == "" {
			errs = append(errs, errors.New("remote.url is required for the http remote"))
		}
	case RemoteRedis:
		if c.Remote.RedisAddr == "" {
			errs = append(errs, errors.New("remote.redis_addr is required for the redis remote"))
		}
	case RemoteMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown remote.kind %q", c.Remote.Kind))
	}
	for name, d := range map[string]time.Duration{
		"remote.timeout":         c.Remote.Timeout,
		"sync.interval":          c.Sync.Interval,
		"sync.status_interval":   c.Sync.StatusInterval,
		"sync.probe_interval":    c.Sync.ProbeInterval,
		"sync.backoff_base":      c.Sync.BackoffBase,
		"sync.backoff_max":       c.Sync.BackoffMax,
		"sync.settled_retention": c.Sync.SettledRetention,
		"backup.interval":        c.Backup.Interval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Sync.FaultRate < 0 || c.Sync.FaultRate > 1 {
		errs = append(errs, fmt.Errorf("sync.fault_rate must be within [0,1], got %v", c.Sync.FaultRate))
	}
	if c.Backup.Retention < 0 {
		errs = append(errs, errors.New("backup.retention must not be negative"))
	}
	return errors.Join(errs...)
}

// IsProd reports whether the configuration targets production.
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
