package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Host          string `json:"host"`
		Port          int    `json:"port"`
		Subpath       string `json:"subpath"`
		JWTSecret     string `json:"jwtSecret"`
		TokenTTLHours int    `json:"token_ttl_hours"`
	} `json:"server"`
	Database struct {
		Driver string `json:"driver"` // "postgres" or "sqlite"
		DSN    string `json:"dsn"`
	} `json:"database"`
	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
	} `json:"redis"`
	Log struct {
		Level       string `json:"level"`
		Development bool   `json:"development"`
		SentryDSN   string `json:"sentry_dsn"`
	} `json:"log"`
	Engine   EngineConfig   `json:"engine"`
	Jobs     JobsConfig     `json:"jobs"`
	Sweep    SweepConfig    `json:"sweep"`
	Training TrainingConfig `json:"training"`
}

// EngineConfig holds the arithmetic knobs of the stage progress engine.
type EngineConfig struct {
	WarningRatio      float64 `json:"warning_ratio"`
	CigarettesPerPack int     `json:"cigarettes_per_pack"`
	Timezone          string  `json:"timezone"`
}

type JobsConfig struct {
	Backend     string `json:"backend"` // "redis" or "memory"
	Workers     int    `json:"workers"`
	QueueSize   int    `json:"queue_size"`
	MaxAttempts int    `json:"max_attempts"`
	Key         string `json:"key"`
}

// SweepConfig sets the local time of the daily sweep. Hour and Minute are
// pointers so an explicit 00:00 is kept; unset fields default to 00:05.
type SweepConfig struct {
	Enabled bool `json:"enabled"`
	Hour    *int `json:"hour"`
	Minute  *int `json:"minute"`
}

// At returns the configured sweep time.
func (s SweepConfig) At() (hour, minute int) {
	hour, minute = 0, 5
	if s.Hour != nil {
		hour = *s.Hour
	}
	if s.Minute != nil {
		minute = *s.Minute
	}
	return hour, minute
}

type TrainingConfig struct {
	Enabled        bool   `json:"enabled"`
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

var (
	once   sync.Once
	cfg    *Config
	cfgErr error
)

// LoadConfig reads config.json from disk (singleton), then applies .env and
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	once.Do(func() {
		raw, err := os.ReadFile(path)
		if err != nil {
			cfgErr = fmt.Errorf("failed to read config file: %w", err)
			return
		}
		var c Config
		if err := json.Unmarshal(raw, &c); err != nil {
			cfgErr = fmt.Errorf("invalid config format: %w", err)
			return
		}
		// A missing .env is normal outside development.
		_ = godotenv.Load()
		c.applyEnv()
		c.applyDefaults()
		if err := c.Validate(); err != nil {
			cfgErr = err
			return
		}
		cfg = &c
	})
	return cfg, cfgErr
}

// GetConfig returns the loaded config (must call LoadConfig first)
func GetConfig() *Config {
	return cfg
}

// ResetConfigForTest resets the singleton state (for testing only)
func ResetConfigForTest() {
	once = sync.Once{}
	cfg = nil
	cfgErr = nil
}

func (c *Config) applyEnv() {
	envString("QUITCOACH_JWT_SECRET", &c.Server.JWTSecret)
	envString("QUITCOACH_DB_DRIVER", &c.Database.Driver)
	envString("QUITCOACH_DB_DSN", &c.Database.DSN)
	envString("QUITCOACH_REDIS_ADDR", &c.Redis.Addr)
	envString("QUITCOACH_REDIS_PASSWORD", &c.Redis.Password)
	envString("QUITCOACH_SENTRY_DSN", &c.Log.SentryDSN)
	envString("QUITCOACH_TRAINING_URL", &c.Training.URL)
	if v := os.Getenv("QUITCOACH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.TokenTTLHours == 0 {
		c.Server.TokenTTLHours = 7 * 24
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Engine.WarningRatio == 0 {
		c.Engine.WarningRatio = 0.8
	}
	if c.Engine.CigarettesPerPack == 0 {
		c.Engine.CigarettesPerPack = 20
	}
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = "Asia/Ho_Chi_Minh"
	}
	if c.Jobs.Backend == "" {
		c.Jobs.Backend = "redis"
	}
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 3
	}
	if c.Jobs.QueueSize == 0 {
		c.Jobs.QueueSize = 1000
	}
	if c.Jobs.MaxAttempts == 0 {
		c.Jobs.MaxAttempts = 5
	}
	if c.Jobs.Key == "" {
		c.Jobs.Key = "quitcoach:jobs"
	}
	if c.Training.TimeoutSeconds == 0 {
		c.Training.TimeoutSeconds = 10
	}
}

// Validate checks the fields the server cannot start without.
func (c *Config) Validate() error {
	if c.Server.JWTSecret == "" {
		return errors.New("jwtSecret must be set in config")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Jobs.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported jobs backend %q", c.Jobs.Backend)
	}
	if c.Engine.WarningRatio <= 0 || c.Engine.WarningRatio > 1 {
		return fmt.Errorf("engine.warning_ratio must be in (0,1], got %v", c.Engine.WarningRatio)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid engine.timezone: %w", err)
	}
	if h, m := c.Sweep.At(); h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("invalid sweep time %02d:%02d", h, m)
	}
	return nil
}

// Location returns the timezone calendar days are resolved in.
func (c *Config) Location() (*time.Location, error) {
	if c.Engine.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Engine.Timezone)
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Server.TokenTTLHours) * time.Hour
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
