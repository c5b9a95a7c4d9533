package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	ResetConfigForTest()
	path := writeTempConfig(t, `{
		"server": {
			"host": "localhost",
			"port": 8080,
			"subpath": "/api",
			"jwtSecret": "mysecret"
		},
		"database": {
			"driver": "sqlite",
			"dsn": "file::memory:"
		},
		"redis": {
			"addr": "localhost:6379",
			"password": "",
			"db": 0
		},
		"engine": {
			"timezone": "UTC"
		}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("database driver not loaded: %q", cfg.Database.Driver)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfigForTest()
	path := writeTempConfig(t, `{"server": {"jwtSecret": "s"}, "engine": {"timezone": "UTC"}}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Engine.WarningRatio != 0.8 {
		t.Errorf("expected warning ratio 0.8, got %v", cfg.Engine.WarningRatio)
	}
	if cfg.Engine.CigarettesPerPack != 20 {
		t.Errorf("expected 20 cigarettes per pack, got %d", cfg.Engine.CigarettesPerPack)
	}
	if h, m := cfg.Sweep.At(); h != 0 || m != 5 {
		t.Errorf("expected sweep at 00:05, got %02d:%02d", h, m)
	}
	if cfg.Jobs.Backend != "redis" || cfg.Jobs.MaxAttempts != 5 {
		t.Errorf("unexpected jobs defaults: %+v", cfg.Jobs)
	}
}

func TestLoadConfig_MidnightSweep(t *testing.T) {
	ResetConfigForTest()
	path := writeTempConfig(t, `{
		"server": {"jwtSecret": "s"},
		"engine": {"timezone": "UTC"},
		"sweep": {"enabled": true, "hour": 0, "minute": 0}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if h, m := cfg.Sweep.At(); h != 0 || m != 0 {
		t.Errorf("expected sweep at 00:00, got %02d:%02d", h, m)
	}

	ResetConfigForTest()
	path = writeTempConfig(t, `{"server": {"jwtSecret": "s"}, "engine": {"timezone": "UTC"}, "sweep": {"hour": 3}}`)
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if h, m := cfg.Sweep.At(); h != 3 || m != 5 {
		t.Errorf("expected sweep at 03:05, got %02d:%02d", h, m)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	ResetConfigForTest()
	t.Setenv("QUITCOACH_JWT_SECRET", "from-env")
	t.Setenv("QUITCOACH_DB_DSN", "postgres://env")
	path := writeTempConfig(t, `{"server": {"jwtSecret": "from-file"}, "engine": {"timezone": "UTC"}}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.JWTSecret != "from-env" {
		t.Errorf("expected env secret, got %q", cfg.Server.JWTSecret)
	}
	if cfg.Database.DSN != "postgres://env" {
		t.Errorf("expected env dsn, got %q", cfg.Database.DSN)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	ResetConfigForTest()
	_, err := LoadConfig("no_such_config.json")
	if err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	ResetConfigForTest()
	path := writeTempConfig(t, `{this is not json}`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Errorf("expected error for malformed JSON")
	}
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	ResetConfigForTest()
	t.Setenv("QUITCOACH_JWT_SECRET", "")
	path := writeTempConfig(t, `{"server": {}}`)

	if _, err := LoadConfig(path); err == nil {
		t.Errorf("expected error when jwtSecret is missing")
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := map[string]func(c *Config){
		"driver":  func(c *Config) { c.Database.Driver = "mysql" },
		"ratio":   func(c *Config) { c.Engine.WarningRatio = 1.5 },
		"tz":      func(c *Config) { c.Engine.Timezone = "Mars/Olympus" },
		"sweep":   func(c *Config) { h := 24; c.Sweep.Hour = &h },
		"backend": func(c *Config) { c.Jobs.Backend = "kafka" },
	}
	for name, mutate := range cases {
		c := &Config{}
		c.Server.JWTSecret = "s"
		c.Engine.Timezone = "UTC"
		c.applyDefaults()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
