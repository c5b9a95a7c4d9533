package redisdb

import (
	"context"
	"os"
	"testing"

	"quitcoach/internal/config"
)

func TestNewClient_BasicConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Password = ""
	cfg.Redis.DB = 15

	client := NewClient(cfg)
	if client == nil {
		t.Fatalf("NewClient returned nil")
	}
	opts := client.Options()
	if opts.Addr != cfg.Redis.Addr {
		t.Errorf("expected Addr %s, got %s", cfg.Redis.Addr, opts.Addr)
	}
	if opts.Password != cfg.Redis.Password {
		t.Errorf("expected Password %s, got %s", cfg.Redis.Password, opts.Password)
	}
	if opts.DB != cfg.Redis.DB {
		t.Errorf("expected DB %d, got %d", cfg.Redis.DB, opts.DB)
	}
}

func TestPing_Unreachable(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Addr = "127.0.0.1:1"
	client := NewClient(cfg)
	defer client.Close()
	if err := Ping(context.Background(), client); err == nil {
		t.Errorf("expected error for unreachable redis")
	}
}

func TestPing_Live(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run live redis test")
	}
	cfg := &config.Config{}
	cfg.Redis.Addr = addr
	client := NewClient(cfg)
	defer client.Close()
	if err := Ping(context.Background(), client); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
