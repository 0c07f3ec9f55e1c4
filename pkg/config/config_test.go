package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `
environment: test
server:
  port: 8080
cache:
  redis:
    enabled: false
    addr: localhost:6379
    db: 0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "test" || cfg.Server.Port != 8080 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_TOPIC", "snapshots")

	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Cache.Redis.Addr != "redis.internal:6380" || cfg.Cache.Redis.DB != 3 {
		t.Fatalf("redis override missing: %+v", cfg.Cache.Redis)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "snapshots" {
		t.Fatalf("kafka override missing: %+v", cfg.Kafka)
	}
}

func TestLoadWithEnvBadIntKeepsYAML(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want yaml value 8080", cfg.Server.Port)
	}
}

func TestValidateRejectsBadSource(t *testing.T) {
	cfg := &Config{Environment: "test"}
	cfg.Calibration.Source = "synthetic"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for source")
	}
}

func TestValidateQueueNeedsRedis(t *testing.T) {
	cfg := &Config{Environment: "test"}
	cfg.Queue.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when queue enabled without redis")
	}
}
