package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "redis" {
		t.Errorf("default backend = %q, want redis", cfg.Storage.Backend)
	}
	if cfg.Security.DeviceSecretEnv != "DEVICE_HMAC_SECRET" {
		t.Errorf("default secret env = %q", cfg.Security.DeviceSecretEnv)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
  read_timeout: 5s
storage:
  backend: memory
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("read timeout = %v, want 5s", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}

	// Untouched sections keep defaults.
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("write timeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q, want default", cfg.Redis.Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does/not/exist.yaml"); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load should fail for malformed yaml")
	}
}

func TestDeviceSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.DeviceSecretEnv = "TEST_DEVICE_SECRET"

	os.Unsetenv("TEST_DEVICE_SECRET")
	if _, err := cfg.DeviceSecret(); err == nil {
		t.Error("DeviceSecret should fail when the env var is unset")
	}

	t.Setenv("TEST_DEVICE_SECRET", "s3cret")
	secret, err := cfg.DeviceSecret()
	if err != nil {
		t.Fatalf("DeviceSecret() error: %v", err)
	}
	if secret != "s3cret" {
		t.Errorf("secret = %q, want s3cret", secret)
	}
}
