package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 || cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Firmware.DefaultModel != DefaultModelType || cfg.Firmware.MaxUploadSize != DefaultMaxUploadSize {
		t.Errorf("firmware = %+v", cfg.Firmware)
	}
	if cfg.Auth.AccessTokenTTL != time.Hour {
		t.Errorf("access token ttl = %s", cfg.Auth.AccessTokenTTL)
	}
	if cfg.MQTT.PublishTimeout != time.Second {
		t.Errorf("mqtt publish timeout = %s", cfg.MQTT.PublishTimeout)
	}
	if cfg.Blob.Backend != "filesystem" || cfg.MQTT.TopicRoot != "ofc/v1" {
		t.Errorf("blob = %+v, mqtt = %+v", cfg.Blob, cfg.MQTT)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  driver: memory
firmware:
  default_model: nrf52
  max_upload_size: 1024
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OFC_SERVER_HTTP_PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "memory" || cfg.Firmware.DefaultModel != "nrf52" || cfg.Firmware.MaxUploadSize != 1024 {
		t.Errorf("file values not applied: %+v %+v", cfg.Database, cfg.Firmware)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090 from env", cfg.Server.HTTPPort)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"ok", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }, true},
		{"unknown blob backend", func(c *Config) { c.Blob.Backend = "tape" }, true},
		{"s3 without endpoint", func(c *Config) { c.Blob.Backend = "s3" }, true},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Database: DatabaseConfig{Driver: "memory"},
				Blob:     BlobConfig{Backend: "filesystem"},
			}
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (c.Firmware.DefaultModel != DefaultModelType || c.Firmware.MaxUploadSize != DefaultMaxUploadSize) {
				t.Errorf("defaults not filled: %+v", c.Firmware)
			}
		})
	}
}

func TestJWTSecret(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "OFC_TEST_SECRET"}
	t.Setenv("OFC_TEST_SECRET", "")
	if a.IsProductionReady() {
		t.Error("development secret reported as production ready")
	}

	t.Setenv("OFC_TEST_SECRET", "a-real-secret-that-is-long-enough-123")
	if a.GetJWTSecret() != "a-real-secret-that-is-long-enough-123" || !a.IsProductionReady() {
		t.Error("secret from environment not used")
	}
}
