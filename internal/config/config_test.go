package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Bridge.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Bridge.Port)
	}
	if cfg.Bridge.WSPath != "/ws" {
		t.Errorf("default ws_path = %q, want /ws", cfg.Bridge.WSPath)
	}
	if cfg.Bridge.MaxMessageSize != 1048576 {
		t.Errorf("default max_message_size = %d, want %d", cfg.Bridge.MaxMessageSize, 1048576)
	}
	if cfg.Bridge.DrainTimeout != 30*time.Second {
		t.Errorf("default drain_timeout = %v, want %v", cfg.Bridge.DrainTimeout, 30*time.Second)
	}
	if cfg.Bridge.UDPIdleTimeout != 0 {
		t.Errorf("default udp_idle_timeout = %v, want 0 (disabled)", cfg.Bridge.UDPIdleTimeout)
	}
	if cfg.Health.ListenAddress != "127.0.0.1:8081" {
		t.Errorf("default health.listen_address = %q, want %q", cfg.Health.ListenAddress, "127.0.0.1:8081")
	}
	if len(cfg.Security.CIDRs) != 2 || cfg.Security.CIDRs[0] != "0.0.0.0/0" || cfg.Security.CIDRs[1] != "::/0" {
		t.Errorf("default cidrs = %v, want [0.0.0.0/0 ::/0]", cfg.Security.CIDRs)
	}
	if cfg.Security.Token != "" {
		t.Error("default token should be empty")
	}
	if cfg.Bridge.UseTLS {
		t.Error("default use_tls should be false")
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
bridge:
  port: 9090
  ws_path: "/tunnel"
  drain_timeout: "5s"
  max_message_size: 2097152
  write_timeout: "15s"
  dial_timeout: "15s"
security:
  token: "test-token"
  cidrs:
    - "10.0.0.0/8"
  rate_limit:
    enabled: false
logging:
  level: "debug"
  format: "text"
health:
  enabled: true
  listen_address: "127.0.0.1:8081"
  endpoint: "/health"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Bridge.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Bridge.Port)
	}
	if cfg.Bridge.WSPath != "/tunnel" {
		t.Errorf("ws_path = %q, want /tunnel", cfg.Bridge.WSPath)
	}
	if cfg.Bridge.DrainTimeout != 5*time.Second {
		t.Errorf("drain_timeout = %v, want %v", cfg.Bridge.DrainTimeout, 5*time.Second)
	}
	if cfg.Bridge.MaxMessageSize != 2097152 {
		t.Errorf("max_message_size = %d, want %d", cfg.Bridge.MaxMessageSize, 2097152)
	}
	if cfg.Security.Token != "test-token" {
		t.Errorf("token = %q, want %q", cfg.Security.Token, "test-token")
	}
	if len(cfg.Security.CIDRs) != 1 || cfg.Security.CIDRs[0] != "10.0.0.0/8" {
		t.Errorf("cidrs = %v, want [10.0.0.0/8]", cfg.Security.CIDRs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Security.RateLimit.Enabled {
		t.Error("rate_limit.enabled should be false")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load('') error: %v", err)
	}
	if cfg.Bridge.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Bridge.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("WS_PATH", "/custom")
	t.Setenv("TOKEN", "env-token")
	t.Setenv("CIDRS", "10.0.0.0/8,192.168.0.0/16")
	t.Setenv("USE_TLS", "true")
	t.Setenv("CERT_FILE", "/tmp/cert.pem")
	t.Setenv("KEY_FILE", "/tmp/key.pem")
	t.Setenv("TUNNELGW_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Bridge.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Bridge.Port)
	}
	if cfg.Bridge.WSPath != "/custom" {
		t.Errorf("ws_path = %q, want /custom", cfg.Bridge.WSPath)
	}
	if cfg.Security.Token != "env-token" {
		t.Errorf("token = %q, want env-token", cfg.Security.Token)
	}
	if len(cfg.Security.CIDRs) != 2 || cfg.Security.CIDRs[0] != "10.0.0.0/8" || cfg.Security.CIDRs[1] != "192.168.0.0/16" {
		t.Errorf("cidrs = %v, want env override", cfg.Security.CIDRs)
	}
	if !cfg.Bridge.UseTLS {
		t.Error("use_tls should be true from env override")
	}
	if cfg.Bridge.CertFile != "/tmp/cert.pem" || cfg.Bridge.KeyFile != "/tmp/key.pem" {
		t.Errorf("cert/key = %q, %q", cfg.Bridge.CertFile, cfg.Bridge.KeyFile)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "valid default",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "zero port",
			modify:  func(c *Config) { c.Bridge.Port = 0 },
			wantErr: "bridge.port must be between",
		},
		{
			name:    "port too large",
			modify:  func(c *Config) { c.Bridge.Port = 70000 },
			wantErr: "bridge.port must be between",
		},
		{
			name:    "empty ws_path",
			modify:  func(c *Config) { c.Bridge.WSPath = "" },
			wantErr: "bridge.ws_path must be a non-empty absolute path",
		},
		{
			name:    "relative ws_path",
			modify:  func(c *Config) { c.Bridge.WSPath = "ws" },
			wantErr: "bridge.ws_path must be a non-empty absolute path",
		},
		{
			name:    "zero max_message_size",
			modify:  func(c *Config) { c.Bridge.MaxMessageSize = 0 },
			wantErr: "bridge.max_message_size must be positive",
		},
		{
			name:    "no cidrs",
			modify:  func(c *Config) { c.Security.CIDRs = nil },
			wantErr: "security.cidrs must name at least one CIDR",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level must be one of",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "csv" },
			wantErr: "logging.format must be one of",
		},
		{
			name:    "tls enabled without cert",
			modify:  func(c *Config) { c.Bridge.UseTLS = true },
			wantErr: "bridge.cert_file is required",
		},
		{
			name: "tls enabled without key",
			modify: func(c *Config) {
				c.Bridge.UseTLS = true
				c.Bridge.CertFile = "/path/to/cert.pem"
			},
			wantErr: "bridge.key_file is required",
		},
		{
			name:    "negative udp idle timeout",
			modify:  func(c *Config) { c.Bridge.UDPIdleTimeout = -time.Second },
			wantErr: "bridge.udp_idle_timeout must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if !contains(err.Error(), tt.wantErr) {
					t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestIsReloadSafe(t *testing.T) {
	old := DefaultConfig()
	newCfg := DefaultConfig()

	warnings := IsReloadSafe(old, newCfg)
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}

	newCfg.Bridge.Port = 9999
	warnings = IsReloadSafe(old, newCfg)
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %d: %v", len(warnings), warnings)
	}

	newCfg.Health.ListenAddress = "127.0.0.1:9091"
	warnings = IsReloadSafe(old, newCfg)
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings, got %d: %v", len(warnings), warnings)
	}
}

func TestReloadableFields(t *testing.T) {
	old := DefaultConfig()
	newCfg := DefaultConfig()
	newCfg.Security.Token = "new-token"
	newCfg.Logging.Level = "debug"
	newCfg.Bridge.MaxMessageSize = 2097152

	old.ReloadableFields(newCfg)

	if old.Security.Token != "new-token" {
		t.Errorf("token not reloaded")
	}
	if old.Logging.Level != "debug" {
		t.Errorf("log level not reloaded")
	}
	if old.Bridge.MaxMessageSize != 2097152 {
		t.Errorf("max_message_size not reloaded")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstr(s, substr)
}

func searchSubstr(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
