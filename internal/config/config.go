// Package config loads tunnelgw's configuration. The authoritative
// interface is the flat environment-variable surface (PORT, WS_PATH,
// TOKEN, CIDRS, USE_TLS, CERT_FILE, KEY_FILE); an optional YAML file
// supplies the same fields plus the ambient knobs (logging, health,
// rate limiting, drain timeout, idle reaping) a complete service needs
// but the wire protocol itself never mentions.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level tunnelgw configuration.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`
	Debug    DebugConfig    `yaml:"debug"`
}

// BridgeConfig contains the core tunnel listener settings.
type BridgeConfig struct {
	Port           int           `yaml:"port"`
	WSPath         string        `yaml:"ws_path"`
	UseTLS         bool          `yaml:"use_tls"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	// UDPIdleTimeout closes a UDP flow that has neither sent nor received
	// a datagram for this long. Zero disables idle reaping; the tunnel
	// applies no application-level timeouts by default.
	UDPIdleTimeout time.Duration `yaml:"udp_idle_timeout"`
}

// SecurityConfig contains the admission-gate settings plus the optional
// connection-rate limiter.
type SecurityConfig struct {
	Token     string          `yaml:"token"`
	CIDRs     []string        `yaml:"cidrs"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds how many new WebSocket upgrades per minute a
// single peer IP may attempt before admission starts rejecting.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	ConnectionsPerMinute int  `yaml:"connections_per_minute"`
}

// LoggingConfig controls slog output and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig contains the liveness endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
	Endpoint      string `yaml:"endpoint"`
	Detailed      bool   `yaml:"detailed"`
}

// DebugConfig controls the in-memory lifecycle-event introspection API.
type DebugConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
}

// DefaultConfig returns a Config with the protocol defaults plus
// sensible ambient defaults.
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Port:           8080,
			WSPath:         "/ws",
			MaxMessageSize: 1048576, // 1MB
			DrainTimeout:   30 * time.Second,
			DialTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			UDPIdleTimeout: 0,
		},
		Security: SecurityConfig{
			CIDRs: []string{"0.0.0.0/0", "::/0"},
			RateLimit: RateLimitConfig{
				Enabled:              false,
				ConnectionsPerMinute: 120,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1:8081",
			Endpoint:      "/health",
			Detailed:      true,
		},
		Debug: DebugConfig{
			Enabled:    true,
			BufferSize: 1000,
		},
	}
}

// Load reads an optional YAML config file, applies PORT/WS_PATH/TOKEN/
// CIDRS/USE_TLS/CERT_FILE/KEY_FILE (plus a handful of ambient
// TUNNELGW_-prefixed overrides), and validates the result. path may be
// empty, in which case only defaults and environment variables apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s (run 'tunnelgw setup' to create one)", path)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535")
	}
	if c.Bridge.WSPath == "" || !strings.HasPrefix(c.Bridge.WSPath, "/") {
		return fmt.Errorf("bridge.ws_path must be a non-empty absolute path")
	}
	if c.Bridge.MaxMessageSize <= 0 {
		return fmt.Errorf("bridge.max_message_size must be positive")
	}
	if c.Bridge.MaxMessageSize > 67108864 {
		return fmt.Errorf("bridge.max_message_size must not exceed 67108864 (64MB)")
	}
	if c.Bridge.DrainTimeout <= 0 {
		return fmt.Errorf("bridge.drain_timeout must be positive")
	}
	if c.Bridge.DialTimeout <= 0 {
		return fmt.Errorf("bridge.dial_timeout must be positive")
	}
	if c.Bridge.WriteTimeout <= 0 {
		return fmt.Errorf("bridge.write_timeout must be positive")
	}
	if c.Bridge.UDPIdleTimeout < 0 {
		return fmt.Errorf("bridge.udp_idle_timeout must not be negative")
	}
	if len(c.Security.CIDRs) == 0 {
		return fmt.Errorf("security.cidrs must name at least one CIDR")
	}

	if c.Bridge.UseTLS {
		if c.Bridge.CertFile == "" {
			return fmt.Errorf("bridge.cert_file is required when use_tls is true")
		}
		if c.Bridge.KeyFile == "" {
			return fmt.Errorf("bridge.key_file is required when use_tls is true")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.ConnectionsPerMinute <= 0 {
		return fmt.Errorf("security.rate_limit.connections_per_minute must be positive")
	}

	return nil
}

// applyEnvOverrides applies the PORT/WS_PATH/TOKEN/CIDRS/USE_TLS/
// CERT_FILE/KEY_FILE variables, plus ambient TUNNELGW_-prefixed
// variables for the fields the wire protocol doesn't name.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.Port = p
		}
	}
	if v := os.Getenv("WS_PATH"); v != "" {
		cfg.Bridge.WSPath = v
	}
	if v, ok := os.LookupEnv("TOKEN"); ok {
		cfg.Security.Token = v
	}
	if v := os.Getenv("CIDRS"); v != "" {
		cfg.Security.CIDRs = splitCSV(v)
	}
	if v := os.Getenv("USE_TLS"); v != "" {
		cfg.Bridge.UseTLS = parseBool(v, cfg.Bridge.UseTLS)
	}
	if v := os.Getenv("CERT_FILE"); v != "" {
		cfg.Bridge.CertFile = v
	}
	if v := os.Getenv("KEY_FILE"); v != "" {
		cfg.Bridge.KeyFile = v
	}

	envMap := map[string]func(string){
		"TUNNELGW_LOGGING_LEVEL":               func(v string) { cfg.Logging.Level = v },
		"TUNNELGW_LOGGING_FORMAT":              func(v string) { cfg.Logging.Format = v },
		"TUNNELGW_LOGGING_FILE":                func(v string) { cfg.Logging.File = v },
		"TUNNELGW_HEALTH_ENABLED":              func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"TUNNELGW_HEALTH_LISTEN_ADDRESS":       func(v string) { cfg.Health.ListenAddress = v },
		"TUNNELGW_BRIDGE_DRAIN_TIMEOUT":        func(v string) { cfg.Bridge.DrainTimeout = parseDuration(v, cfg.Bridge.DrainTimeout) },
		"TUNNELGW_BRIDGE_UDP_IDLE_TIMEOUT":     func(v string) { cfg.Bridge.UDPIdleTimeout = parseDuration(v, cfg.Bridge.UDPIdleTimeout) },
		"TUNNELGW_SECURITY_RATE_LIMIT_ENABLED": func(v string) { cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled) },
		"TUNNELGW_SECURITY_RATE_LIMIT_CONNECTIONS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.ConnectionsPerMinute = parseInt(v, cfg.Security.RateLimit.ConnectionsPerMinute)
		},
		"TUNNELGW_DEBUG_ENABLED": func(v string) { cfg.Debug.Enabled = parseBool(v, cfg.Debug.Enabled) },
	}
	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ListenAddress returns the host:port the tunnel listener binds.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf(":%d", c.Bridge.Port)
}

// ReloadableFields overwrites c's reloadable fields in place from
// newCfg. The listener address, TLS material, and WS path require a
// restart and are left untouched.
func (c *Config) ReloadableFields(newCfg *Config) {
	c.Security.Token = newCfg.Security.Token
	c.Security.CIDRs = newCfg.Security.CIDRs
	c.Security.RateLimit = newCfg.Security.RateLimit
	c.Logging.Level = newCfg.Logging.Level
	c.Bridge.MaxMessageSize = newCfg.Bridge.MaxMessageSize
	c.Bridge.UDPIdleTimeout = newCfg.Bridge.UDPIdleTimeout
}

// IsReloadSafe reports which fields differ between old and new that
// require a process restart rather than a live reload.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Bridge.Port != new.Bridge.Port {
		warnings = append(warnings, "bridge.port requires restart")
	}
	if old.Bridge.WSPath != new.Bridge.WSPath {
		warnings = append(warnings, "bridge.ws_path requires restart")
	}
	if old.Bridge.UseTLS != new.Bridge.UseTLS || old.Bridge.CertFile != new.Bridge.CertFile || old.Bridge.KeyFile != new.Bridge.KeyFile {
		warnings = append(warnings, "bridge.use_tls/cert_file/key_file requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	return warnings
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
