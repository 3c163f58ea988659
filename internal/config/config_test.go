package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Gateway.URL = "wss://gateway.example.org"
	cfg.Gateway.Token = "test-token"
	return cfg
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Gateway.ConnectDelay != 5500*time.Millisecond {
		t.Errorf("connect delay = %v, want 5.5s", cfg.Gateway.ConnectDelay)
	}
	if cfg.Gateway.ShardCount != 1 {
		t.Errorf("shard count = %d, want 1", cfg.Gateway.ShardCount)
	}
	if cfg.Watchdog.Interval != 10*time.Second {
		t.Errorf("watchdog interval = %v, want 10s", cfg.Watchdog.Interval)
	}
	if cfg.Watchdog.MinEvents != 100 {
		t.Errorf("watchdog min events = %d, want 100", cfg.Watchdog.MinEvents)
	}
	if cfg.Database.Path != "./shardgate.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP port = %d, want 8080", cfg.HTTP.Port)
	}
}

func TestValidate_RequiresGatewayCredentials(t *testing.T) {
	// Defaults carry no URL or token on purpose.
	if err := DefaultConfig().Validate(); err == nil {
		t.Error("default config should not validate without gateway credentials")
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.Gateway.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty token should be rejected")
	}
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero shard count", func(c *Config) { c.Gateway.ShardCount = 0 }},
		{"zero connect delay", func(c *Config) { c.Gateway.ConnectDelay = 0 }},
		{"negative reconnect spacing", func(c *Config) { c.Gateway.ReconnectSpacing = -time.Second }},
		{"zero watchdog interval", func(c *Config) { c.Watchdog.Interval = 0 }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
		{"missing watchdog section", func(c *Config) { c.Watchdog = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWatchdogConfig_SilenceFor(t *testing.T) {
	w := &WatchdogConfig{}
	if got := w.SilenceFor(4); got != 30*time.Second {
		t.Errorf("multi-shard silence = %v, want 30s", got)
	}
	if got := w.SilenceFor(1); got != 10*time.Minute {
		t.Errorf("single-shard silence = %v, want 10m", got)
	}

	w.AcceptableSilence = time.Minute
	if got := w.SilenceFor(4); got != time.Minute {
		t.Errorf("explicit silence = %v, want 1m", got)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("SHARDGATE_GATEWAY_URL", "wss://env.example.org")
	t.Setenv("SHARDGATE_GATEWAY_TOKEN", "env-token")
	t.Setenv("SHARDGATE_SHARD_COUNT", "16")
	t.Setenv("SHARDGATE_CONNECT_DELAY", "2s")
	t.Setenv("SHARDGATE_WATCHDOG_SILENCE", "45s")
	t.Setenv("SHARDGATE_HTTP_PORT", "9090")

	cfg := LoadFromEnv()

	if cfg.Gateway.URL != "wss://env.example.org" {
		t.Errorf("URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.Token != "env-token" {
		t.Errorf("token = %q", cfg.Gateway.Token)
	}
	if cfg.Gateway.ShardCount != 16 {
		t.Errorf("shard count = %d, want 16", cfg.Gateway.ShardCount)
	}
	if cfg.Gateway.ConnectDelay != 2*time.Second {
		t.Errorf("connect delay = %v, want 2s", cfg.Gateway.ConnectDelay)
	}
	if cfg.Watchdog.AcceptableSilence != 45*time.Second {
		t.Errorf("acceptable silence = %v, want 45s", cfg.Watchdog.AcceptableSilence)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("HTTP port = %d, want 9090", cfg.HTTP.Port)
	}
	// Untouched values keep their defaults.
	if cfg.Database.Timeout != 30*time.Second {
		t.Errorf("database timeout = %v, want default 30s", cfg.Database.Timeout)
	}
}

func TestLoadFromEnv_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("SHARDGATE_SHARD_COUNT", "not-a-number")
	t.Setenv("SHARDGATE_CONNECT_DELAY", "soon")

	cfg := LoadFromEnv()
	if cfg.Gateway.ShardCount != 1 {
		t.Errorf("shard count = %d, want default 1", cfg.Gateway.ShardCount)
	}
	if cfg.Gateway.ConnectDelay != 5500*time.Millisecond {
		t.Errorf("connect delay = %v, want default 5.5s", cfg.Gateway.ConnectDelay)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `{
		"gateway": {
			"url": "wss://file.example.org",
			"token": "file-token",
			"shard_count": 8,
			"connect_delay": "6s"
		},
		"watchdog": {
			"interval": "30s",
			"acceptable_silence": "2m"
		},
		"http": {"port": 9000}
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Gateway.URL != "wss://file.example.org" {
		t.Errorf("URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.ShardCount != 8 {
		t.Errorf("shard count = %d, want 8", cfg.Gateway.ShardCount)
	}
	if cfg.Gateway.ConnectDelay != 6*time.Second {
		t.Errorf("connect delay = %v, want 6s", cfg.Gateway.ConnectDelay)
	}
	if cfg.Watchdog.AcceptableSilence != 2*time.Minute {
		t.Errorf("acceptable silence = %v, want 2m", cfg.Watchdog.AcceptableSilence)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("HTTP port = %d, want 9000", cfg.HTTP.Port)
	}
	// Sections the file omits stay at their defaults.
	if cfg.Database.Path != "./shardgate.db" {
		t.Errorf("database path = %q, want default", cfg.Database.Path)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("SHARDGATE_HTTP_PORT", "9090")

	// No file: environment wins over defaults.
	cfg := LoadConfigWithPrecedence("")
	if cfg.HTTP.Port != 9090 {
		t.Errorf("HTTP port = %d, want env 9090", cfg.HTTP.Port)
	}

	// File present: file wins.
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"http": {"port": 7070}}`), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	cfg = LoadConfigWithPrecedence(path)
	if cfg.HTTP.Port != 7070 {
		t.Errorf("HTTP port = %d, want file 7070", cfg.HTTP.Port)
	}

	// Broken file: fall back to environment.
	broken := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(broken, []byte("{"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	cfg = LoadConfigWithPrecedence(broken)
	if cfg.HTTP.Port != 9090 {
		t.Errorf("HTTP port = %d, want env 9090 after broken file", cfg.HTTP.Port)
	}
}
