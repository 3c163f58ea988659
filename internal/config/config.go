package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration of the gateway controller.
type Config struct {
	Gateway  *GatewayConfig  `json:"gateway"`
	Watchdog *WatchdogConfig `json:"watchdog"`
	Database *DatabaseConfig `json:"database"`
	HTTP     *HTTPConfig     `json:"http"`
}

// GatewayConfig drives the shard fleet and the admission controller.
type GatewayConfig struct {
	URL        string `json:"url"`
	Token      string `json:"token"`
	ShardCount int    `json:"shard_count"`

	// ConnectDelay is the minimum spacing between session establishments,
	// enforced by the admission controller.
	ConnectDelay time.Duration `json:"connect_delay"`

	// ReconnectSpacing is the extra pause the reconnect worker takes
	// between consecutive entries of its queue.
	ReconnectSpacing time.Duration `json:"reconnect_spacing"`

	HandshakeTimeout time.Duration `json:"handshake_timeout"`
}

// WatchdogConfig tunes dead-session detection.
type WatchdogConfig struct {
	Interval time.Duration `json:"interval"`

	// AcceptableSilence of zero means pick automatically from the shard
	// count; see SilenceFor.
	AcceptableSilence time.Duration `json:"acceptable_silence"`

	MinEvents int64 `json:"min_events"`
}

// SilenceFor resolves the acceptable-silence threshold for a fleet. A
// multi-shard fleet sees constant traffic, so silence means death quickly; a
// single shard may legitimately idle much longer.
func (w *WatchdogConfig) SilenceFor(shardCount int) time.Duration {
	if w.AcceptableSilence > 0 {
		return w.AcceptableSilence
	}
	if shardCount > 1 {
		return 30 * time.Second
	}
	return 10 * time.Minute
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// DefaultConfig returns production defaults. The gateway token has no sane
// default and must come from the environment or a config file.
func DefaultConfig() *Config {
	return &Config{
		Gateway: &GatewayConfig{
			URL:              "",
			Token:            "",
			ShardCount:       1,
			ConnectDelay:     5500 * time.Millisecond,
			ReconnectSpacing: 5 * time.Second,
			HandshakeTimeout: 30 * time.Second,
		},
		Watchdog: &WatchdogConfig{
			Interval:  10 * time.Second,
			MinEvents: 100,
		},
		Database: &DatabaseConfig{
			Path:    "./shardgate.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Gateway == nil {
		return fmt.Errorf("gateway configuration is required")
	}

	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway URL cannot be empty")
	}

	if c.Gateway.Token == "" {
		return fmt.Errorf("gateway token cannot be empty")
	}

	if c.Gateway.ShardCount <= 0 {
		return fmt.Errorf("shard count must be positive")
	}

	if c.Gateway.ConnectDelay <= 0 {
		return fmt.Errorf("connect delay must be positive")
	}

	if c.Gateway.ReconnectSpacing < 0 {
		return fmt.Errorf("reconnect spacing cannot be negative")
	}

	if c.Gateway.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive")
	}

	if c.Watchdog == nil {
		return fmt.Errorf("watchdog configuration is required")
	}

	if c.Watchdog.Interval <= 0 {
		return fmt.Errorf("watchdog interval must be positive")
	}

	if c.Watchdog.AcceptableSilence < 0 {
		return fmt.Errorf("acceptable silence cannot be negative")
	}

	if c.Watchdog.MinEvents < 0 {
		return fmt.Errorf("watchdog minimum event count cannot be negative")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}

	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	return nil
}

// LoadFromEnv overlays SHARDGATE_* environment variables onto the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if url := os.Getenv("SHARDGATE_GATEWAY_URL"); url != "" {
		config.Gateway.URL = url
	}

	if token := os.Getenv("SHARDGATE_GATEWAY_TOKEN"); token != "" {
		config.Gateway.Token = token
	}

	if count := os.Getenv("SHARDGATE_SHARD_COUNT"); count != "" {
		if n, err := strconv.Atoi(count); err == nil {
			config.Gateway.ShardCount = n
		}
	}

	if delay := os.Getenv("SHARDGATE_CONNECT_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Gateway.ConnectDelay = d
		}
	}

	if spacing := os.Getenv("SHARDGATE_RECONNECT_SPACING"); spacing != "" {
		if d, err := time.ParseDuration(spacing); err == nil {
			config.Gateway.ReconnectSpacing = d
		}
	}

	if timeout := os.Getenv("SHARDGATE_HANDSHAKE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Gateway.HandshakeTimeout = d
		}
	}

	if interval := os.Getenv("SHARDGATE_WATCHDOG_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Watchdog.Interval = d
		}
	}

	if silence := os.Getenv("SHARDGATE_WATCHDOG_SILENCE"); silence != "" {
		if d, err := time.ParseDuration(silence); err == nil {
			config.Watchdog.AcceptableSilence = d
		}
	}

	if minEvents := os.Getenv("SHARDGATE_WATCHDOG_MIN_EVENTS"); minEvents != "" {
		if n, err := strconv.ParseInt(minEvents, 10, 64); err == nil {
			config.Watchdog.MinEvents = n
		}
	}

	if dbPath := os.Getenv("SHARDGATE_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}

	if dbTimeout := os.Getenv("SHARDGATE_DATABASE_TIMEOUT"); dbTimeout != "" {
		if d, err := time.ParseDuration(dbTimeout); err == nil {
			config.Database.Timeout = d
		}
	}

	if port := os.Getenv("SHARDGATE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("SHARDGATE_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	return config
}

// ConfigFile is the JSON shape of a config file. Durations are strings so
// files can say "5.5s" instead of nanosecond counts.
type ConfigFile struct {
	Gateway  *GatewayConfigFile  `json:"gateway"`
	Watchdog *WatchdogConfigFile `json:"watchdog"`
	Database *DatabaseConfigFile `json:"database"`
	HTTP     *HTTPConfigFile     `json:"http"`
}

type GatewayConfigFile struct {
	URL              string `json:"url"`
	Token            string `json:"token"`
	ShardCount       int    `json:"shard_count"`
	ConnectDelay     string `json:"connect_delay"`
	ReconnectSpacing string `json:"reconnect_spacing"`
	HandshakeTimeout string `json:"handshake_timeout"`
}

type WatchdogConfigFile struct {
	Interval          string `json:"interval"`
	AcceptableSilence string `json:"acceptable_silence"`
	MinEvents         int64  `json:"min_events"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

// LoadFromFile reads a JSON config file on top of the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Gateway != nil {
		if configFile.Gateway.URL != "" {
			config.Gateway.URL = configFile.Gateway.URL
		}
		if configFile.Gateway.Token != "" {
			config.Gateway.Token = configFile.Gateway.Token
		}
		if configFile.Gateway.ShardCount > 0 {
			config.Gateway.ShardCount = configFile.Gateway.ShardCount
		}
		if configFile.Gateway.ConnectDelay != "" {
			if d, err := time.ParseDuration(configFile.Gateway.ConnectDelay); err == nil {
				config.Gateway.ConnectDelay = d
			}
		}
		if configFile.Gateway.ReconnectSpacing != "" {
			if d, err := time.ParseDuration(configFile.Gateway.ReconnectSpacing); err == nil {
				config.Gateway.ReconnectSpacing = d
			}
		}
		if configFile.Gateway.HandshakeTimeout != "" {
			if d, err := time.ParseDuration(configFile.Gateway.HandshakeTimeout); err == nil {
				config.Gateway.HandshakeTimeout = d
			}
		}
	}

	if configFile.Watchdog != nil {
		if configFile.Watchdog.Interval != "" {
			if d, err := time.ParseDuration(configFile.Watchdog.Interval); err == nil {
				config.Watchdog.Interval = d
			}
		}
		if configFile.Watchdog.AcceptableSilence != "" {
			if d, err := time.ParseDuration(configFile.Watchdog.AcceptableSilence); err == nil {
				config.Watchdog.AcceptableSilence = d
			}
		}
		if configFile.Watchdog.MinEvents > 0 {
			config.Watchdog.MinEvents = configFile.Watchdog.MinEvents
		}
	}

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if configFile.Database.Timeout != "" {
			if d, err := time.ParseDuration(configFile.Database.Timeout); err == nil {
				config.Database.Timeout = d
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if d, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = d
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if d, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = d
			}
		}
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. Validation is the caller's job: a partial environment is fine
// during composition.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
		// A broken file falls back to environment and defaults.
	}

	return config
}
