// Package config reads and writes the global ~/.chatsync/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	Server         ServerConfig  `toml:"server"`
	Sync           SyncConfig    `toml:"sync"`
	Metrics        MetricsConfig `toml:"metrics"`
}

// ServerConfig locates the chat backend.
type ServerConfig struct {
	// BaseURL is the http(s) origin of the backend. The websocket URL is
	// derived from it by swapping the scheme.
	BaseURL string `toml:"base_url"`
	// WSPath is the websocket endpoint path on the same host.
	WSPath string `toml:"ws_path"`
}

// SyncConfig tunes the connection session.
type SyncConfig struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	ReconnectMaxDelay Duration `toml:"reconnect_max_delay"`
}

// MetricsConfig controls the local Prometheus listener. An empty address
// disables it.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Default returns the built-in configuration. The 25s heartbeat and 5s
// reconnect delay match the backend's expectations.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Server: ServerConfig{
			BaseURL: "http://localhost:5005",
			WSPath:  "/ws",
		},
		Sync: SyncConfig{
			HeartbeatInterval: Duration(25 * time.Second),
			ReconnectDelay:    Duration(5 * time.Second),
			ReconnectMaxDelay: Duration(2 * time.Minute),
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9109",
		},
	}
}

// Load reads config from the given path, filling unset fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Duration is a time.Duration that round-trips through TOML as a string
// like "25s".
type Duration time.Duration

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
