// Package config loads client configuration from standard locations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the endpoints and timeouts for one server connection.
type Config struct {
	// BaseURL is the scheme+host of the server, without port or path.
	BaseURL string `toml:"base_url"`

	// Port is the server port.
	Port int `toml:"port"`

	// StreamPath is the SSE stream endpoint path.
	StreamPath string `toml:"stream_path"`

	// MessagesPath is the POST side-channel endpoint path.
	MessagesPath string `toml:"messages_path"`

	// RequestTimeout bounds the wait for each response on the stream.
	RequestTimeout time.Duration `toml:"request_timeout"`

	// SessionWait bounds the wait for the session token at startup.
	SessionWait time.Duration `toml:"session_wait"`

	// HTTPTimeout applies to side-channel POSTs. The stream GET is
	// long-lived and never subject to it.
	HTTPTimeout time.Duration `toml:"http_timeout"`
}

// Default returns the configuration for a local server on the usual port.
func Default() Config {
	return Config{
		BaseURL:        "http://127.0.0.1",
		Port:           8000,
		StreamPath:     "/sse",
		MessagesPath:   "/messages/",
		RequestTimeout: 8 * time.Second,
		SessionWait:    5 * time.Second,
		HTTPTimeout:    15 * time.Second,
	}
}

// StreamURL returns the full URL of the SSE stream endpoint.
func (c Config) StreamURL() string {
	return fmt.Sprintf("%s:%d%s", c.BaseURL, c.Port, c.StreamPath)
}

// MessagesURL returns the full URL of the POST side channel, without the
// session query parameter.
func (c Config) MessagesURL() string {
	return fmt.Sprintf("%s:%d%s", c.BaseURL, c.Port, c.MessagesPath)
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must start with http:// or https://, got %q", c.BaseURL)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if !strings.HasPrefix(c.StreamPath, "/") {
		return fmt.Errorf("stream_path must start with /, got %q", c.StreamPath)
	}
	if !strings.HasPrefix(c.MessagesPath, "/") {
		return fmt.Errorf("messages_path must start with /, got %q", c.MessagesPath)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout)
	}
	if c.SessionWait <= 0 {
		return fmt.Errorf("session_wait must be positive, got %v", c.SessionWait)
	}
	return nil
}

// StandardPaths returns the standard config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"mcpscout.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcpscout", "mcpscout.toml"))
	}

	return paths
}

// Load loads configuration from the first available standard location.
// A missing config file is not an error; defaults are returned.
func Load() (Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			if err != nil {
				return Config{}, path, err
			}
			return cfg, path, nil
		}
	}
	return Default(), "", nil
}

// LoadFile loads configuration from a specific file, with defaults filled in
// for fields the file omits.
func LoadFile(path string) (Config, error) {
	raw := struct {
		BaseURL        string `toml:"base_url"`
		Port           int    `toml:"port"`
		StreamPath     string `toml:"stream_path"`
		MessagesPath   string `toml:"messages_path"`
		RequestTimeout string `toml:"request_timeout"`
		SessionWait    string `toml:"session_wait"`
		HTTPTimeout    string `toml:"http_timeout"`
	}{}

	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg := Default()
	if raw.BaseURL != "" {
		cfg.BaseURL = raw.BaseURL
	}
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if raw.StreamPath != "" {
		cfg.StreamPath = raw.StreamPath
	}
	if raw.MessagesPath != "" {
		cfg.MessagesPath = raw.MessagesPath
	}

	for _, d := range []struct {
		value string
		field string
		dst   *time.Duration
	}{
		{raw.RequestTimeout, "request_timeout", &cfg.RequestTimeout},
		{raw.SessionWait, "session_wait", &cfg.SessionWait},
		{raw.HTTPTimeout, "http_timeout", &cfg.HTTPTimeout},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %s %q: %w", d.field, d.value, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
