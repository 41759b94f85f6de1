package stream

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults for interactive use.
const (
	DefaultConnectTimeout       = 30 * time.Second
	DefaultReconnectDelay       = 2 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultInactivityTimeout    = 30 * time.Second
	DefaultCloseDelay           = time.Second
	DefaultInboxSize            = 256
	DefaultDedupeSize           = 4096

	backgroundTimeout = 10 * time.Second
)

// Config controls connection lifecycle timing.
type Config struct {
	// BaseURL is the evaluation API root; the stream lives at
	// <BaseURL>/stream/<jobID>.
	BaseURL string

	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is how many automatic reconnects are tried after a
	// failure before the stream closes with ErrReconnectExhausted.
	MaxReconnectAttempts int
	// InactivityTimeout raises a warning when nothing arrives for this long.
	// Zero disables the check.
	InactivityTimeout time.Duration
	// CloseDelay is how long the client stays open after a complete event.
	// Zero closes immediately.
	CloseDelay time.Duration

	InboxSize  int
	DedupeSize int
}

// DefaultConfig returns the interactive defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:              baseURL,
		ConnectTimeout:       DefaultConnectTimeout,
		ReconnectDelay:       DefaultReconnectDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		InactivityTimeout:    DefaultInactivityTimeout,
		CloseDelay:           DefaultCloseDelay,
		InboxSize:            DefaultInboxSize,
		DedupeSize:           DefaultDedupeSize,
	}
}

// BackgroundConfig is DefaultConfig with shorter timeouts for unattended runs.
func BackgroundConfig(baseURL string) Config {
	cfg := DefaultConfig(baseURL)
	cfg.ConnectTimeout = backgroundTimeout
	cfg.InactivityTimeout = backgroundTimeout
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	if c.ReconnectDelay < 0 || c.InactivityTimeout < 0 || c.CloseDelay < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max reconnect attempts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// StreamURL derives the stream endpoint for a job.
func StreamURL(baseURL, jobID string) string {
	return strings.TrimRight(baseURL, "/") + "/stream/" + url.PathEscape(jobID)
}
