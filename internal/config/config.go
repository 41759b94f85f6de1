// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Durations are plain millisecond integers so env and YAML agree.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/okian/evalstream/internal/stream"
)

// Stream timing profiles.
const (
	ProfileInteractive = "interactive"
	ProfileBackground  = "background"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// EndpointURL is the default evaluation API root. Persisted settings
	// override it.
	EndpointURL string `koanf:"endpoint_url"`

	// Separator is the default CSV delimiter.
	Separator string `koanf:"separator"`

	// SettingsPath is the YAML file holding user settings.
	SettingsPath string `koanf:"settings_path"`

	// StreamProfile picks the default stream timings: interactive or
	// background. Explicit *_ms keys still win.
	StreamProfile string `koanf:"stream_profile"`

	ConnectTimeoutMS     int `koanf:"connect_timeout_ms"`
	ReconnectDelayMS     int `koanf:"reconnect_delay_ms"`
	MaxReconnectAttempts int `koanf:"max_reconnect_attempts"`
	InactivityTimeoutMS  int `koanf:"inactivity_timeout_ms"`
	CloseDelayMS         int `koanf:"close_delay_ms"`
	SubmitTimeoutMS      int `koanf:"submit_timeout_ms"`

	// InboxSize bounds the stream dispatcher queue.
	InboxSize int `koanf:"inbox_size"`

	// DedupeSize is how many event ids are remembered for replay detection.
	DedupeSize int `koanf:"dedupe_size"`

	// RateWindow is the number of progress samples behind the rate estimate.
	RateWindow int `koanf:"rate_window"`

	// MaxPageSize caps GET /api/v1/rows?limit.
	MaxPageSize int `koanf:"max_page_size"`

	// CORSAllowedOrigins is a comma-separated origin list.
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`
}

// New creates a Config populated with defaults.
func New(_ context.Context) *Config {
	c := &Config{
		LogLevel:           "info",
		Addr:               ":9080",
		EndpointURL:        "http://localhost:8000",
		Separator:          ",",
		SettingsPath:       "evalstream-settings.yaml",
		StreamProfile:      ProfileInteractive,
		SubmitTimeoutMS:    60_000,
		RateWindow:         5,
		MaxPageSize:        1000,
		CORSAllowedOrigins: "*",
	}
	c.useStreamDefaults(stream.DefaultConfig(""))
	return c
}

// useStreamDefaults copies the stream timings and sizes of sc.
func (c *Config) useStreamDefaults(sc stream.Config) {
	c.ConnectTimeoutMS = int(sc.ConnectTimeout / time.Millisecond)
	c.ReconnectDelayMS = int(sc.ReconnectDelay / time.Millisecond)
	c.MaxReconnectAttempts = sc.MaxReconnectAttempts
	c.InactivityTimeoutMS = int(sc.InactivityTimeout / time.Millisecond)
	c.CloseDelayMS = int(sc.CloseDelay / time.Millisecond)
	c.InboxSize = sc.InboxSize
	c.DedupeSize = sc.DedupeSize
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StreamProfile != ProfileInteractive && c.StreamProfile != ProfileBackground:
		return fmt.Errorf("%w: stream_profile must be %q or %q", ErrInvalidConfig, ProfileInteractive, ProfileBackground)
	case c.MaxReconnectAttempts < 0:
		return fmt.Errorf("%w: max_reconnect_attempts must not be negative", ErrInvalidConfig)
	case c.ConnectTimeoutMS <= 0:
		return fmt.Errorf("%w: connect_timeout_ms must be positive", ErrInvalidConfig)
	case c.ReconnectDelayMS < 0 || c.InactivityTimeoutMS < 0 || c.CloseDelayMS < 0 || c.SubmitTimeoutMS < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	case c.Separator != `\t` && utf8.RuneCountInString(c.Separator) != 1:
		return fmt.Errorf("%w: separator must be a single character", ErrInvalidConfig)
	case c.RateWindow < 2:
		return fmt.Errorf("%w: rate_window must be at least 2", ErrInvalidConfig)
	case c.MaxPageSize <= 0:
		return fmt.Errorf("%w: max_page_size must be positive", ErrInvalidConfig)
	}
	return nil
}

// StreamConfig converts the timing fields. BaseURL is left empty; it is set
// per job.
func (c *Config) StreamConfig() stream.Config {
	return stream.Config{
		ConnectTimeout:       ms(c.ConnectTimeoutMS),
		ReconnectDelay:       ms(c.ReconnectDelayMS),
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		InactivityTimeout:    ms(c.InactivityTimeoutMS),
		CloseDelay:           ms(c.CloseDelayMS),
		InboxSize:            c.InboxSize,
		DedupeSize:           c.DedupeSize,
	}
}

// SubmitTimeout returns the job submission deadline.
func (c *Config) SubmitTimeout() time.Duration { return ms(c.SubmitTimeoutMS) }

// Origins splits CORSAllowedOrigins.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
