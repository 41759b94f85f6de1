// Package settings persists the operator's endpoint and CSV separator as a
// small YAML document.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/evalstream/internal/adapters/csvio"
	"github.com/okian/evalstream/internal/domain/types"
	"github.com/okian/evalstream/pkg/logger"
)

// Keys in the settings document.
const (
	KeyEndpointURL = "endpoint_url"
	KeySeparator   = "separator"
)

// Sentinel errors.
var (
	ErrInvalidEndpoint  = errors.New("endpoint url must be an absolute http(s) url")
	ErrInvalidSeparator = errors.New("invalid separator")
)

// Store is a file-backed settings store. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	path   string
	k      *koanf.Koanf
	logger logger.Logger
}

// Open loads path over defaults. A missing file is not an error; it is
// created on the first Set.
func Open(ctx context.Context, path string, defaults types.Settings) (*Store, error) {
	s := &Store{path: path, k: koanf.New("."), logger: logger.Get().Named("settings")}
	_ = s.k.Set(KeyEndpointURL, defaults.EndpointURL)
	_ = s.k.Set(KeySeparator, defaults.Separator)

	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug(ctx, "settings file not found, using defaults", logger.String("path", path))
		return s, nil
	}
	if err := s.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load settings %s: %w", path, err)
	}
	if err := Validate(s.get()); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

// Get returns the current settings.
func (s *Store) Get() types.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get()
}

func (s *Store) get() types.Settings {
	return types.Settings{
		EndpointURL: s.k.String(KeyEndpointURL),
		Separator:   s.k.String(KeySeparator),
	}
}

// Set validates and persists next. Empty fields keep their current value.
func (s *Store) Set(ctx context.Context, next types.Settings) (types.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.get()
	if v := strings.TrimSpace(next.EndpointURL); v != "" {
		merged.EndpointURL = strings.TrimRight(v, "/")
	}
	if next.Separator != "" {
		merged.Separator = next.Separator
	}
	if err := Validate(merged); err != nil {
		return s.get(), err
	}

	prevEndpoint, prevSeparator := s.k.String(KeyEndpointURL), s.k.String(KeySeparator)
	_ = s.k.Set(KeyEndpointURL, merged.EndpointURL)
	_ = s.k.Set(KeySeparator, merged.Separator)

	if err := s.persist(); err != nil {
		_ = s.k.Set(KeyEndpointURL, prevEndpoint)
		_ = s.k.Set(KeySeparator, prevSeparator)
		return s.get(), err
	}
	s.logger.Info(ctx, "settings saved",
		logger.String("endpoint_url", merged.EndpointURL),
		logger.String("separator", merged.Separator),
	)
	return merged, nil
}

// Marshal renders the current settings as YAML.
func (s *Store) Marshal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.k.Marshal(yaml.Parser())
}

// Separator returns the configured separator rune.
func (s *Store) Separator() rune {
	r, err := csvio.ParseSeparator(s.Get().Separator)
	if err != nil {
		return ','
	}
	return r
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	raw, err := s.k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Validate checks an endpoint and separator pair.
func Validate(v types.Settings) error {
	u, err := url.Parse(v.EndpointURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, v.EndpointURL)
	}
	if _, err := csvio.ParseSeparator(v.Separator); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSeparator, err)
	}
	return nil
}
