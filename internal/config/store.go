package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultSiteKey = "default_site"

// ConfigError is raised for invalid persisted configuration state.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Store reads and writes the CLI configuration file. The file is a small
// JSON object rewritten wholesale on every change; there is no locking
// because the tool assumes single-process, non-concurrent invocation.
type Store struct {
	Path string
}

// NewStore creates a config store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the full configuration. A missing file yields an empty map.
func (s *Store) Load() (map[string]any, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &ConfigError{
			Message: fmt.Sprintf("Config file is not valid JSON: %s", s.Path),
			Err:     err,
		}
	}
	if config == nil {
		config = map[string]any{}
	}

	return config, nil
}

// Save writes the full configuration and returns the file path.
func (s *Store) Save(config map[string]any) (string, error) {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(s.Path, append(data, '\n'), 0600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return s.Path, nil
}

// SetDefaultSite stores the site used when --site is omitted.
func (s *Store) SetDefaultSite(siteURL string) (string, error) {
	siteURL = strings.TrimSpace(siteURL)
	if siteURL == "" {
		return "", &ConfigError{Message: "default-site cannot be empty"}
	}

	config, err := s.Load()
	if err != nil {
		return "", err
	}

	config[defaultSiteKey] = siteURL
	return s.Save(config)
}

// GetDefaultSite returns the configured default site, or "" when unset or
// not a usable string value.
func (s *Store) GetDefaultSite() (string, error) {
	config, err := s.Load()
	if err != nil {
		return "", err
	}

	value, ok := config[defaultSiteKey].(string)
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(value), nil
}
