package preset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gsc/internal/analytics"
)

const presetFileExt = ".yaml"

// Valid preset names: alphanumeric, underscores, hyphens only.
var validPresetName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// QueryPreset is a saved set of analytics query parameters.
type QueryPreset struct {
	Name            string    `yaml:"name"`
	Site            string    `yaml:"site,omitempty"`
	StartDate       string    `yaml:"start_date"`
	EndDate         string    `yaml:"end_date"`
	Dimensions      []string  `yaml:"dimensions,omitempty"`
	Type            string    `yaml:"type"`
	AggregationType string    `yaml:"aggregation_type"`
	RowLimit        int       `yaml:"row_limit"`
	StartRow        int       `yaml:"start_row"`
	DataState       string    `yaml:"data_state"`
	Filters         []string  `yaml:"filters,omitempty"`
	CreatedAt       time.Time `yaml:"created_at"`
	UpdatedAt       time.Time `yaml:"updated_at"`
}

// Params returns the preset's query parameters in builder form.
func (p *QueryPreset) Params() analytics.Params {
	return analytics.Params{
		StartDate:       p.StartDate,
		EndDate:         p.EndDate,
		Dimensions:      append([]string(nil), p.Dimensions...),
		Type:            p.Type,
		AggregationType: p.AggregationType,
		RowLimit:        p.RowLimit,
		StartRow:        p.StartRow,
		DataState:       p.DataState,
		Filters:         append([]string(nil), p.Filters...),
	}
}

// Manager reads and writes query presets under a single directory, one
// YAML file per preset.
type Manager struct {
	Dir string
}

// NewManager creates a preset manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{Dir: dir}
}

// IsValidName validates a preset name.
func IsValidName(name string) bool {
	if name == "" || len(name) > 50 {
		return false
	}
	return validPresetName.MatchString(name)
}

// Path returns the file path for a preset name.
func (m *Manager) Path(name string) (string, error) {
	if !IsValidName(name) {
		return "", fmt.Errorf("invalid preset name '%s': use only letters, numbers, underscores, and hyphens (max 50 chars)", name)
	}
	return filepath.Join(m.Dir, name+presetFileExt), nil
}

// Load reads one preset by name.
func (m *Manager) Load(name string) (*QueryPreset, error) {
	path, err := m.Path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("preset '%s' does not exist", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}

	var preset QueryPreset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("failed to parse preset file %s: %w", path, err)
	}

	return &preset, nil
}

// Save writes a preset, overwriting any existing file of the same name.
func (m *Manager) Save(preset *QueryPreset) (string, error) {
	path, err := m.Path(preset.Name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(m.Dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create presets directory: %w", err)
	}

	now := time.Now()
	if preset.CreatedAt.IsZero() {
		preset.CreatedAt = now
	}
	preset.UpdatedAt = now

	data, err := yaml.Marshal(preset)
	if err != nil {
		return "", fmt.Errorf("failed to marshal preset: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write preset file: %w", err)
	}

	return path, nil
}

// Delete removes a preset file.
func (m *Manager) Delete(name string) error {
	path, err := m.Path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("preset '%s' does not exist", name)
		}
		return fmt.Errorf("failed to delete preset file: %w", err)
	}

	return nil
}

// List returns all readable presets sorted by name. Corrupted preset
// files are skipped; loading one directly still reports the parse error.
func (m *Manager) List() ([]QueryPreset, error) {
	entries, err := os.ReadDir(m.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read presets directory: %w", err)
	}

	var presets []QueryPreset
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), presetFileExt) {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), presetFileExt)
		preset, err := m.Load(name)
		if err != nil {
			continue
		}
		presets = append(presets, *preset)
	}

	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets, nil
}
