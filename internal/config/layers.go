package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/timerange"
)

// LayerFile is the YAML layer and source configuration.
type LayerFile struct {
	// RefreshInterval is an ISO 8601 duration such as PT15M. It overrides
	// REFRESH_INTERVAL when set.
	RefreshInterval string                            `yaml:"refreshInterval"`
	Sources         map[string]animation.SourceConfig `yaml:"sources" validate:"dive"`
	Layers          []animation.LayerConfig           `yaml:"layers" validate:"dive"`
}

// Refresh returns RefreshInterval as a duration.
func (f *LayerFile) Refresh() (time.Duration, error) {
	d, err := timerange.ParseDuration(f.RefreshInterval)
	if err != nil {
		return 0, err
	}
	if d.Negative || d.Approx() <= 0 {
		return 0, fmt.Errorf("%q must be positive", f.RefreshInterval)
	}
	return d.Approx(), nil
}

// LoadLayerFile reads and validates the layer file at path.
func LoadLayerFile(path string) (*LayerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading layer file: %w", err)
	}
	return ParseLayerFile(data)
}

// ParseLayerFile decodes and validates a layer file. Layer ids must be
// unique and every referenced source must exist.
func ParseLayerFile(data []byte) (*LayerFile, error) {
	var f LayerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing layer file: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid layer file: %w", err)
	}

	seen := make(map[string]bool, len(f.Layers))
	for _, l := range f.Layers {
		if seen[l.ID] {
			return nil, fmt.Errorf("invalid layer file: duplicate layer id %q", l.ID)
		}
		seen[l.ID] = true
		if l.Source != "" {
			if _, ok := f.Sources[l.Source]; !ok {
				return nil, fmt.Errorf("invalid layer file: layer %q references unknown source %q", l.ID, l.Source)
			}
		}
		if l.Time != nil && l.Time.Source != "" {
			if _, ok := f.Sources[l.Time.Source]; !ok {
				return nil, fmt.Errorf("invalid layer file: layer %q takes times from unknown source %q", l.ID, l.Time.Source)
			}
		}
	}
	for _, l := range f.Layers {
		for _, ref := range []string{l.Previous, l.Next} {
			if ref != "" && !seen[ref] {
				return nil, fmt.Errorf("invalid layer file: layer %q chains to unknown layer %q", l.ID, ref)
			}
		}
	}
	return &f, nil
}
