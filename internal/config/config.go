package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/timerange"
)

const defaultConfigPath = "animator.yaml"

type AppConfig struct {
	Port string

	// ConfigPath is the YAML file holding sources and layers.
	ConfigPath string

	// RefreshInterval controls how often capabilities are reloaded.
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration

	// Playback defaults.
	FrameRate       time.Duration
	LoopPeriodDelay time.Duration
	DelayLoop       bool
	RenderTimeout   time.Duration // 0 waits for the renderer indefinitely

	CapabilitiesDB string // empty keeps the cache in memory
	StatusFile     string // empty disables the status file
	LoadDelay      time.Duration

	// MaxTimePoints caps how many points one range clause may expand to.
	MaxTimePoints int

	Sources map[string]animation.SourceConfig
	Layers  []animation.LayerConfig
}

// Load reads configuration from environment with sensible defaults, then
// the layer file it points to.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	file, err := LoadLayerFile(cfg.ConfigPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && os.Getenv("ANIMATOR_CONFIG") == "":
		log.Printf("INFO: no layer file at %s, starting without layers", cfg.ConfigPath)
		return cfg, nil
	case err != nil:
		return nil, err
	}
	if err := cfg.apply(file); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:       getenvDefault("PORT", "8080"),
		ConfigPath: getenvDefault("ANIMATOR_CONFIG", defaultConfigPath),

		CapabilitiesDB: os.Getenv("CAPABILITIES_DB"),
		StatusFile:     os.Getenv("STATUS_FILE"),
		DelayLoop:      getenvBool("DELAY_LOOP", true),
		MaxTimePoints:  getenvInt("MAX_TIME_POINTS", timerange.DefaultMaxPoints),
		Sources:        map[string]animation.SourceConfig{},
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"REFRESH_INTERVAL", "15m", &cfg.RefreshInterval},
		{"HTTP_TIMEOUT", "20s", &cfg.HTTPTimeout},
		{"FRAME_RATE", "500ms", &cfg.FrameRate},
		{"LOOP_PERIOD_DELAY", "1s", &cfg.LoopPeriodDelay},
		{"RENDER_TIMEOUT", "0s", &cfg.RenderTimeout},
		{"LOAD_DELAY", "0s", &cfg.LoadDelay},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", d.key)
		}
		*d.dst = v
	}
	return cfg, nil
}

func (c *AppConfig) apply(f *LayerFile) error {
	if f.RefreshInterval != "" {
		d, err := f.Refresh()
		if err != nil {
			return fmt.Errorf("invalid refreshInterval: %w", err)
		}
		c.RefreshInterval = d
	}
	if f.Sources != nil {
		c.Sources = f.Sources
	}
	c.Layers = f.Layers
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		log.Printf("INFO: ignoring %s=%q, not a boolean", key, v)
	}
	return def
}
