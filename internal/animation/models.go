package animation

import (
	"strings"
)

// SourceConfig describes a tile/image service shared by one or more layers.
type SourceConfig struct {
	Type         string   `json:"type" yaml:"type"`
	Tiles        []string `json:"tiles" yaml:"tiles" validate:"required,min=1,dive,required"`
	Capabilities string   `json:"capabilities,omitempty" yaml:"capabilities"`
}

// BaseURL returns the first tile URL, which is the service root.
func (s SourceConfig) BaseURL() string {
	if len(s.Tiles) == 0 {
		return ""
	}
	return s.Tiles[0]
}

// ServiceConfig names the OGC service and layer(s) a map layer draws.
type ServiceConfig struct {
	Service string `json:"service,omitempty" yaml:"service"`
	Layer   string `json:"layer,omitempty" yaml:"layer"`
	Layers  string `json:"layers,omitempty" yaml:"layers"`
}

// LayerName returns the service layer name, whichever key carries it.
func (s ServiceConfig) LayerName() string {
	if s.Layer != "" {
		return s.Layer
	}
	return s.Layers
}

// TimeConfig tells a layer where its valid times come from.
type TimeConfig struct {
	// Range is a time range specification, clauses joined with AND.
	Range string `json:"range,omitempty" yaml:"range"`
	// Data is an explicit list of instants.
	Data []string `json:"data,omitempty" yaml:"data"`
	// Source is an alternate source id whose capabilities supply the
	// reference times for count placeholders.
	Source string `json:"source,omitempty" yaml:"source"`
	// Offset in milliseconds, added to every resolved time.
	Offset int64 `json:"offset,omitempty" yaml:"offset"`
	// RangeOffset is an ISO 8601 duration applied to recurrence anchors.
	RangeOffset string `json:"rangeOffset,omitempty" yaml:"rangeOffset"`
}

// LayerConfig is one logical map layer.
type LayerConfig struct {
	ID       string            `json:"id" yaml:"id" validate:"required"`
	Source   string            `json:"source,omitempty" yaml:"source"`
	Type     string            `json:"type,omitempty" yaml:"type"`
	URL      ServiceConfig     `json:"url,omitempty" yaml:"url"`
	Opacity  *float64          `json:"opacity,omitempty" yaml:"opacity" validate:"omitempty,gte=0,lte=1"`
	Visible  *bool             `json:"visible,omitempty" yaml:"visible"`
	Previous string            `json:"previous,omitempty" yaml:"previous"`
	Next     string            `json:"next,omitempty" yaml:"next"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata"`
	Time     *TimeConfig       `json:"time,omitempty" yaml:"time"`
}

// IsBase reports whether the layer is a base map, which never follows the
// animation clock.
func (l LayerConfig) IsBase() bool {
	return strings.EqualFold(l.Metadata["type"], "base")
}

// InitialOpacity returns the configured opacity or 1.
func (l LayerConfig) InitialOpacity() float64 {
	if l.Opacity == nil {
		return 1
	}
	return *l.Opacity
}

// InitiallyVisible returns the configured visibility or true.
func (l LayerConfig) InitiallyVisible() bool {
	if l.Visible == nil {
		return true
	}
	return *l.Visible
}

// TimeStatus is the load state of one time point.
type TimeStatus string

const (
	StatusUnknown TimeStatus = "unknown"
	StatusLoading TimeStatus = "loading"
	StatusLoaded  TimeStatus = "loaded"
)

// StatusEntry is the status of one time point on the axis.
type StatusEntry struct {
	Time    int64      `json:"time"`
	ISO     string     `json:"iso"`
	Status  TimeStatus `json:"status"`
	Visible bool       `json:"visible"`
}

// PlayOptions overrides the playback delays. Zero values keep the
// configured defaults.
type PlayOptions struct {
	StepDelayMs       int64 `json:"stepDelayMs" validate:"gte=0"`
	LoopPeriodDelayMs int64 `json:"loopPeriodDelayMs" validate:"gte=0"`
}
