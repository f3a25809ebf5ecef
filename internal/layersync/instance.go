// Package layersync keeps, for every time-driven logical layer, one primary
// drawable instance bound to the clock's current time plus up to two hidden
// instances pre-fetched for the neighbouring times.
package layersync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/timeline"
)

// MaxInstances bounds the runtime instances of one logical layer.
const MaxInstances = 3

// Role is the part an instance plays for its logical layer.
type Role int

const (
	// RoleNone marks a parked instance: hidden, kept for reuse.
	RoleNone Role = iota
	RolePrimary
	RoleBufferedPrevious
	RoleBufferedNext
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleBufferedPrevious:
		return "bufferedPrevious"
	case RoleBufferedNext:
		return "bufferedNext"
	default:
		return "parked"
	}
}

// MarshalText renders the role by name.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Instance is one drawable layer bound to a time point.
type Instance struct {
	ID        string             `json:"id"`
	LogicalID string             `json:"logicalId"`
	Role      Role               `json:"role"`
	Time      timeline.TimePoint `json:"time"`
	Visible   bool               `json:"visible"`
	Opacity   float64            `json:"opacity"`
	Loaded    bool               `json:"loaded"`
	Handle    animation.Handle   `json:"-"`
}

// Frame is the clock position a sync pass aligns the layers to. Previous and
// Next are the visible neighbours of Current.
type Frame struct {
	Current     timeline.TimePoint
	HasCurrent  bool
	Previous    timeline.TimePoint
	HasPrevious bool
	Next        timeline.TimePoint
	HasNext     bool
}

// LayerSnapshot describes one logical layer.
type LayerSnapshot struct {
	ID        string     `json:"id"`
	Visible   bool       `json:"visible"`
	Timed     bool       `json:"timed"`
	InWindow  bool       `json:"inWindow"`
	Times     int        `json:"times"`
	Instances []Instance `json:"instances"`
}

var (
	creations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "animator",
		Subsystem: "layersync",
		Name:      "creations_total",
		Help:      "Drawable layer instances created.",
	})
	updates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "animator",
		Subsystem: "layersync",
		Name:      "source_updates_total",
		Help:      "In-place source updates of existing instances.",
	})
	swaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "animator",
		Subsystem: "layersync",
		Name:      "role_swaps_total",
		Help:      "Buffered instances promoted to primary without reloading.",
	})
	creationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "animator",
		Subsystem: "layersync",
		Name:      "creation_failures_total",
		Help:      "Layer creations the renderer refused.",
	})
)
