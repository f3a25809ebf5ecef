// Package animation holds the models and collaborator contracts shared by the
// layer synchronization engine, the engine facade and the renderers.
package animation

import (
	"errors"

	"github.com/i474232898/weather-time-animator/internal/timeline"
)

// ErrUnsupportedLayer is returned by CreateLayer for configurations the
// renderer cannot draw.
var ErrUnsupportedLayer = errors.New("unsupported layer configuration")

// Handle is the renderer's opaque reference to a drawable layer.
type Handle any

// Renderer creates and mutates drawable layers. id is the runtime instance id
// the renderer reports back through the engine's LoadComplete once the
// layer's data for t has arrived. Time-less layers get t == 0. New layers
// start hidden.
type Renderer interface {
	CreateLayer(id string, cfg LayerConfig, t timeline.TimePoint) (Handle, error)
	UpdateLayerSource(h Handle, t timeline.TimePoint) error
	// PlaceAdjacent moves h directly next to anchor in the draw order.
	PlaceAdjacent(h, anchor Handle)
	SetVisibility(h Handle, visible bool, opacity float64)
	RemoveLayer(h Handle)
}

// RenderSignal fires after each full redraw. A registered callback fires at
// most once; cancel detaches it if it has not fired yet.
type RenderSignal interface {
	OnceRenderComplete(fn func()) (cancel func())
}
