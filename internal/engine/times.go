package engine

import (
	"log"
	"strings"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/capabilities"
	"github.com/i474232898/weather-time-animator/internal/common"
	"github.com/i474232898/weather-time-animator/internal/timeline"
	"github.com/i474232898/weather-time-animator/internal/timerange"
)

// timeSource returns the source a layer's reference times come from: the
// time config's alternate source when set, the layer's own otherwise.
func (e *Engine) timeSource(cfg animation.LayerConfig) (animation.SourceConfig, string, bool) {
	id := cfg.Source
	if cfg.Time != nil && cfg.Time.Source != "" {
		id = cfg.Time.Source
	}
	src, ok := e.sources[id]
	return src, id, ok
}

func serviceKind(cfg animation.LayerConfig, src animation.SourceConfig) string {
	return strings.ToLower(common.FirstNonEmpty(cfg.URL.Service, src.Type))
}

// capabilitiesURL returns the capability document URL backing cfg's times.
func (e *Engine) capabilitiesURL(cfg animation.LayerConfig) (string, string, bool) {
	if cfg.Time == nil || cfg.IsBase() {
		return "", "", false
	}
	src, id, ok := e.timeSource(cfg)
	if !ok {
		if id != "" {
			log.Printf("engine: layer %s references unknown source %q", cfg.ID, id)
		}
		return "", "", false
	}
	kind := serviceKind(cfg, src)
	if kind == "" || src.BaseURL() == "" {
		return "", "", false
	}
	u, err := capabilities.CapabilitiesURL(src.BaseURL(), kind, src.Capabilities)
	if err != nil {
		log.Printf("engine: layer %s: %v", cfg.ID, err)
		return "", "", false
	}
	return u, kind, true
}

func (e *Engine) capabilityRequests() []capabilities.Request {
	var reqs []capabilities.Request
	for _, cfg := range e.configs {
		if u, kind, ok := e.capabilitiesURL(cfg); ok {
			reqs = append(reqs, capabilities.Request{URL: u, Kind: kind})
		}
	}
	return reqs
}

// referenceTimes returns the times the capability document advertises for
// the layer, if it was loaded.
func (e *Engine) referenceTimes(cfg animation.LayerConfig) timeline.TimeSet {
	u, _, ok := e.capabilitiesURL(cfg)
	if !ok {
		return nil
	}
	times, ok := e.registry.LayerTimes(u, cfg.URL.LayerName())
	if !ok {
		return nil
	}
	return times
}

// layerSeries resolves one layer's own time series. Static range and data
// specs resolve against the capability times; a layer with a time block
// but no specs takes the capability times as they are.
func (e *Engine) layerSeries(cfg animation.LayerConfig) timeline.TimeSet {
	if cfg.Time == nil || cfg.IsBase() {
		return nil
	}
	tc := cfg.Time
	ref := e.referenceTimes(cfg)

	var specs []timerange.Spec
	if tc.Range != "" {
		parsed, errs := timerange.Parse(tc.Range)
		for _, err := range errs {
			log.Printf("engine: layer %s: %v", cfg.ID, err)
		}
		specs = append(specs, parsed...)
	}
	if len(tc.Data) > 0 {
		specs = append(specs, timerange.Explicit(tc.Data))
	}
	if tc.RangeOffset != "" {
		offset, err := timerange.ParseDuration(tc.RangeOffset)
		if err != nil {
			log.Printf("engine: layer %s: range offset: %v", cfg.ID, err)
		} else {
			for i := range specs {
				specs[i].Offset = offset
			}
		}
	}

	series := ref
	if len(specs) > 0 {
		series = e.resolver.Resolve(specs, ref)
	}
	if tc.Offset != 0 {
		series = series.Shift(tc.Offset)
	}
	return series
}

func (e *Engine) resolveSeries() map[string]timeline.TimeSet {
	out := make(map[string]timeline.TimeSet, len(e.configs))
	for _, cfg := range e.configs {
		if s := e.layerSeries(cfg); len(s) > 0 {
			out[cfg.ID] = s
		}
	}
	return out
}
