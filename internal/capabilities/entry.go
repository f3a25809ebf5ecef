// Package capabilities discovers the time extents that remote map services
// advertise in their capability documents and keeps them cached per service
// URL, one refresh pass at a time.
package capabilities

import (
	"errors"
	"fmt"

	"github.com/i474232898/weather-time-animator/internal/timeline"
)

var (
	// ErrNotFound is returned when no entry is cached for a URL.
	ErrNotFound = errors.New("no capabilities for url")
	// ErrUnsupportedKind is returned when no parser handles a service kind.
	ErrUnsupportedKind = errors.New("unsupported service kind")
)

// FetchError wraps a network or HTTP failure for one service URL.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch capabilities %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError wraps a malformed capability document.
type ParseError struct {
	URL  string
	Kind string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s capabilities %s: %v", e.Kind, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LayerInfo is one layer advertised by a service.
type LayerInfo struct {
	Name          string           `json:"name"`
	Title         string           `json:"title,omitempty"`
	TimeDimension string           `json:"timeDimension,omitempty"`
	DefaultTime   string           `json:"defaultTime,omitempty"`
	Times         timeline.TimeSet `json:"times,omitempty"`
}

// Document is the parsed, kind-independent view of a capability document.
type Document struct {
	Kind    string      `json:"kind"`
	Version string      `json:"version,omitempty"`
	Layers  []LayerInfo `json:"layers"`
}

// Layer looks a layer up by name.
func (d *Document) Layer(name string) (LayerInfo, bool) {
	if d == nil {
		return LayerInfo{}, false
	}
	for _, l := range d.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return LayerInfo{}, false
}

// Extent returns the min and max time over every layer's time dimension.
func (d *Document) Extent() (start, end timeline.TimePoint, ok bool) {
	if d == nil {
		return 0, 0, false
	}
	for _, l := range d.Layers {
		first, hasFirst := l.Times.First()
		last, _ := l.Times.Last()
		if !hasFirst {
			continue
		}
		if !ok || first < start {
			start = first
		}
		if !ok || last > end {
			end = last
		}
		ok = true
	}
	return start, end, ok
}

// Entry is one cached capability document.
type Entry struct {
	URL             string              `json:"url"`
	Kind            string              `json:"kind"`
	UpdatedAt       int64               `json:"updatedAt"`
	TimeExtentStart *timeline.TimePoint `json:"timeExtentStart,omitempty"`
	TimeExtentEnd   *timeline.TimePoint `json:"timeExtentEnd,omitempty"`
	Document        *Document           `json:"document,omitempty"`
}

// Request names a service whose capabilities a refresh pass should load.
type Request struct {
	URL  string
	Kind string
}

// Store is the contract capability caches must satisfy.
type Store interface {
	Put(e Entry) error
	Get(url string) (Entry, error)
	// Purge removes every entry whose UpdatedAt differs from stamp and
	// returns how many were removed.
	Purge(stamp int64) (int, error)
	List() ([]Entry, error)
}
