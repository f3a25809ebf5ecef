// Package headless implements a renderer without a display. It keeps the
// drawable layers in memory, simulates data loading and reports render
// completion, which lets the engine run as a server.
package headless

import (
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/timeline"
)

var ErrClosed = errors.New("renderer closed")

// LoadHandler receives load completions. It is called without the renderer's
// lock held and must not block.
type LoadHandler func(instanceID string, t timeline.TimePoint)

type layer struct {
	id      string
	cfg     animation.LayerConfig
	time    timeline.TimePoint
	visible bool
	opacity float64
	loading bool
	removed bool
	timer   *time.Timer
}

// LayerState is a copy of one drawable layer.
type LayerState struct {
	ID      string             `json:"id"`
	LayerID string             `json:"layerId"`
	Time    timeline.TimePoint `json:"time"`
	Visible bool               `json:"visible"`
	Opacity float64            `json:"opacity"`
	Loading bool               `json:"loading"`
}

// Renderer implements animation.Renderer and animation.RenderSignal.
type Renderer struct {
	mu        sync.Mutex
	order     []*layer
	loadDelay time.Duration
	onLoaded  LoadHandler
	pending   int
	closed    bool

	subs       map[int]func()
	subID      int
	flushTimer *time.Timer
	flushes    int
}

// New returns a renderer whose layers finish loading loadDelay after their
// source changed.
func New(loadDelay time.Duration) *Renderer {
	return &Renderer{
		loadDelay: loadDelay,
		subs:      map[int]func(){},
	}
}

// SetLoadHandler wires the load completion callback, usually the engine's
// LoadComplete.
func (r *Renderer) SetLoadHandler(fn LoadHandler) {
	r.mu.Lock()
	r.onLoaded = fn
	r.mu.Unlock()
}

func (r *Renderer) CreateLayer(id string, cfg animation.LayerConfig, t timeline.TimePoint) (animation.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	l := &layer{id: id, cfg: cfg, time: t, opacity: cfg.InitialOpacity()}
	r.order = append(r.order, l)
	r.startLoadLocked(l)
	return l, nil
}

func (r *Renderer) UpdateLayerSource(h animation.Handle, t timeline.TimePoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	l, ok := h.(*layer)
	if !ok || l.removed {
		return animation.ErrUnsupportedLayer
	}
	if l.time == t && !l.loading {
		return nil
	}
	l.time = t
	r.startLoadLocked(l)
	return nil
}

func (r *Renderer) startLoadLocked(l *layer) {
	if l.timer != nil {
		l.timer.Stop()
	}
	if !l.loading {
		l.loading = true
		r.pending++
	}
	t := l.time
	l.timer = time.AfterFunc(r.loadDelay, func() { r.finishLoad(l, t) })
}

func (r *Renderer) finishLoad(l *layer, t timeline.TimePoint) {
	r.mu.Lock()
	if r.closed || l.removed || l.time != t || !l.loading {
		r.mu.Unlock()
		return
	}
	l.loading = false
	l.timer = nil
	r.pending--
	fn := r.onLoaded
	r.scheduleFlushLocked()
	r.mu.Unlock()

	if fn != nil {
		fn(l.id, t)
	}
}

func (r *Renderer) PlaceAdjacent(h, anchor animation.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := h.(*layer)
	a, ok2 := anchor.(*layer)
	if !ok || !ok2 || l == a {
		return
	}
	i := slices.Index(r.order, l)
	if i < 0 {
		return
	}
	r.order = slices.Delete(r.order, i, i+1)
	j := slices.Index(r.order, a)
	if j < 0 {
		r.order = append(r.order, l)
		return
	}
	r.order = slices.Insert(r.order, j+1, l)
}

func (r *Renderer) SetVisibility(h animation.Handle, visible bool, opacity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := h.(*layer)
	if !ok || l.removed {
		return
	}
	if l.visible == visible && l.opacity == opacity {
		return
	}
	if l.visible != visible {
		log.Printf("render: %s (%s) at %s visible=%t", l.id, l.cfg.ID, l.time, visible)
	}
	l.visible = visible
	l.opacity = opacity
	r.scheduleFlushLocked()
}

func (r *Renderer) RemoveLayer(h animation.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := h.(*layer)
	if !ok || l.removed {
		return
	}
	l.removed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.loading {
		l.loading = false
		r.pending--
	}
	if i := slices.Index(r.order, l); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	r.scheduleFlushLocked()
}

// OnceRenderComplete registers fn for the next flush that finds no layer
// loading. Registering schedules a flush so a quiet renderer still answers.
func (r *Renderer) OnceRenderComplete(fn func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return func() {}
	}
	r.subID++
	id := r.subID
	r.subs[id] = fn
	r.scheduleFlushLocked()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Renderer) scheduleFlushLocked() {
	if r.flushTimer != nil || r.closed {
		return
	}
	r.flushTimer = time.AfterFunc(0, r.flush)
}

// flush completes a redraw. Subscribers fire only once every layer has
// loaded.
func (r *Renderer) flush() {
	r.mu.Lock()
	r.flushTimer = nil
	if r.closed || r.pending > 0 {
		r.mu.Unlock()
		return
	}
	r.flushes++
	fns := make([]func(), 0, len(r.subs))
	for id, fn := range r.subs {
		fns = append(fns, fn)
		delete(r.subs, id)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Layers returns the drawable layers in draw order.
func (r *Renderer) Layers() []LayerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LayerState, 0, len(r.order))
	for _, l := range r.order {
		out = append(out, LayerState{
			ID:      l.id,
			LayerID: l.cfg.ID,
			Time:    l.time,
			Visible: l.visible,
			Opacity: l.opacity,
			Loading: l.loading,
		})
	}
	return out
}

// Close stops every pending load and drops the render subscribers.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, l := range r.order {
		if l.timer != nil {
			l.timer.Stop()
		}
	}
	if r.flushTimer != nil {
		r.flushTimer.Stop()
		r.flushTimer = nil
	}
	r.subs = map[int]func(){}
	log.Printf("render: closed after %d flushes, %d layers", r.flushes, len(r.order))
}
