package layersync

import (
	"log"

	"github.com/google/uuid"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/timeline"
)

const none = -1

// slotSet holds arena indices of a logical layer's instances. Swapping roles
// reassigns indices; instances themselves are never relinked.
type slotSet struct {
	primary  int
	previous int
	next     int
	parked   []int
}

func emptySlots() slotSet {
	return slotSet{primary: none, previous: none, next: none}
}

func (s slotSet) all() []int {
	out := make([]int, 0, MaxInstances)
	for _, idx := range []int{s.primary, s.previous, s.next} {
		if idx != none {
			out = append(out, idx)
		}
	}
	return append(out, s.parked...)
}

type layerState struct {
	cfg      animation.LayerConfig
	series   timeline.TimeSet
	timed    bool
	wanted   bool
	opacity  float64
	inWindow bool
	slots    slotSet
}

// Engine owns every runtime instance. It is not safe for concurrent use; the
// engine facade drives it from a single goroutine.
type Engine struct {
	renderer animation.Renderer

	instances []*Instance
	free      []int
	byID      map[string]int

	configs []animation.LayerConfig
	layers  map[string]*layerState
}

// New creates an empty engine drawing through r.
func New(r animation.Renderer) *Engine {
	return &Engine{
		renderer: r,
		byID:     make(map[string]int),
		layers:   make(map[string]*layerState),
	}
}

// Configure replaces every logical layer. Existing instances are removed.
// series maps layer ids to their own time series; layers without one, and
// base layers, are not time-driven.
func (e *Engine) Configure(layers []animation.LayerConfig, series map[string]timeline.TimeSet) {
	e.Destroy()
	e.configs = append([]animation.LayerConfig(nil), layers...)
	for _, cfg := range layers {
		l := &layerState{
			cfg:     cfg,
			wanted:  cfg.InitiallyVisible(),
			opacity: cfg.InitialOpacity(),
			slots:   emptySlots(),
		}
		l.series, l.timed = seriesFor(cfg, series)
		e.layers[cfg.ID] = l
	}
}

func seriesFor(cfg animation.LayerConfig, series map[string]timeline.TimeSet) (timeline.TimeSet, bool) {
	s := series[cfg.ID]
	if cfg.IsBase() || len(s) == 0 {
		return nil, false
	}
	return s, true
}

// UpdateSeries swaps in refreshed time series while keeping instances. A
// layer that changes between time-driven and static loses its instances.
func (e *Engine) UpdateSeries(series map[string]timeline.TimeSet) {
	for _, cfg := range e.configs {
		l := e.layers[cfg.ID]
		s, timed := seriesFor(cfg, series)
		if timed != l.timed {
			e.dropAll(l)
		}
		l.series, l.timed = s, timed
		e.releaseStale(l)
	}
}

// releaseStale frees parked instances bound to times the series no longer
// contains.
func (e *Engine) releaseStale(l *layerState) {
	kept := l.slots.parked[:0]
	for _, idx := range l.slots.parked {
		if l.series.Contains(e.instances[idx].Time) {
			kept = append(kept, idx)
			continue
		}
		e.release(idx)
	}
	l.slots.parked = kept
}

// Visible reports whether the user wants the layer shown.
func (e *Engine) Visible(id string) bool {
	l, ok := e.layers[id]
	return ok && l.wanted
}

// Known reports whether id names a configured layer.
func (e *Engine) Known(id string) bool {
	_, ok := e.layers[id]
	return ok
}

// VisibleAt reports whether t belongs to the series of a visible layer.
func (e *Engine) VisibleAt(t timeline.TimePoint) bool {
	for _, l := range e.layers {
		if l.timed && l.wanted && l.series.Contains(t) {
			return true
		}
	}
	return false
}

// Sync aligns every layer to f and reports whether anything visible to the
// renderer changed.
func (e *Engine) Sync(f Frame) bool {
	changed := false
	for _, cfg := range e.configs {
		l := e.layers[cfg.ID]
		if !l.timed {
			changed = e.syncStatic(l) || changed
			continue
		}
		if !f.HasCurrent || !l.series.InRange(f.Current) {
			l.inWindow = false
			changed = e.apply(l) || changed
			continue
		}
		l.inWindow = true

		cur, _ := l.series.Floor(f.Current)
		prev, hasPrev := e.neighbour(l, f.Previous, f.HasPrevious, cur)
		next, hasNext := e.neighbour(l, f.Next, f.HasNext, cur)
		if hasPrev && hasNext && prev == next {
			hasPrev = false
		}
		changed = e.arrange(l, cur, prev, hasPrev, next, hasNext) || changed
		changed = e.apply(l) || changed
	}
	return changed
}

func (e *Engine) neighbour(l *layerState, t timeline.TimePoint, ok bool, cur timeline.TimePoint) (timeline.TimePoint, bool) {
	if !ok || !l.series.InRange(t) {
		return 0, false
	}
	p, _ := l.series.Floor(t)
	if p == cur {
		return 0, false
	}
	return p, true
}

func (e *Engine) syncStatic(l *layerState) bool {
	l.inWindow = true
	changed := false
	if l.slots.primary == none {
		if idx := e.create(l, 0); idx != none {
			e.instances[idx].Role = RolePrimary
			l.slots.primary = idx
			changed = true
		}
	}
	return e.apply(l) || changed
}

type want struct {
	role Role
	t    timeline.TimePoint
	ok   bool
}

// arrange fills the primary and buffered slots for the wanted times. An
// instance already bound to a wanted time is reused first; otherwise a
// leftover instance is re-pointed, the old primary preferred for the primary
// slot; only then is a new instance created.
func (e *Engine) arrange(l *layerState, cur, prev timeline.TimePoint, hasPrev bool, next timeline.TimePoint, hasNext bool) bool {
	wants := [3]want{
		{RolePrimary, cur, true},
		{RoleBufferedPrevious, prev, hasPrev},
		{RoleBufferedNext, next, hasNext},
	}
	old := [3]int{l.slots.primary, l.slots.previous, l.slots.next}
	pool := l.slots.all()
	assigned := [3]int{none, none, none}
	reused := [3]bool{}

	take := func(idx int) bool {
		for i, p := range pool {
			if p == idx {
				pool = append(pool[:i], pool[i+1:]...)
				return true
			}
		}
		return false
	}

	for i, w := range wants {
		if !w.ok {
			continue
		}
		for _, idx := range pool {
			if e.instances[idx].Time == w.t {
				take(idx)
				assigned[i] = idx
				reused[i] = true
				break
			}
		}
	}

	changed := false
	for i, w := range wants {
		if !w.ok || assigned[i] != none {
			continue
		}
		idx := none
		if old[i] != none && take(old[i]) {
			idx = old[i]
		} else if len(pool) > 0 {
			idx = pool[0]
			pool = pool[1:]
		}
		if idx != none && !e.repoint(idx, w.t) {
			e.release(idx)
			idx = none
		}
		if idx == none {
			idx = e.create(l, w.t)
		}
		assigned[i] = idx
		changed = changed || idx != none
	}

	if reused[0] && assigned[0] != old[0] {
		swaps.Inc()
		changed = true
	}

	for i, w := range wants {
		if assigned[i] == none {
			continue
		}
		inst := e.instances[assigned[i]]
		if inst.Role != w.role {
			inst.Role = w.role
			changed = true
		}
	}
	for _, idx := range pool {
		e.instances[idx].Role = RoleNone
	}
	l.slots = slotSet{primary: assigned[0], previous: assigned[1], next: assigned[2], parked: pool}

	if l.slots.primary != none {
		anchor := e.instances[l.slots.primary].Handle
		for i := 1; i < len(assigned); i++ {
			if assigned[i] == none {
				continue
			}
			if assigned[i] != old[i] || !reused[i] {
				e.renderer.PlaceAdjacent(e.instances[assigned[i]].Handle, anchor)
			}
		}
	}
	return changed
}

func (e *Engine) repoint(idx int, t timeline.TimePoint) bool {
	inst := e.instances[idx]
	if err := e.renderer.UpdateLayerSource(inst.Handle, t); err != nil {
		log.Printf("layersync: update %s to %s: %v", inst.LogicalID, t, err)
		return false
	}
	updates.Inc()
	inst.Time = t
	inst.Loaded = false
	return true
}

func (e *Engine) create(l *layerState, t timeline.TimePoint) int {
	id := uuid.NewString()
	h, err := e.renderer.CreateLayer(id, l.cfg, t)
	if err != nil || h == nil {
		creationFailures.Inc()
		log.Printf("layersync: create %s at %s failed: %v", l.cfg.ID, t, err)
		return none
	}
	creations.Inc()

	inst := &Instance{ID: id, LogicalID: l.cfg.ID, Time: t, Opacity: l.opacity, Handle: h}
	var idx int
	if n := len(e.free); n > 0 {
		idx = e.free[n-1]
		e.free = e.free[:n-1]
		e.instances[idx] = inst
	} else {
		idx = len(e.instances)
		e.instances = append(e.instances, inst)
	}
	e.byID[id] = idx
	return idx
}

func (e *Engine) release(idx int) {
	inst := e.instances[idx]
	e.renderer.RemoveLayer(inst.Handle)
	delete(e.byID, inst.ID)
	e.instances[idx] = nil
	e.free = append(e.free, idx)
}

func (e *Engine) dropAll(l *layerState) {
	for _, idx := range l.slots.all() {
		e.release(idx)
	}
	l.slots = emptySlots()
}

// apply pushes visibility: the primary is shown when wanted, in window and
// loaded; every other instance is hidden.
func (e *Engine) apply(l *layerState) bool {
	changed := false
	for _, idx := range l.slots.all() {
		inst := e.instances[idx]
		show := idx == l.slots.primary && l.wanted && l.inWindow && inst.Loaded
		if inst.Visible == show && inst.Opacity == l.opacity {
			continue
		}
		inst.Visible = show
		inst.Opacity = l.opacity
		e.renderer.SetVisibility(inst.Handle, show, l.opacity)
		changed = true
	}
	return changed
}

// LoadComplete marks the instance loaded if it is still bound to t and
// reports whether its visibility changed.
func (e *Engine) LoadComplete(id string, t timeline.TimePoint) bool {
	idx, ok := e.byID[id]
	if !ok {
		return false
	}
	inst := e.instances[idx]
	if inst.Time != t || inst.Loaded {
		return false
	}
	inst.Loaded = true
	return e.apply(e.layers[inst.LogicalID])
}

// SetVisible shows or hides a layer together with every layer chained to it
// through previous/next links, and returns the ids that were touched.
func (e *Engine) SetVisible(id string, visible bool) []string {
	if _, ok := e.layers[id]; !ok {
		return nil
	}
	var touched []string
	for _, member := range animation.Chain(e.configs, id) {
		l, ok := e.layers[member]
		if !ok {
			continue
		}
		l.wanted = visible
		e.apply(l)
		touched = append(touched, member)
	}
	return touched
}

// Instances returns copies of a layer's instances: primary, previous, next,
// then parked.
func (e *Engine) Instances(id string) []Instance {
	l, ok := e.layers[id]
	if !ok {
		return nil
	}
	var out []Instance
	for _, idx := range l.slots.all() {
		out = append(out, *e.instances[idx])
	}
	return out
}

// Layers describes every logical layer in configuration order.
func (e *Engine) Layers() []LayerSnapshot {
	out := make([]LayerSnapshot, 0, len(e.configs))
	for _, cfg := range e.configs {
		l := e.layers[cfg.ID]
		out = append(out, LayerSnapshot{
			ID:        cfg.ID,
			Visible:   l.wanted,
			Timed:     l.timed,
			InWindow:  l.inWindow,
			Times:     len(l.series),
			Instances: e.Instances(cfg.ID),
		})
	}
	return out
}

// Statuses reports per time point whether the visible layers covering it
// have an instance bound there, and whether those instances are loaded.
func (e *Engine) Statuses(times timeline.TimeSet) []animation.StatusEntry {
	out := make([]animation.StatusEntry, 0, len(times))
	for _, t := range times {
		entry := animation.StatusEntry{
			Time:    int64(t),
			ISO:     t.String(),
			Status:  animation.StatusUnknown,
			Visible: e.VisibleAt(t),
		}
		relevant, bound, loaded := 0, 0, 0
		for _, cfg := range e.configs {
			l := e.layers[cfg.ID]
			if !l.timed || !l.wanted || !l.series.InRange(t) {
				continue
			}
			relevant++
			want, _ := l.series.Floor(t)
			for _, idx := range l.slots.all() {
				inst := e.instances[idx]
				if inst.Time != want {
					continue
				}
				bound++
				if inst.Loaded {
					loaded++
				}
				break
			}
		}
		switch {
		case relevant > 0 && loaded == relevant:
			entry.Status = animation.StatusLoaded
		case bound > 0:
			entry.Status = animation.StatusLoading
		}
		out = append(out, entry)
	}
	return out
}

// Destroy removes every instance.
func (e *Engine) Destroy() {
	for _, inst := range e.instances {
		if inst != nil {
			e.renderer.RemoveLayer(inst.Handle)
		}
	}
	e.instances = nil
	e.free = nil
	e.byID = make(map[string]int)
	e.configs = nil
	e.layers = make(map[string]*layerState)
}
