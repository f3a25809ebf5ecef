// Package engine is the animation engine facade. It owns the time axis, the
// animation clock and the layer sync engine, and serializes every state
// change on one goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/atomic"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/capabilities"
	"github.com/i474232898/weather-time-animator/internal/layersync"
	"github.com/i474232898/weather-time-animator/internal/timeline"
	"github.com/i474232898/weather-time-animator/internal/timerange"
)

var (
	ErrDestroyed     = errors.New("engine destroyed")
	ErrUnknownLayer  = errors.New("unknown layer")
	ErrInvalidConfig = errors.New("invalid layer configuration")
)

const (
	DefaultStepDelay       = 500 * time.Millisecond
	DefaultLoopPeriodDelay = time.Second
)

// Options wires the engine's collaborators.
type Options struct {
	Fetcher      capabilities.Fetcher
	Parsers      map[string]capabilities.Parser
	Store        capabilities.Store
	Renderer     animation.Renderer
	RenderSignal animation.RenderSignal
	Resolver     *timerange.Resolver
	Now          func() time.Time

	DelayLoop       bool
	StepDelay       time.Duration
	LoopPeriodDelay time.Duration
	// RenderTimeout force-advances a tick whose render-complete signal has
	// not arrived in time. Zero waits indefinitely.
	RenderTimeout time.Duration
}

// Status is a full snapshot of the engine.
type Status struct {
	Animation timeline.AnimationState   `json:"animation"`
	Times     []animation.StatusEntry   `json:"times"`
	Layers    []layersync.LayerSnapshot `json:"layers"`
}

// Engine is the facade the application drives. All exported methods are
// safe for concurrent use, except from inside a status listener, which runs
// on the engine goroutine.
type Engine struct {
	opts     Options
	registry *capabilities.Registry
	resolver *timerange.Resolver
	validate *validator.Validate

	loop      *loop
	destroyed *atomic.Bool
	once      sync.Once

	// Everything below is owned by the loop goroutine.
	axis   *timeline.Axis
	clock  *timeline.Clock
	layers *layersync.Engine

	configs []animation.LayerConfig
	sources map[string]animation.SourceConfig
	gen     uint64

	tickSeq      uint64
	awaiting     bool
	advanceTimer *time.Timer
	renderTimer  *time.Timer
	cancelRender func()

	listeners  map[int]func(Status)
	listenerID int
	lastTimes  []animation.StatusEntry
	lastAnim   timeline.AnimationState
}

// New creates an engine and starts its goroutine.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StepDelay <= 0 {
		opts.StepDelay = DefaultStepDelay
	}
	if opts.LoopPeriodDelay <= 0 {
		opts.LoopPeriodDelay = DefaultLoopPeriodDelay
	}
	if opts.Resolver == nil {
		opts.Resolver = &timerange.Resolver{Now: opts.Now, MaxPoints: timerange.DefaultMaxPoints}
	}
	if opts.Parsers == nil {
		opts.Parsers = capabilities.DefaultParsers(opts.Resolver)
	}

	e := &Engine{
		opts:      opts,
		registry:  capabilities.NewRegistry(opts.Fetcher, opts.Parsers, opts.Store).WithClock(opts.Now),
		resolver:  opts.Resolver,
		validate:  validator.New(),
		loop:      newLoop(),
		destroyed: atomic.NewBool(false),
		axis:      timeline.NewAxis(),
		layers:    layersync.New(opts.Renderer),
		sources:   map[string]animation.SourceConfig{},
		listeners: map[int]func(Status){},
	}
	e.clock = e.newClock()
	return e
}

func (e *Engine) call(ctx context.Context, fn func()) error {
	if e.destroyed.Load() {
		return ErrDestroyed
	}
	return e.loop.call(ctx, fn)
}

func (e *Engine) validateLayers(layers []animation.LayerConfig, sources map[string]animation.SourceConfig) error {
	seen := make(map[string]bool, len(layers))
	for i := range layers {
		if err := e.validate.Struct(layers[i]); err != nil {
			return fmt.Errorf("%w: layer %d: %v", ErrInvalidConfig, i, err)
		}
		if seen[layers[i].ID] {
			return fmt.Errorf("%w: duplicate layer id %q", ErrInvalidConfig, layers[i].ID)
		}
		seen[layers[i].ID] = true
	}
	for id, src := range sources {
		if err := e.validate.Struct(src); err != nil {
			return fmt.Errorf("%w: source %q: %v", ErrInvalidConfig, id, err)
		}
	}
	return nil
}

// Configure replaces every layer and source, loads the capabilities they
// reference and rebuilds the time axis. The clock starts at the time
// closest to now.
func (e *Engine) Configure(ctx context.Context, layers []animation.LayerConfig, sources map[string]animation.SourceConfig) error {
	if err := e.validateLayers(layers, sources); err != nil {
		return err
	}

	var (
		gen  uint64
		reqs []capabilities.Request
	)
	err := e.call(ctx, func() {
		e.stopPlayback()
		e.gen++
		gen = e.gen
		e.configs = append([]animation.LayerConfig(nil), layers...)
		e.sources = make(map[string]animation.SourceConfig, len(sources))
		for id, s := range sources {
			e.sources[id] = s
		}
		e.layers.Configure(nil, nil)
		e.axis.Reset()
		e.clock = e.newClock()
		reqs = e.capabilityRequests()
	})
	if err != nil {
		return err
	}
	log.Printf("INFO: engine configured with %d layers, %d capability documents to load", len(layers), len(reqs))
	return e.rebuild(ctx, gen, reqs, true)
}

func (e *Engine) newClock() *timeline.Clock {
	c := timeline.NewClock(e.axis)
	c.SetDelayLoop(e.opts.DelayLoop)
	c.SetVisibility(e.layers.VisibleAt)
	return c
}

// Refresh runs a full refresh cycle: capabilities are reloaded, every
// layer's times re-resolved and the axis rebuilt. The current time is kept
// when still valid, clamped otherwise.
func (e *Engine) Refresh(ctx context.Context) error {
	var (
		gen  uint64
		reqs []capabilities.Request
	)
	if err := e.call(ctx, func() {
		gen = e.gen
		reqs = e.capabilityRequests()
	}); err != nil {
		return err
	}
	return e.rebuild(ctx, gen, reqs, false)
}

// rebuild loads capabilities off the loop, then re-resolves the layer times
// on it. Results for a superseded configuration are dropped.
func (e *Engine) rebuild(ctx context.Context, gen uint64, reqs []capabilities.Request, fresh bool) error {
	res, err := e.registry.Refresh(ctx, reqs)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Printf("ERROR: engine: capabilities pass %s: %v", res.ID, err)
	}

	return e.call(ctx, func() {
		if gen != e.gen {
			log.Printf("engine: dropping refresh results for superseded configuration")
			return
		}
		series := e.resolveSeries()
		e.axis.Reset()
		for _, s := range series {
			e.axis.AddTimes(s)
		}
		if fresh {
			e.layers.Configure(e.configs, series)
		} else {
			e.layers.UpdateSeries(series)
		}
		if e.clock.Sync(timeline.FromTime(e.opts.Now())) || fresh {
			e.afterMove()
		} else {
			e.syncLayers()
		}
	})
}

// OnTimeStatusChanged registers a listener that receives the engine status
// whenever a time point's load status or visibility, or the clock, changes.
// It is called once right away. The returned func unsubscribes.
func (e *Engine) OnTimeStatusChanged(fn func(Status)) (func(), error) {
	var id int
	err := e.call(context.Background(), func() {
		e.listenerID++
		id = e.listenerID
		e.listeners[id] = fn
		fn(e.snapshot())
	})
	if err != nil {
		return func() {}, err
	}
	return func() {
		e.loop.post(func() { delete(e.listeners, id) })
	}, nil
}

func (e *Engine) snapshot() Status {
	return Status{
		Animation: e.clock.Snapshot(),
		Times:     e.layers.Statuses(e.axis.Times()),
		Layers:    e.layers.Layers(),
	}
}

func sameAnimation(a, b timeline.AnimationState) bool {
	if a.State != b.State || a.Holding != b.Holding {
		return false
	}
	if (a.CurrentTime == nil) != (b.CurrentTime == nil) {
		return false
	}
	return a.CurrentTime == nil || *a.CurrentTime == *b.CurrentTime
}

// emit notifies listeners when the time statuses or the clock changed.
func (e *Engine) emit() {
	st := e.snapshot()
	if slices.Equal(st.Times, e.lastTimes) && sameAnimation(st.Animation, e.lastAnim) {
		return
	}
	e.lastTimes = st.Times
	e.lastAnim = st.Animation
	for _, fn := range e.listeners {
		fn(st)
	}
}

// Status returns a snapshot of the clock, the time statuses and the layers.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.call(ctx, func() { st = e.snapshot() })
	return st, err
}

// Capabilities lists the cached capability entries.
func (e *Engine) Capabilities() ([]capabilities.Entry, error) {
	if e.destroyed.Load() {
		return nil, ErrDestroyed
	}
	return e.registry.Entries()
}

// LoadComplete is called by the renderer once an instance finished loading
// the data for t. It never blocks.
func (e *Engine) LoadComplete(instanceID string, t timeline.TimePoint) {
	e.loop.post(func() {
		if e.layers.LoadComplete(instanceID, t) {
			e.emit()
		}
	})
}

// SetLayerVisible shows or hides a layer and every layer chained to it, and
// returns the ids that changed.
func (e *Engine) SetLayerVisible(ctx context.Context, id string, visible bool) ([]string, error) {
	var (
		touched []string
		known   bool
	)
	err := e.call(ctx, func() {
		if known = e.layers.Known(id); !known {
			return
		}
		touched = e.layers.SetVisible(id, visible)
		e.syncLayers()
	})
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	return touched, nil
}

// Destroy cancels timers and the render subscription, removes every layer
// instance and stops the engine goroutine. Results of capability fetches
// still in flight are discarded. It must not be called from a listener.
func (e *Engine) Destroy() {
	e.once.Do(func() {
		_ = e.loop.call(context.Background(), func() {
			e.stopPlayback()
			e.layers.Destroy()
			e.listeners = map[int]func(Status){}
		})
		e.destroyed.Store(true)
		e.loop.close()
		log.Printf("INFO: engine destroyed")
	})
}
