package engine

import (
	"context"
	"log"
	"time"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/layersync"
	"github.com/i474232898/weather-time-animator/internal/timeline"
)

// Seek moves the clock to the axis point closest to t. moved is false when
// the axis is empty or the clock was already there.
func (e *Engine) Seek(ctx context.Context, t timeline.TimePoint) (timeline.TimePoint, bool, error) {
	var (
		at    timeline.TimePoint
		moved bool
	)
	err := e.call(ctx, func() {
		at, moved = e.clock.Seek(t)
		if moved {
			e.afterMove()
		}
	})
	return at, moved, err
}

// Next steps to the next visible time.
func (e *Engine) Next(ctx context.Context) (timeline.TimePoint, bool, error) {
	return e.step(ctx, e.clockNext)
}

// Previous steps to the previous visible time.
func (e *Engine) Previous(ctx context.Context) (timeline.TimePoint, bool, error) {
	return e.step(ctx, e.clockPrevious)
}

func (e *Engine) clockNext() (timeline.TimePoint, bool)     { return e.clock.Next() }
func (e *Engine) clockPrevious() (timeline.TimePoint, bool) { return e.clock.Previous() }

func (e *Engine) step(ctx context.Context, move func() (timeline.TimePoint, bool)) (timeline.TimePoint, bool, error) {
	var (
		at    timeline.TimePoint
		moved bool
	)
	err := e.call(ctx, func() {
		at, moved = move()
		if moved {
			e.afterMove()
		}
	})
	return at, moved, err
}

// Play starts playback. Zero option values keep the configured delays.
func (e *Engine) Play(ctx context.Context, opts animation.PlayOptions) (bool, error) {
	stepDelay := e.opts.StepDelay
	if opts.StepDelayMs > 0 {
		stepDelay = time.Duration(opts.StepDelayMs) * time.Millisecond
	}
	loopDelay := e.opts.LoopPeriodDelay
	if opts.LoopPeriodDelayMs > 0 {
		loopDelay = time.Duration(opts.LoopPeriodDelayMs) * time.Millisecond
	}

	var started bool
	err := e.call(ctx, func() {
		if e.clock.Playing() {
			e.clock.Play(stepDelay, loopDelay)
			started = true
			return
		}
		if !e.clock.Play(stepDelay, loopDelay) {
			return
		}
		started = true
		e.stopPlayback()
		e.syncLayers()
		e.armAdvance()
	})
	return started, err
}

// Pause stops playback on the current time.
func (e *Engine) Pause(ctx context.Context) error {
	return e.call(ctx, func() {
		e.clock.Pause()
		e.stopPlayback()
		e.emit()
	})
}

// Stop pauses and rewinds to the first visible time.
func (e *Engine) Stop(ctx context.Context) error {
	return e.call(ctx, func() {
		e.stopPlayback()
		e.clock.Stop()
		e.afterMove()
	})
}

// stopPlayback invalidates the pending tick and releases its timers and
// render subscription.
func (e *Engine) stopPlayback() {
	e.tickSeq++
	e.awaiting = false
	if e.advanceTimer != nil {
		e.advanceTimer.Stop()
		e.advanceTimer = nil
	}
	if e.renderTimer != nil {
		e.renderTimer.Stop()
		e.renderTimer = nil
	}
	if e.cancelRender != nil {
		e.cancelRender()
		e.cancelRender = nil
	}
	e.clock.ClearPending()
}

// syncLayers aligns the layers to the clock and reports whether the
// renderer has anything new to draw.
func (e *Engine) syncLayers() bool {
	f := layersync.Frame{}
	f.Current, f.HasCurrent = e.clock.Current()
	f.Previous, f.HasPrevious, f.Next, f.HasNext = e.clock.Neighbors()
	changed := e.layers.Sync(f)
	e.emit()
	return changed
}

// afterMove runs after the clock moved: the layers follow, and during
// playback the next tick waits for the render.
func (e *Engine) afterMove() {
	e.stopPlayback()
	changed := e.syncLayers()
	if e.clock.Playing() {
		e.awaitRender(e.tickSeq, changed)
	}
}

// awaitRender holds the tick until the renderer reports a complete redraw.
// A pass that changed nothing completes at once.
func (e *Engine) awaitRender(seq uint64, changed bool) {
	e.awaiting = true
	e.clock.MarkPending(e.opts.Now())
	if !changed || e.opts.RenderSignal == nil {
		e.renderDone(seq)
		return
	}
	e.cancelRender = e.opts.RenderSignal.OnceRenderComplete(func() {
		e.loop.post(func() { e.renderDone(seq) })
	})
	if e.opts.RenderTimeout > 0 {
		e.renderTimer = time.AfterFunc(e.opts.RenderTimeout, func() {
			e.loop.post(func() {
				if seq == e.tickSeq && e.awaiting {
					log.Printf("engine: render complete not signalled within %s, advancing", e.opts.RenderTimeout)
					e.renderDone(seq)
				}
			})
		})
	}
}

func (e *Engine) renderDone(seq uint64) {
	if seq != e.tickSeq || !e.awaiting {
		return
	}
	e.awaiting = false
	if e.cancelRender != nil {
		e.cancelRender()
		e.cancelRender = nil
	}
	if e.renderTimer != nil {
		e.renderTimer.Stop()
		e.renderTimer = nil
	}
	e.clock.ClearPending()
	if e.clock.Playing() {
		e.armAdvance()
	}
}

// armAdvance schedules the next tick after the clock's step delay.
func (e *Engine) armAdvance() {
	seq := e.tickSeq
	e.advanceTimer = time.AfterFunc(e.clock.StepDelay(), func() {
		e.loop.post(func() { e.advance(seq) })
	})
}

func (e *Engine) advance(seq uint64) {
	if seq != e.tickSeq || !e.clock.Playing() {
		return
	}
	e.advanceTimer = nil
	if _, moved := e.clock.Next(); !moved {
		e.clock.Pause()
		e.stopPlayback()
		e.emit()
		log.Printf("engine: reached the end of the time axis, playback paused")
		return
	}
	e.afterMove()
}
