package timeline

import "time"

// State is the animation clock state.
type State int

const (
	StateIdle State = iota
	StateReady
	StatePlaying
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AnimationState is a snapshot of the clock.
type AnimationState struct {
	CurrentTime               *TimePoint `json:"currentTime"`
	State                     string     `json:"state"`
	Playing                   bool       `json:"playing"`
	Holding                   bool       `json:"holding"`
	StepDelayMs               int64      `json:"stepDelayMs"`
	LoopPeriodDelayMs         int64      `json:"loopPeriodDelayMs"`
	PendingAdvanceRequestedAt *time.Time `json:"pendingAdvanceRequestedAt,omitempty"`
}

// Clock walks the time axis. It is not goroutine-safe; the engine serializes
// every call on its run loop.
type Clock struct {
	axis       *Axis
	current    TimePoint
	hasCurrent bool
	state      State

	// delayLoop holds one extra tick on the last frame before wrapping.
	delayLoop bool
	holding   bool

	visible func(TimePoint) bool

	stepDelay       time.Duration
	loopPeriodDelay time.Duration
	pendingSince    time.Time
}

// NewClock creates an idle clock over axis.
func NewClock(axis *Axis) *Clock {
	return &Clock{axis: axis, state: StateIdle}
}

// SetDelayLoop toggles the delay-loop policy.
func (c *Clock) SetDelayLoop(on bool) {
	c.delayLoop = on
	if !on {
		c.holding = false
	}
}

// SetVisibility installs the predicate deciding which axis points are
// navigable. A nil predicate makes every point visible.
func (c *Clock) SetVisibility(fn func(TimePoint) bool) {
	c.visible = fn
}

func (c *Clock) State() State { return c.state }

func (c *Clock) Holding() bool { return c.holding }

// Current returns the current time; ok is false before the axis has points.
func (c *Clock) Current() (TimePoint, bool) {
	return c.current, c.hasCurrent
}

// Sync reconciles the clock with the axis after it changed. initial is used
// when the clock has no current time yet. It reports whether the current
// time changed.
func (c *Clock) Sync(initial TimePoint) bool {
	if c.axis.Len() == 0 {
		if c.state != StateIdle {
			c.state = StateIdle
		}
		return false
	}
	if c.state == StateIdle {
		c.state = StateReady
	}
	target := initial
	if c.hasCurrent {
		if c.axis.Contains(c.current) {
			return false
		}
		target = c.current
	}
	snapped, _ := c.axis.Clamp(target)
	changed := !c.hasCurrent || snapped != c.current
	c.current = snapped
	c.hasCurrent = true
	c.holding = false
	return changed
}

// Seek moves to t, snapping to the nearest axis point. It is a no-op on an
// empty axis.
func (c *Clock) Seek(t TimePoint) (TimePoint, bool) {
	snapped, ok := c.axis.Clamp(t)
	if !ok {
		return 0, false
	}
	moved := !c.hasCurrent || snapped != c.current
	c.current = snapped
	c.hasCurrent = true
	c.holding = false
	if c.state == StateIdle {
		c.state = StateReady
	}
	return snapped, moved
}

// VisibleTimes returns the axis points covered by a visible layer. When no
// point is visible the whole axis is returned.
func (c *Clock) VisibleTimes() TimeSet {
	all := c.axis.Times()
	if c.visible == nil {
		return all
	}
	out := make(TimeSet, 0, len(all))
	for _, p := range all {
		if c.visible(p) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

func after(s TimeSet, p TimePoint) (TimePoint, bool) {
	for _, q := range s {
		if q > p {
			return q, true
		}
	}
	return 0, false
}

func before(s TimeSet, p TimePoint) (TimePoint, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] < p {
			return s[i], true
		}
	}
	return 0, false
}

// Next advances to the nearest greater visible point. At the end of the
// sequence it either stops (ok=false) or, with delay-loop on, holds the last
// frame for one tick and then wraps to the first visible point.
func (c *Clock) Next() (TimePoint, bool) {
	if !c.hasCurrent || c.axis.Len() == 0 {
		return 0, false
	}
	vis := c.VisibleTimes()
	if p, ok := after(vis, c.current); ok {
		c.current = p
		c.holding = false
		return p, true
	}
	if !c.delayLoop {
		return c.current, false
	}
	if !c.holding {
		c.holding = true
		return c.current, true
	}
	c.holding = false
	c.current = vis[0]
	return c.current, true
}

// Previous steps back to the nearest lesser visible point. With delay-loop
// on it wraps to the last visible point.
func (c *Clock) Previous() (TimePoint, bool) {
	if !c.hasCurrent || c.axis.Len() == 0 {
		return 0, false
	}
	c.holding = false
	vis := c.VisibleTimes()
	if p, ok := before(vis, c.current); ok {
		c.current = p
		return p, true
	}
	if !c.delayLoop {
		return c.current, false
	}
	last := vis[len(vis)-1]
	if last == c.current {
		return c.current, false
	}
	c.current = last
	return last, true
}

// Neighbors returns the visible points a step before and after the current
// time, following the same rules as Previous and Next (including the
// delay-loop wrap). Neighbors equal to the current time are not reported.
func (c *Clock) Neighbors() (prev TimePoint, hasPrev bool, next TimePoint, hasNext bool) {
	if !c.hasCurrent || c.axis.Len() == 0 {
		return 0, false, 0, false
	}
	vis := c.VisibleTimes()
	prev, hasPrev = before(vis, c.current)
	next, hasNext = after(vis, c.current)
	if c.delayLoop {
		if !hasNext && vis[0] != c.current {
			next, hasNext = vis[0], true
		}
		if !hasPrev && vis[len(vis)-1] != c.current {
			prev, hasPrev = vis[len(vis)-1], true
		}
	}
	return prev, hasPrev, next, hasNext
}

// Play starts playback with the given frame and hold delays. It reports
// false when there is nothing to play.
func (c *Clock) Play(stepDelay, loopPeriodDelay time.Duration) bool {
	if c.axis.Len() == 0 {
		return false
	}
	c.stepDelay = stepDelay
	c.loopPeriodDelay = loopPeriodDelay
	if !c.hasCurrent {
		c.current = c.axis.Times()[0]
		c.hasCurrent = true
	}
	c.state = StatePlaying
	return true
}

// Pause stops playback and keeps the current time.
func (c *Clock) Pause() {
	if c.state == StatePlaying {
		c.state = StatePaused
	}
	c.pendingSince = time.Time{}
}

// Stop pauses and rewinds to the first visible point.
func (c *Clock) Stop() (TimePoint, bool) {
	c.pendingSince = time.Time{}
	c.holding = false
	if c.axis.Len() == 0 {
		c.state = StateIdle
		return 0, false
	}
	c.state = StateStopped
	first := c.VisibleTimes()[0]
	moved := !c.hasCurrent || first != c.current
	c.current = first
	c.hasCurrent = true
	return first, moved
}

// Playing reports whether playback is active.
func (c *Clock) Playing() bool { return c.state == StatePlaying }

// StepDelay returns the delay before the next frame: the hold delay while
// holding the last frame, the step delay otherwise.
func (c *Clock) StepDelay() time.Duration {
	if c.holding && c.loopPeriodDelay > 0 {
		return c.loopPeriodDelay
	}
	return c.stepDelay
}

// MarkPending records when the clock asked for an advance that is waiting
// on the render-complete gate.
func (c *Clock) MarkPending(at time.Time) { c.pendingSince = at }

// ClearPending clears the pending advance marker.
func (c *Clock) ClearPending() { c.pendingSince = time.Time{} }

// Snapshot returns the current animation state.
func (c *Clock) Snapshot() AnimationState {
	st := AnimationState{
		State:             c.state.String(),
		Playing:           c.state == StatePlaying,
		Holding:           c.holding,
		StepDelayMs:       c.stepDelay.Milliseconds(),
		LoopPeriodDelayMs: c.loopPeriodDelay.Milliseconds(),
	}
	if c.hasCurrent {
		cur := c.current
		st.CurrentTime = &cur
	}
	if !c.pendingSince.IsZero() {
		p := c.pendingSince
		st.PendingAdvanceRequestedAt = &p
	}
	return st
}
