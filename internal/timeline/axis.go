package timeline

// Axis is the global time axis: the union of every layer's time series.
// It only grows between resets.
type Axis struct {
	times TimeSet
}

// NewAxis creates an empty axis.
func NewAxis() *Axis {
	return &Axis{times: TimeSet{}}
}

// AddTimes merges points into the axis. Unsorted or duplicated input is fine.
func (a *Axis) AddTimes(points []TimePoint) {
	if len(points) == 0 {
		return
	}
	in := make([]TimePoint, len(points))
	copy(in, points)
	a.times = Merge(a.times, Normalize(in))
}

// Reset drops every point. Used on full reconfiguration.
func (a *Axis) Reset() {
	a.times = TimeSet{}
}

// Times returns the axis contents. Callers must not modify the result.
func (a *Axis) Times() TimeSet {
	return a.times
}

func (a *Axis) Len() int {
	return len(a.times)
}

func (a *Axis) Contains(p TimePoint) bool {
	return a.times.Contains(p)
}

// Clamp maps p onto the axis: points outside the axis bounds go to the
// nearest bound, points inside snap to the nearest member.
func (a *Axis) Clamp(p TimePoint) (TimePoint, bool) {
	return a.times.Nearest(p)
}
