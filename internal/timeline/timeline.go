// Package timeline holds the time model shared by every layer of the animator:
// millisecond time points, sorted time sets, the global time axis and the
// animation clock that walks it.
package timeline

import (
	"sort"
	"time"
)

// TimePoint is an absolute instant in milliseconds since the Unix epoch.
type TimePoint int64

// FromTime converts a time.Time into a TimePoint.
func FromTime(t time.Time) TimePoint {
	return TimePoint(t.UnixMilli())
}

// Time returns the instant as a UTC time.Time.
func (p TimePoint) Time() time.Time {
	return time.UnixMilli(int64(p)).UTC()
}

func (p TimePoint) String() string {
	return p.Time().Format(time.RFC3339)
}

// TimeSet is an ascending sequence of unique time points.
// Functions in this package that take a TimeSet expect it to be normalized.
type TimeSet []TimePoint

// Normalize sorts points ascending and drops duplicates. The input slice is
// reused.
func Normalize(points []TimePoint) TimeSet {
	if len(points) == 0 {
		return TimeSet{}
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	out := points[:1]
	for _, p := range points[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return TimeSet(out)
}

// Merge returns the union of two normalized sets as a new set.
func Merge(a, b TimeSet) TimeSet {
	out := make(TimeSet, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// Shift returns a copy of s with every point moved by offset milliseconds.
func (s TimeSet) Shift(offset int64) TimeSet {
	out := make(TimeSet, len(s))
	for i, p := range s {
		out[i] = p + TimePoint(offset)
	}
	return out
}

// Index returns the position of p in s, or -1.
func (s TimeSet) Index(p TimePoint) int {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= p })
	if i < len(s) && s[i] == p {
		return i
	}
	return -1
}

// Contains reports whether p is a member of s.
func (s TimeSet) Contains(p TimePoint) bool {
	return s.Index(p) >= 0
}

// First returns the earliest point. ok is false for an empty set.
func (s TimeSet) First() (TimePoint, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[0], true
}

// Last returns the latest point. ok is false for an empty set.
func (s TimeSet) Last() (TimePoint, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// InRange reports whether p lies within [first, last] of s.
func (s TimeSet) InRange(p TimePoint) bool {
	if len(s) == 0 {
		return false
	}
	return p >= s[0] && p <= s[len(s)-1]
}

// Floor returns the greatest point <= p.
func (s TimeSet) Floor(p TimePoint) (TimePoint, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i] > p })
	if i == 0 {
		return 0, false
	}
	return s[i-1], true
}

// Nearest snaps p to the closest member of s. Ties go to the earlier point.
func (s TimeSet) Nearest(p TimePoint) (TimePoint, bool) {
	if len(s) == 0 {
		return 0, false
	}
	i := sort.Search(len(s), func(i int) bool { return s[i] >= p })
	switch {
	case i == 0:
		return s[0], true
	case i == len(s):
		return s[len(s)-1], true
	case s[i] == p:
		return p, true
	}
	before, after := s[i-1], s[i]
	if p-before <= after-p {
		return before, true
	}
	return after, true
}

