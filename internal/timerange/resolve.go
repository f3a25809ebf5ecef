package timerange

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/weather-time-animator/internal/timeline"
)

// DefaultMaxPoints bounds the expansion of a single clause.
const DefaultMaxPoints = 100000

// Resolver expands parsed specs into time sets. The zero value is usable and
// reads the wall clock.
type Resolver struct {
	// Now supplies "now" for relative clauses. Defaults to time.Now.
	Now func() time.Time
	// MaxPoints caps each clause. Defaults to DefaultMaxPoints.
	MaxPoints int
}

// New creates a Resolver reading the wall clock.
func New() *Resolver {
	return &Resolver{MaxPoints: DefaultMaxPoints}
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Resolver) limit() int {
	if r.MaxPoints > 0 {
		return r.MaxPoints
	}
	return DefaultMaxPoints
}

// ResolveText parses and resolves text in one step. Parse errors are logged
// and returned; they never prevent the remaining clauses from resolving.
func (r *Resolver) ResolveText(text string, ref timeline.TimeSet) (timeline.TimeSet, []error) {
	specs, errs := Parse(text)
	for _, err := range errs {
		log.Printf("timerange: %v", err)
	}
	return r.Resolve(specs, ref), errs
}

// Resolve expands specs and returns the union of their points, ascending and
// without duplicates. ref is the observed time inventory used by count
// placeholders; count clauses resolve to nothing without it.
func (r *Resolver) Resolve(specs []Spec, ref timeline.TimeSet) timeline.TimeSet {
	now := r.now()
	var pts []timeline.TimePoint
	for _, s := range specs {
		got, err := r.resolveOne(s, ref, now)
		if err != nil {
			log.Printf("timerange: skipping clause %q: %v", s.Clause, err)
			continue
		}
		pts = append(pts, got...)
	}
	return timeline.Normalize(pts)
}

func (r *Resolver) resolveOne(s Spec, ref timeline.TimeSet, now time.Time) ([]timeline.TimePoint, error) {
	switch s.Kind {
	case KindExplicit:
		var out []timeline.TimePoint
		for _, item := range s.Items {
			t, err := parseInstant(item, now)
			if err != nil {
				log.Printf("timerange: skipping list entry: %v", err)
				continue
			}
			out = append(out, timeline.FromTime(t))
		}
		return out, nil
	case KindInterval:
		var out []timeline.TimePoint
		for _, item := range s.Items {
			got, err := r.expandItem(item, now)
			if err != nil {
				log.Printf("timerange: skipping interval %q: %v", item, err)
				continue
			}
			out = append(out, got...)
		}
		return out, nil
	case KindCount:
		return resolveCount(s, ref, now), nil
	case KindRecurrence:
		return r.expandRecurrence(s, now), nil
	case KindCron:
		return r.expandCron(s, now), nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnknownClause, s.Kind)
	}
}

// resolveCount takes the N reference times right before now (history) or
// at/after now (future).
func resolveCount(s Spec, ref timeline.TimeSet, now time.Time) []timeline.TimePoint {
	if len(ref) == 0 {
		return nil
	}
	n := timeline.FromTime(now)
	if s.History {
		var before []timeline.TimePoint
		for _, p := range ref {
			if p < n {
				before = append(before, p)
			}
		}
		if len(before) > s.Count {
			before = before[len(before)-s.Count:]
		}
		return before
	}
	var out []timeline.TimePoint
	for _, p := range ref {
		if p >= n {
			out = append(out, p)
			if len(out) == s.Count {
				break
			}
		}
	}
	return out
}

// floorUnit truncates t to the rule's unit. Minute and hour rules with an
// interval are further aligned to a multiple of the interval within the
// hour or day, so "every 3 hours" always lands on 00, 03, 06, ... Intervals
// that do not divide the day keep stepping from the anchor and drift after
// midnight.
func floorUnit(t time.Time, u Unit, interval int) time.Time {
	t = t.UTC()
	y, mo, d := t.Date()
	switch u {
	case Minute:
		m := t.Minute()
		if interval > 1 && interval < 60 {
			m -= m % interval
		}
		return time.Date(y, mo, d, t.Hour(), m, 0, 0, time.UTC)
	case Hour:
		h := t.Hour()
		if interval > 1 && interval < 24 {
			h -= h % interval
		}
		return time.Date(y, mo, d, h, 0, 0, 0, time.UTC)
	case Day, Week:
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

func advance(t time.Time, u Unit, n int) time.Time {
	switch u {
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Day:
		return t.AddDate(0, 0, n)
	case Week:
		return t.AddDate(0, 0, 7*n)
	case Month:
		return t.AddDate(0, n, 0)
	default:
		return t.AddDate(n, 0, 0)
	}
}

func (r *Resolver) recurrenceSeries(s Spec, anchor time.Time, count int) []timeline.TimePoint {
	var out []timeline.TimePoint
	limit := r.limit()
	for i := 0; ; i++ {
		if count > 0 && i >= count {
			break
		}
		if len(out) >= limit {
			log.Printf("timerange: %q capped at %d points", s.Clause, limit)
			break
		}
		t := advance(anchor, s.Unit, i*s.Interval)
		if s.Until != nil && t.After(*s.Until) {
			break
		}
		out = append(out, timeline.FromTime(t))
	}
	return out
}

func (r *Resolver) expandRecurrence(s Spec, now time.Time) []timeline.TimePoint {
	anchor := floorUnit(now, s.Unit, s.Interval)
	if !s.Offset.IsZero() {
		anchor = s.Offset.AddTo(anchor)
	}
	pts := r.recurrenceSeries(s, anchor, s.Count)
	if !s.History {
		return pts
	}
	return shiftHistory(s.Clause, pts, func() []timeline.TimePoint {
		return r.recurrenceSeries(s, anchor, 2)
	})
}

func (r *Resolver) cronSeries(s Spec, anchor time.Time, count int) []timeline.TimePoint {
	var out []timeline.TimePoint
	limit := r.limit()
	t := anchor.Add(-time.Second)
	for len(out) < limit {
		if count > 0 && len(out) >= count {
			break
		}
		t = s.Schedule.Next(t)
		if t.IsZero() || (s.Until != nil && t.After(*s.Until)) {
			break
		}
		out = append(out, timeline.FromTime(t))
	}
	return out
}

func (r *Resolver) expandCron(s Spec, now time.Time) []timeline.TimePoint {
	anchor := now.Truncate(time.Minute)
	if !s.Offset.IsZero() {
		anchor = s.Offset.AddTo(anchor)
	}
	pts := r.cronSeries(s, anchor, s.Count)
	if !s.History {
		return pts
	}
	return shiftHistory(s.Clause, pts, func() []timeline.TimePoint {
		return r.cronSeries(s, anchor, 2)
	})
}

// shiftHistory moves a forward series back so that it ends one step before
// its anchor. The step is the spacing of the first two points; a single
// point series re-evaluates the rule with two occurrences to find it.
func shiftHistory(clause string, pts []timeline.TimePoint, two func() []timeline.TimePoint) []timeline.TimePoint {
	if len(pts) == 0 {
		return pts
	}
	var step timeline.TimePoint
	if len(pts) >= 2 {
		step = pts[1] - pts[0]
	} else if pair := two(); len(pair) >= 2 {
		step = pair[1] - pair[0]
	} else {
		log.Printf("timerange: cannot infer step for %q; history left unshifted", clause)
		return pts
	}
	shift := pts[len(pts)-1] - pts[0] + step
	out := make([]timeline.TimePoint, len(pts))
	for i, p := range pts {
		out[i] = p - shift
	}
	return out
}

func isDuration(s string) bool {
	s = strings.TrimLeft(strings.TrimSpace(s), "+-")
	return strings.HasPrefix(strings.ToUpper(s), "P")
}

// expandItem expands one time dimension entry: a single instant,
// start/end/period, start/period (open until now), start/end, or
// Rn/start/period.
func (r *Resolver) expandItem(item string, now time.Time) ([]timeline.TimePoint, error) {
	parts := strings.Split(strings.TrimSpace(item), "/")
	switch len(parts) {
	case 1:
		t, err := parseInstant(parts[0], now)
		if err != nil {
			return nil, err
		}
		return []timeline.TimePoint{timeline.FromTime(t)}, nil
	case 2:
		start, err := parseInstant(parts[0], now)
		if err != nil {
			return nil, err
		}
		if isDuration(parts[1]) {
			period, err := parsePeriod(parts[1])
			if err != nil {
				return nil, err
			}
			return r.stepInterval(start, now, period, 0), nil
		}
		end, err := parseInstant(parts[1], now)
		if err != nil {
			return nil, err
		}
		return []timeline.TimePoint{timeline.FromTime(start), timeline.FromTime(end)}, nil
	case 3:
		if rep := strings.TrimSpace(parts[0]); strings.HasPrefix(strings.ToUpper(rep), "R") {
			n, err := strconv.Atoi(rep[1:])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: repeat %q", ErrUnknownClause, rep)
			}
			start, err := parseInstant(parts[1], now)
			if err != nil {
				return nil, err
			}
			period, err := parsePeriod(parts[2])
			if err != nil {
				return nil, err
			}
			return r.stepInterval(start, time.Time{}, period, n), nil
		}
		start, err := parseInstant(parts[0], now)
		if err != nil {
			return nil, err
		}
		end, err := parseInstant(parts[1], now)
		if err != nil {
			return nil, err
		}
		period, err := parsePeriod(parts[2])
		if err != nil {
			return nil, err
		}
		return r.stepInterval(start, end, period, 0), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownClause, item)
	}
}

func parsePeriod(s string) (Duration, error) {
	d, err := ParseDuration(s)
	if err != nil {
		return Duration{}, err
	}
	if d.Negative || d.IsZero() || d.Approx() <= 0 {
		return Duration{}, fmt.Errorf("%w: %q", ErrBadPeriod, s)
	}
	return d, nil
}

// stepInterval walks from start by period, stopping after end (when set) or
// after count points (when positive). When an end-bounded walk would exceed
// the cap, the newest points are kept.
func (r *Resolver) stepInterval(start, end time.Time, period Duration, count int) []timeline.TimePoint {
	limit := r.limit()
	first := 0
	if !end.IsZero() && count <= 0 {
		if n := int(end.Sub(start) / period.Approx()); n >= limit {
			// Calendar periods make the estimate inexact; start a little early
			// and trim below.
			first = n - limit - n/16 - 1
			if first < 0 {
				first = 0
			}
		}
	}

	var out []timeline.TimePoint
	for i := first; ; i++ {
		if count > 0 && i >= count {
			break
		}
		if end.IsZero() && len(out) >= limit {
			log.Printf("timerange: interval from %s capped at %d points", start.Format(time.RFC3339), limit)
			break
		}
		t := period.addTimes(start, i)
		if !end.IsZero() && t.After(end) {
			break
		}
		out = append(out, timeline.FromTime(t))
	}
	if first > 0 || len(out) > limit {
		log.Printf("timerange: interval %s/%s capped at the newest %d points",
			start.Format(time.RFC3339), end.Format(time.RFC3339), limit)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ParseDimension resolves a capability time dimension value, such as
// "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z/PT1H" or a comma list of
// instants and intervals. Unparseable entries are skipped; an error is
// returned only when nothing could be resolved.
func (r *Resolver) ParseDimension(text string) (timeline.TimeSet, error) {
	now := r.now()
	var (
		pts  []timeline.TimePoint
		errs []error
	)
	for _, item := range splitList(text) {
		got, err := r.expandItem(item, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		pts = append(pts, got...)
	}
	if len(pts) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrEmptyDimension, errors.Join(errs...))
		}
		return nil, ErrEmptyDimension
	}
	return timeline.Normalize(pts), nil
}
