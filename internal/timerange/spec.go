// Package timerange turns textual time range specifications into concrete,
// ascending sequences of time points.
//
// A specification is one or more clauses joined with "AND":
//
//	every hour for 5 times history
//	every 3 hours for 8 times
//	every 15 minutes until 2024-01-01T12:00:00Z
//	cron "0 */6 * * *" for 4 times
//	6 times history
//	2024-01-01T00:00:00Z/present/PT1H
//	2024-01-01T00:00:00Z, 2024-01-01T06:00:00Z
//
// Clauses that fail to parse are reported and skipped; the remaining clauses
// still resolve.
package timerange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/weather-time-animator/internal/common"
	"github.com/robfig/cron/v3"
)

var (
	ErrUnknownClause  = errors.New("unrecognized time range clause")
	ErrBadDuration    = errors.New("invalid ISO 8601 duration")
	ErrBadInstant     = errors.New("invalid instant")
	ErrUnboundedRule  = errors.New("recurrence needs a count or an end")
	ErrBadPeriod      = errors.New("interval period must be positive")
	ErrBadCron        = errors.New("invalid cron expression")
	ErrEmptyDimension = errors.New("no times in dimension")
)

// ParseError reports a clause that was skipped.
type ParseError struct {
	Clause string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("time range clause %q: %v", e.Clause, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Kind tags the variant held by a Spec.
type Kind int

const (
	KindExplicit Kind = iota
	KindRecurrence
	KindCount
	KindInterval
	KindCron
)

func (k Kind) String() string {
	switch k {
	case KindExplicit:
		return "explicit"
	case KindRecurrence:
		return "recurrence"
	case KindCount:
		return "count"
	case KindInterval:
		return "interval"
	case KindCron:
		return "cron"
	default:
		return "unknown"
	}
}

// Unit is the frequency of a recurrence rule.
type Unit int

const (
	Minute Unit = iota
	Hour
	Day
	Week
	Month
	Year
)

// Spec is one parsed clause.
type Spec struct {
	Kind   Kind
	Clause string

	// KindExplicit and KindInterval: list items.
	Items []string

	// KindRecurrence.
	Unit     Unit
	Interval int
	Until    *time.Time

	// KindCron.
	Schedule cron.Schedule

	// KindRecurrence, KindCron and KindCount.
	Count   int
	History bool

	// Offset shifts the recurrence anchor before expansion.
	Offset Duration
}

var (
	andSplit  = regexp.MustCompile(`(?i)\s+and\s+`)
	countRule = regexp.MustCompile(`(?i)^(\d+)\s+times?(\s+history)?$`)
	cronRule  = regexp.MustCompile(`(?i)^cron\s+"([^"]+)"(.*)$`)
)

// Parse splits text into clauses and parses each one. Clauses that cannot be
// parsed are returned as *ParseError values and left out of the specs.
func Parse(text string) ([]Spec, []error) {
	var (
		specs []Spec
		errs  []error
	)
	for _, clause := range andSplit.Split(strings.TrimSpace(text), -1) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		spec, err := parseClause(clause)
		if err != nil {
			errs = append(errs, &ParseError{Clause: clause, Err: err})
			continue
		}
		specs = append(specs, spec)
	}
	return specs, errs
}

// Explicit builds an explicit spec from a list of instants.
func Explicit(items []string) Spec {
	return Spec{Kind: KindExplicit, Clause: strings.Join(items, ","), Items: items}
}

func parseClause(clause string) (Spec, error) {
	lower := strings.ToLower(clause)
	switch {
	case strings.HasPrefix(lower, "every "):
		return parseRecurrence(clause, strings.Fields(lower)[1:])
	case strings.HasPrefix(lower, "cron "):
		return parseCron(clause)
	case countRule.MatchString(clause):
		m := countRule.FindStringSubmatch(clause)
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Spec{}, fmt.Errorf("%w: bad count", ErrUnknownClause)
		}
		return Spec{Kind: KindCount, Clause: clause, Count: n, History: m[2] != ""}, nil
	case common.HasAny(clause, "/"):
		return Spec{Kind: KindInterval, Clause: clause, Items: splitList(clause)}, nil
	case common.HasAny(lower, "every", "times", "history"):
		return Spec{}, ErrUnknownClause
	default:
		return Spec{Kind: KindExplicit, Clause: clause, Items: splitList(clause)}, nil
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var units = map[string]Unit{
	"minute": Minute, "minutes": Minute, "min": Minute, "mins": Minute,
	"hour": Hour, "hours": Hour,
	"day": Day, "days": Day,
	"week": Week, "weeks": Week,
	"month": Month, "months": Month,
	"year": Year, "years": Year,
}

// parseRecurrence handles "every [N] unit [for N times] [until DATE] [history]".
func parseRecurrence(clause string, toks []string) (Spec, error) {
	s := Spec{Kind: KindRecurrence, Clause: clause, Interval: 1}
	if len(toks) == 0 {
		return Spec{}, ErrUnknownClause
	}
	if n, err := strconv.Atoi(toks[0]); err == nil {
		if n <= 0 {
			return Spec{}, fmt.Errorf("%w: interval %d", ErrUnknownClause, n)
		}
		s.Interval = n
		toks = toks[1:]
	}
	if len(toks) == 0 {
		return Spec{}, ErrUnknownClause
	}
	u, ok := units[toks[0]]
	if !ok {
		return Spec{}, fmt.Errorf("%w: unit %q", ErrUnknownClause, toks[0])
	}
	s.Unit = u
	toks = toks[1:]

	if err := parseTail(&s, toks); err != nil {
		return Spec{}, err
	}
	if s.Count == 0 && s.Until == nil {
		return Spec{}, ErrUnboundedRule
	}
	return s, nil
}

// parseTail consumes the "for N times", "until DATE" and "history" modifiers
// shared by recurrence and cron clauses.
func parseTail(s *Spec, toks []string) error {
	for i := 0; i < len(toks); i++ {
		switch toks[i] {
		case "for":
			if i+1 >= len(toks) {
				return fmt.Errorf("%w: dangling 'for'", ErrUnknownClause)
			}
			n, err := strconv.Atoi(toks[i+1])
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: bad count %q", ErrUnknownClause, toks[i+1])
			}
			s.Count = n
			i++
			if i+1 < len(toks) && (toks[i+1] == "times" || toks[i+1] == "time") {
				i++
			}
		case "until":
			if i+1 >= len(toks) {
				return fmt.Errorf("%w: dangling 'until'", ErrUnknownClause)
			}
			t, err := parseInstant(toks[i+1], time.Time{})
			if err != nil {
				return err
			}
			s.Until = &t
			i++
		case "history":
			s.History = true
		default:
			return fmt.Errorf("%w: unexpected %q", ErrUnknownClause, toks[i])
		}
	}
	return nil
}

func parseCron(clause string) (Spec, error) {
	m := cronRule.FindStringSubmatch(clause)
	if m == nil {
		return Spec{}, fmt.Errorf("%w: expected cron \"<expr>\"", ErrBadCron)
	}
	expr := strings.TrimSpace(m[1])
	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		expr = "CRON_TZ=UTC " + expr
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrBadCron, err)
	}
	s := Spec{Kind: KindCron, Clause: clause, Schedule: sched}
	if err := parseTail(&s, strings.Fields(strings.ToLower(m[2]))); err != nil {
		return Spec{}, err
	}
	if s.Count == 0 && s.Until == nil {
		return Spec{}, ErrUnboundedRule
	}
	return s, nil
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseInstant parses an absolute instant. "present" and "now" resolve to
// now. Bare integers are epoch milliseconds.
func parseInstant(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "present", "now":
		if now.IsZero() {
			return time.Time{}, fmt.Errorf("%w: %q not allowed here", ErrBadInstant, s)
		}
		return now, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	upper := strings.ToUpper(s)
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, upper); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadInstant, s)
}
