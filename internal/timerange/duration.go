package timerange

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

// Duration is an ISO 8601 duration such as "PT15M", "P1D" or "-PT1H".
// Calendar parts are kept separate so that adding a month or a year follows
// the calendar instead of a fixed number of hours.
type Duration struct {
	Negative bool
	Years    int
	Months   int
	Weeks    int
	Days     int
	Hours    int
	Minutes  int
	Seconds  float64
}

// IsZero reports whether every component is zero.
func (d Duration) IsZero() bool {
	return d.Years == 0 && d.Months == 0 && d.Weeks == 0 && d.Days == 0 &&
		d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0
}

// AddTo returns t shifted by d (or by -d when d is negative).
func (d Duration) AddTo(t time.Time) time.Time {
	return d.addTimes(t, 1)
}

func (d Duration) addTimes(t time.Time, n int) time.Time {
	sign := n
	if d.Negative {
		sign = -n
	}
	t = t.AddDate(sign*d.Years, sign*d.Months, sign*(d.Weeks*7+d.Days))
	clock := time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds*float64(time.Second))
	return t.Add(time.Duration(sign) * clock)
}

// Approx converts d to a fixed duration using 30-day months and 365-day
// years. Only used where a calendar-exact value is not needed.
func (d Duration) Approx() time.Duration {
	days := d.Years*365 + d.Months*30 + d.Weeks*7 + d.Days
	out := time.Duration(days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds*float64(time.Second))
	if d.Negative {
		return -out
	}
	return out
}

func (d Duration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	writePart := func(v int, unit byte) {
		if v != 0 {
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(unit)
		}
	}
	writePart(d.Years, 'Y')
	writePart(d.Months, 'M')
	writePart(d.Weeks, 'W')
	writePart(d.Days, 'D')
	if d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0 {
		b.WriteByte('T')
		writePart(d.Hours, 'H')
		writePart(d.Minutes, 'M')
		if d.Seconds != 0 {
			b.WriteString(strconv.FormatFloat(d.Seconds, 'f', -1, 64))
			b.WriteByte('S')
		}
	}
	if b.Len() == 1 || (d.Negative && b.Len() == 2) {
		b.WriteString("T0S")
	}
	return b.String()
}

// ParseDuration parses a signed ISO 8601 duration. Only seconds may carry a
// fraction; calendar and clock parts are whole numbers.
func ParseDuration(s string) (Duration, error) {
	in := strings.ToUpper(strings.TrimSpace(s))
	in = strings.TrimPrefix(in, "+")
	in = strings.ReplaceAll(in, ",", ".")
	body := strings.TrimPrefix(strings.TrimPrefix(in, "-"), "P")
	if body == "" || !strings.ContainsRune("YMWDHS", rune(body[len(body)-1])) {
		return Duration{}, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}

	parsed, err := duration.Parse(in)
	if err != nil {
		return Duration{}, fmt.Errorf("%w: %q: %v", ErrBadDuration, s, err)
	}

	d := Duration{Negative: parsed.Negative, Seconds: parsed.Seconds}
	parts := []struct {
		unit string
		v    float64
		dst  *int
	}{
		{"years", parsed.Years, &d.Years},
		{"months", parsed.Months, &d.Months},
		{"weeks", parsed.Weeks, &d.Weeks},
		{"days", parsed.Days, &d.Days},
		{"hours", parsed.Hours, &d.Hours},
		{"minutes", parsed.Minutes, &d.Minutes},
	}
	for _, p := range parts {
		if p.v != math.Trunc(p.v) {
			return Duration{}, fmt.Errorf("%w: %q: fractional %s", ErrBadDuration, s, p.unit)
		}
		*p.dst = int(p.v)
	}
	return d, nil
}
