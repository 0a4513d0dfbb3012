package update

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Period is a normalized update period
type Period struct {
	Never bool
	Once  bool
	Every time.Duration
}

var unitRatios = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
}

// ParsePeriod normalizes an update period. Numbers are milliseconds. Strings are "never",
// "once", or a number followed by one of the units s, m or h, e.g. "90s" or "1.5h".
func ParsePeriod(v any) (Period, error) {
	var ms float64
	switch p := v.(type) {
	case time.Duration:
		if p <= 0 {
			return Period{}, fmt.Errorf("update period %s must be positive", p)
		}
		return Period{Every: p}, nil
	case int:
		ms = float64(p)
	case int64:
		ms = float64(p)
	case uint64:
		ms = float64(p)
	case float64:
		ms = p
	case string:
		return parsePeriodString(p)
	default:
		return Period{}, fmt.Errorf("update period %v has an invalid format", v)
	}
	d, err := toDuration(ms, time.Millisecond)
	if err != nil {
		return Period{}, fmt.Errorf("update period %v %w", v, err)
	}
	return Period{Every: d}, nil
}

func parsePeriodString(s string) (Period, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "never":
		return Period{Never: true}, nil
	case "once":
		return Period{Once: true}, nil
	case "":
		return Period{}, fmt.Errorf("update period is empty")
	}
	ratio, ok := unitRatios[s[len(s)-1]]
	if !ok {
		return Period{}, fmt.Errorf("update period %q has an invalid format", s)
	}
	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil {
		return Period{}, fmt.Errorf("update period %q has an invalid format", s)
	}
	d, err := toDuration(n, ratio)
	if err != nil {
		return Period{}, fmt.Errorf("update period %q %w", s, err)
	}
	return Period{Every: d}, nil
}

// toDuration converts n units to a duration that fits a ticker: finite, positive
// and no larger than the max duration
func toDuration(n float64, unit time.Duration) (time.Duration, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("is not a number")
	}
	v := n * float64(unit)
	if v >= math.MaxInt64 {
		return 0, fmt.Errorf("is too large")
	}
	if d := time.Duration(v); d > 0 {
		return d, nil
	}
	return 0, fmt.Errorf("must be positive")
}

func (p Period) String() string {
	switch {
	case p.Never:
		return "never"
	case p.Once:
		return "once"
	}
	return p.Every.String()
}
