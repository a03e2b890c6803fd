package attendance

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseClockTime parses a time of day in HH:MM or HH:MM:SS form. Seconds
// are dropped.
func ParseClockTime(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewClockTime(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("%w: %q is not a time of day", ErrMalformedShift, s)
}

// ParseDuration parses a shift length written as HH:MM[:SS], a Go duration
// string ("7h30m") or decimal hours ("7.5").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDuration)
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) > 3 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		var total time.Duration
		units := []time.Duration{time.Hour, time.Minute, time.Second}
		for i, part := range parts {
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 || (i > 0 && n >= 60) {
				return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
			}
			total += time.Duration(n) * units[i]
		}
		return total, nil
	}

	if hours, err := strconv.ParseFloat(s, 64); err == nil {
		if hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		return time.Duration(hours * float64(time.Hour)), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return d, nil
}

// DurationOrZero folds a parse failure into a zero duration.
func DurationOrZero(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
