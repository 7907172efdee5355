package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidTimeOfDay = errors.New("time of day must be HH:MM between 00:00 and 24:00")

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
// 24:00 (1440) is a valid end-of-day bound for closing times.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM". The whole string must be consumed;
// trailing characters ("08:30:59", "08:30xyz") are rejected, not truncated.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, found := strings.Cut(s, ":")
	if !found {
		return 0, ErrInvalidTimeOfDay
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, ErrInvalidTimeOfDay
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, ErrInvalidTimeOfDay
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, ErrInvalidTimeOfDay
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Interval is a half-open [Start, End) span within a single day.
type Interval struct {
	Start TimeOfDay `json:"start_time"`
	End   TimeOfDay `json:"end_time"`
}

// Valid reports whether the interval is non-empty and within the day.
func (iv Interval) Valid() bool {
	return iv.Start >= 0 && iv.End <= 24*60 && iv.Start < iv.End
}

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints ([08:00,08:30) and [08:30,09:00)) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s,%s)", iv.Start, iv.End)
}
