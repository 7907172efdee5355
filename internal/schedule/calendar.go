package schedule

import "errors"

var (
	ErrInvalidWorkingHours = errors.New("working hours must open before they close")
	ErrInvalidGranularity  = errors.New("slot granularity must be positive")
)

// WorkingHours is the fixed daily template candidate slots are generated from.
type WorkingHours struct {
	Open  TimeOfDay
	Close TimeOfDay
}

// ParseWorkingHours builds a template from "HH:MM" bounds.
func ParseWorkingHours(open, close string) (WorkingHours, error) {
	o, err := ParseTimeOfDay(open)
	if err != nil {
		return WorkingHours{}, err
	}
	c, err := ParseTimeOfDay(close)
	if err != nil {
		return WorkingHours{}, err
	}
	wh := WorkingHours{Open: o, Close: c}
	if o >= c {
		return WorkingHours{}, ErrInvalidWorkingHours
	}
	return wh, nil
}

// AvailableSlots computes the bookable intervals for one provider-day: candidate
// starts step through the working-hours window at the given granularity (in
// minutes), each candidate ends granularity later, and any candidate
// intersecting a booked interval is dropped. Booked intervals must come from
// non-cancelled appointments only; the caller owns that filter.
//
// The result is recomputed from its inputs on every call. Bookings mutate the
// source of truth between requests, so nothing here may be cached, and the
// returned slice is only a snapshot that the booking path re-validates at write
// time.
func AvailableSlots(hours WorkingHours, granularityMinutes int, booked []Interval) ([]Interval, error) {
	if hours.Open >= hours.Close {
		return nil, ErrInvalidWorkingHours
	}
	if granularityMinutes <= 0 {
		return nil, ErrInvalidGranularity
	}

	step := TimeOfDay(granularityMinutes)
	var free []Interval
	for start := hours.Open; start+step <= hours.Close; start += step {
		candidate := Interval{Start: start, End: start + step}
		if intersectsAny(candidate, booked) {
			continue
		}
		free = append(free, candidate)
	}
	return free, nil
}

func intersectsAny(candidate Interval, booked []Interval) bool {
	for _, b := range booked {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
