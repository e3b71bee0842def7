package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"seasonbook/internal/models"
)

// window is a requested or booked slot: a date range plus an optional daily time slot.
type window struct {
	start, end time.Time // dates, inclusive
	from, to   int       // minutes since midnight; -1 for whole day
}

func (w window) wholeDay() bool { return w.from < 0 || w.to < 0 }

func (w window) covers(day time.Time) bool {
	return !day.Before(w.start) && !day.After(w.end)
}

// overlapsOn reports whether w and o collide on day. Two timed slots collide when
// s1 < e2 && s2 < e1; a whole-day slot collides with everything on its dates.
func (w window) overlapsOn(o window, day time.Time) bool {
	if !w.covers(day) || !o.covers(day) {
		return false
	}
	if w.wholeDay() || o.wholeDay() {
		return true
	}
	return w.from < o.to && o.from < w.to
}

func (w window) days() []time.Time {
	var out []time.Time
	for d := w.start; !d.After(w.end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func (w window) shift(days int) window {
	w.start = w.start.AddDate(0, 0, days)
	w.end = w.end.AddDate(0, 0, days)
	return w
}

func bookingWindow(b *models.Booking) window {
	w := window{start: models.DateOnly(b.StartDate), end: models.DateOnly(b.EndDate), from: -1, to: -1}
	if w.end.Before(w.start) {
		w.end = w.start
	}
	if from, err := parseClock(b.StartTime); err == nil {
		if to, err := parseClock(b.EndTime); err == nil && to > from {
			w.from, w.to = from, to
		}
	}
	return w
}

// parseClock converts "HH:MM" to minutes since midnight. Empty input yields -1.
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}
