package usecase

import (
	"fmt"
	"time"
)

// TradingHours gates profile recommendations to a daily session window.
// A disabled gate is always active. Start after End means the window crosses midnight.
type TradingHours struct {
	enabled      bool
	start, end   int // minutes after local midnight
	loc          *time.Location
	weekdaysOnly bool
}

// AlwaysOpen is a disabled gate.
func AlwaysOpen() *TradingHours { return &TradingHours{} }

// NewTradingHours parses "HH:MM" bounds in the named IANA location.
func NewTradingHours(start, end, location string, weekdaysOnly bool) (*TradingHours, error) {
	loc, err := time.LoadLocation(location)
	if err != nil {
		return nil, fmt.Errorf("trading hours location %q: %w", location, err)
	}
	s, err := parseClock(start)
	if err != nil {
		return nil, err
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, err
	}
	if s == e {
		return nil, fmt.Errorf("trading hours: empty window %s-%s", start, end)
	}
	return &TradingHours{enabled: true, start: s, end: e, loc: loc, weekdaysOnly: weekdaysOnly}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("trading hours: bad clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Active reports whether t falls inside the window.
func (h *TradingHours) Active(t time.Time) bool {
	if h == nil || !h.enabled {
		return true
	}
	lt := t.In(h.loc)
	if h.weekdaysOnly && (lt.Weekday() == time.Saturday || lt.Weekday() == time.Sunday) {
		return false
	}
	m := lt.Hour()*60 + lt.Minute()
	if h.start < h.end {
		return m >= h.start && m < h.end
	}
	return m >= h.start || m < h.end
}
