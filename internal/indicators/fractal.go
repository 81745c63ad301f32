package indicators

import (
	"fmt"

	"SwingPull/internal/engine"
)

type hl struct{ high, low float64 }

// FractalDetector confirms a bar as a swing high when its high is >= every high
// strength bars to each side (lows symmetric). A pivot is reported strength bars
// after it formed. A pivot at the same price as the previous one of its kind is
// not reported again, so flat tops yield one event.
type FractalDetector struct {
	strength int
	win      []hl

	lastHigh, lastLow float64
	haveHigh, haveLow bool
}

func NewFractalDetector(strength int) (*FractalDetector, error) {
	if strength <= 0 {
		return nil, fmt.Errorf("fractal: strength must be positive, got %d", strength)
	}
	return &FractalDetector{strength: strength, win: make([]hl, 0, 2*strength+1)}, nil
}

// Update adds one bar and returns the pivots confirmed by it. An outside bar can
// be both; the high is returned first.
func (f *FractalDetector) Update(high, low float64) []engine.PivotEvent {
	size := 2*f.strength + 1
	if len(f.win) == size {
		copy(f.win, f.win[1:])
		f.win = f.win[:size-1]
	}
	f.win = append(f.win, hl{high, low})
	if len(f.win) < size {
		return nil
	}

	c := f.win[f.strength]
	isHigh, isLow := true, true
	for i, b := range f.win {
		if i == f.strength {
			continue
		}
		if b.high > c.high {
			isHigh = false
		}
		if b.low < c.low {
			isLow = false
		}
	}

	var out []engine.PivotEvent
	if isHigh && !(f.haveHigh && f.lastHigh == c.high) {
		f.lastHigh, f.haveHigh = c.high, true
		out = append(out, engine.PivotEvent{Price: c.high, BarsAgo: f.strength, Kind: engine.High})
	}
	if isLow && !(f.haveLow && f.lastLow == c.low) {
		f.lastLow, f.haveLow = c.low, true
		out = append(out, engine.PivotEvent{Price: c.low, BarsAgo: f.strength, Kind: engine.Low})
	}
	return out
}
