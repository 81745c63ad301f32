package engine

type direction int8

const (
	flat direction = iota
	up
	down
)

// segment tracks the open run of same-direction labels (HH/HL or LH/LL).
// A run only counts once it has a confirming pivot: HH for up, LL for down.
type segment struct {
	dir         direction
	origin      float64
	confirm     float64
	confirmed   bool
	maxPullback float64
}

func labelDirection(l Label) direction {
	switch {
	case l.bullish():
		return up
	case l.bearish():
		return down
	}
	return flat
}

// advance feeds one freshly labeled pivot. It must run before p is pushed into
// its history so that the previous swing points are still the last ones.
func (s *segment) advance(e *Engine, p SwingPoint, pullback float64, hasPullback bool) {
	dir := labelDirection(p.Label)
	if dir == flat {
		return
	}

	if s.dir == dir {
		if hasPullback && pullback > s.maxPullback {
			s.maxPullback = pullback
		}
		if p.Label == HH || p.Label == LL {
			s.confirm, s.confirmed = p.Price, true
		}
		return
	}

	s.close(e)
	*s = segment{dir: dir, origin: s.originFor(e, p)}
	if p.Label == HH || p.Label == LL {
		s.confirm, s.confirmed = p.Price, true
	}
}

// originFor picks the starting price of a new run. A run opened by a pullback label
// (HL, LH) starts at that pivot; one opened by a breakout label (HH, LL) starts at
// the opposite extreme it broke away from.
func (s *segment) originFor(e *Engine, p SwingPoint) float64 {
	if p.Label == HL || p.Label == LH {
		return p.Price
	}
	same, other := e.highs, e.lows
	if p.Kind == Low {
		same, other = e.lows, e.highs
	}
	if o, ok := other.last(); ok {
		return o.Price
	}
	if o, ok := same.last(); ok {
		return o.Price
	}
	return p.Price
}

// close records a confirmed run into the maximum-potential lists and resets.
func (s *segment) close(e *Engine) {
	if s.dir != flat && s.confirmed {
		length := e.ticks.between(s.confirm, s.origin)
		if s.dir == up {
			e.stats.Append(BullTrendLengths, length)
			e.stats.Append(BullTrendMaxPullbacks, s.maxPullback)
		} else {
			e.stats.Append(BearTrendLengths, length)
			e.stats.Append(BearTrendMaxPullbacks, s.maxPullback)
		}
	}
	*s = segment{}
}
