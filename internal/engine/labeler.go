package engine

import "github.com/shopspring/decimal"

// swingHistory keeps the most recent swing points of one kind, oldest first.
type swingHistory struct {
	max    int
	points []SwingPoint
}

func newSwingHistory(capacity int) *swingHistory {
	return &swingHistory{max: capacity, points: make([]SwingPoint, 0, capacity)}
}

func (h *swingHistory) last() (SwingPoint, bool) {
	if len(h.points) == 0 {
		return SwingPoint{}, false
	}
	return h.points[len(h.points)-1], true
}

func (h *swingHistory) push(p SwingPoint) {
	if len(h.points) == h.max {
		copy(h.points, h.points[1:])
		h.points = h.points[:h.max-1]
	}
	h.points = append(h.points, p)
}

// tail returns a copy of the last n points (fewer if not available).
func (h *swingHistory) tail(n int) []SwingPoint {
	if n > len(h.points) {
		n = len(h.points)
	}
	out := make([]SwingPoint, n)
	copy(out, h.points[len(h.points)-n:])
	return out
}

func (h *swingHistory) all() []SwingPoint { return h.tail(len(h.points)) }

// ticks converts price distances to ticks without binary float drift (0.1 + 0.2 style).
type ticks struct {
	size decimal.Decimal
}

func newTicks(tickSize float64) ticks { return ticks{size: decimal.NewFromFloat(tickSize)} }

func (t ticks) between(a, b float64) float64 {
	d := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs().Div(t.size)
	f, _ := d.Float64()
	return f
}

// label classifies price against the previous same-kind swing point only.
func label(kind Kind, price float64, prior SwingPoint, hasPrior bool) Label {
	if kind == High {
		switch {
		case !hasPrior:
			return LabelHigh
		case price > prior.Price:
			return HH
		default:
			return LH
		}
	}
	switch {
	case !hasPrior:
		return LabelLow
	case price < prior.Price:
		return LL
	default:
		return HL
	}
}

// addPivot labels ev, records range/move/pullback samples, advances the trend segment
// and appends the new swing point. Same-price repeats of the last same-kind pivot are
// ignored and reported as not added.
func (e *Engine) addPivot(ev PivotEvent, barIndex int) (SwingPoint, bool) {
	same, other := e.highs, e.lows
	if ev.Kind == Low {
		same, other = e.lows, e.highs
	}

	prior, hasPrior := same.last()
	if hasPrior && prior.Price == ev.Price {
		return SwingPoint{}, false
	}

	e.seq++
	p := SwingPoint{
		Price:      ev.Price,
		Bar:        barIndex - ev.BarsAgo,
		BarOffset:  ev.BarsAgo,
		Kind:       ev.Kind,
		Label:      label(ev.Kind, ev.Price, prior, hasPrior),
		SequenceID: e.seq,
	}

	opp, hasOpp := other.last()
	if hasOpp {
		r := e.ticks.between(p.Price, opp.Price)
		e.stats.Append(AllRanges, r)
		e.stats.Append(RecentRanges, r)
	}

	pullback, hasPullback := 0.0, false
	if hasOpp {
		switch {
		case p.Label == HH && opp.Label == HL:
			m := e.ticks.between(p.Price, opp.Price)
			e.stats.Append(BullMoves, m)
			e.stats.Append(AllMoves, m)
		case p.Label == LL && opp.Label == LH:
			m := e.ticks.between(p.Price, opp.Price)
			e.stats.Append(BearMoves, m)
			e.stats.Append(AllMoves, m)
		case p.Label == HL && opp.Label == HH:
			pullback, hasPullback = e.ticks.between(opp.Price, p.Price), true
			e.stats.Append(BullPullbacks, pullback)
			e.stats.Append(AllPullbacks, pullback)
		case p.Label == LH && opp.Label == LL:
			pullback, hasPullback = e.ticks.between(opp.Price, p.Price), true
			e.stats.Append(BearPullbacks, pullback)
			e.stats.Append(AllPullbacks, pullback)
		}
	}

	e.segment.advance(e, p, pullback, hasPullback)
	same.push(p)
	return p, true
}
