package engine

func macroOf(close float64, fast, slow Maybe) Macro {
	f, okF := fast.Get()
	s, okS := slow.Get()
	if !okF || !okS {
		return MacroNeutral
	}
	switch {
	case close > f && close > s:
		return MacroBullish
	case close < f && close < s:
		return MacroBearish
	}
	return MacroNeutral
}

// sequence reports whether the latest high/low pair prints a bullish or bearish sequence.
func (e *Engine) sequence() (trendingUp, trendingDown bool) {
	h, okH := e.highs.last()
	l, okL := e.lows.last()
	if !okH || !okL {
		return false, false
	}
	return h.Label == HH && l.Label == HL, h.Label == LH && l.Label == LL
}

// updateTrend runs macro, compression, current and micro in that order.
// addedPivot tells whether this bar produced at least one new swing point.
func (e *Engine) updateTrend(bar Bar, addedPivot bool) {
	prev := e.trend
	next := TrendState{
		Macro:         macroOf(bar.Close, bar.FastAverage, bar.SlowAverage),
		Micro:         Following,
		SequenceCount: prev.SequenceCount,
	}

	e.compression = e.evalCompression(bar.ATR)
	if e.compression.Active {
		next.Current = Compressed
		next.SequenceCount = 0
	} else {
		trendingUp, trendingDown := e.sequence()
		switch {
		case trendingUp:
			next.SequenceCount = e.nextCount(prev, prev.Current == TrendingBull || prev.Current == StronglyBull, addedPivot)
			next.Current = TrendingBull
			if next.SequenceCount > e.cfg.StrongThreshold {
				next.Current = StronglyBull
			}
		case trendingDown:
			next.SequenceCount = e.nextCount(prev, prev.Current == TrendingBear || prev.Current == StronglyBear, addedPivot)
			next.Current = TrendingBear
			if next.SequenceCount > e.cfg.StrongThreshold {
				next.Current = StronglyBear
			}
		default:
			next.SequenceCount = 0
			next.Current = Sideways
			if s, ok := bar.SlowAverage.Get(); ok {
				switch {
				case bar.Close > s:
					next.Current = WeakBull
				case bar.Close < s:
					next.Current = WeakBear
				}
			}
		}

		// context is the classification the bar arrived with; the updated one always
		// agrees with the sequence
		switch {
		case prev.Current.bullContext() && trendingDown:
			next.Micro = EarlyReversalShort
		case prev.Current.bearContext() && trendingUp:
			next.Micro = EarlyReversalLong
		}
	}

	if e.started && next.Current == prev.Current {
		next.BarsInCurrentState = prev.BarsInCurrentState + 1
	}
	e.trend = next
}

func (e *Engine) nextCount(prev TrendState, continuing, addedPivot bool) int {
	if !continuing {
		return 1
	}
	if e.cfg.SequenceCounting == CountPerPivot && !addedPivot {
		return prev.SequenceCount
	}
	return prev.SequenceCount + 1
}

func conditionOf(t TrendState, bar Bar, volatileMult float64) Condition {
	if t.Current == Compressed {
		return ConditionCompressed
	}
	atr, okA := bar.ATR.Get()
	avg, okV := bar.ATRAverage.Get()
	if okA && okV && atr > avg*volatileMult {
		return ConditionVolatile
	}
	if t.Current.ranging() {
		return ConditionRanging
	}
	return ConditionTrending
}
