package engine

// priceSpan is max - min over the given points.
func priceSpan(ps []SwingPoint) float64 {
	lo, hi := ps[0].Price, ps[0].Price
	for _, p := range ps[1:] {
		if p.Price < lo {
			lo = p.Price
		}
		if p.Price > hi {
			hi = p.Price
		}
	}
	return hi - lo
}

// evalCompression checks the last four highs and the last four lows against
// ATR x multiplier. Both sides have to be tight. The result is not latched.
func (e *Engine) evalCompression(atr Maybe) Compression {
	var c Compression
	if a, ok := atr.Get(); ok {
		c.Threshold = Some(a * e.cfg.CompressionMultiplier)
	}

	highs := e.highs.tail(compressionPivots)
	lows := e.lows.tail(compressionPivots)
	if len(highs) == compressionPivots {
		c.HighRange = Some(priceSpan(highs))
	}
	if len(lows) == compressionPivots {
		c.LowRange = Some(priceSpan(lows))
	}

	t, okT := c.Threshold.Get()
	h, okH := c.HighRange.Get()
	l, okL := c.LowRange.Get()
	c.Active = okT && okH && okL && h < t && l < t
	return c
}
