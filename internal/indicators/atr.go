package indicators

import (
	"fmt"
	"math"
)

// ATR is Wilder's average true range. The first value is the plain mean of the
// first period true ranges, then tr is smoothed with (prev*(p-1) + tr) / p.
type ATR struct {
	period    int
	prevClose float64
	havePrev  bool
	seed      float64
	n         int
	value     float64
}

func NewATR(period int) (*ATR, error) {
	if period <= 0 {
		return nil, fmt.Errorf("atr: period must be positive, got %d", period)
	}
	return &ATR{period: period}, nil
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

func (a *ATR) Update(high, low, close float64) (float64, bool) {
	tr := high - low
	if a.havePrev {
		tr = TrueRange(high, low, a.prevClose)
	}
	a.prevClose, a.havePrev = close, true

	switch {
	case a.n < a.period:
		a.seed += tr
		a.n++
		if a.n == a.period {
			a.value = a.seed / float64(a.period)
		}
	default:
		a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	}
	return a.Value()
}

func (a *ATR) Value() (float64, bool) {
	if a.n < a.period {
		return 0, false
	}
	return a.value, true
}
