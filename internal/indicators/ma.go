// Package indicators holds the incremental indicators the structure engine is fed with.
// Every indicator reports (0, false) until it has seen enough input.
package indicators

import "fmt"

// SMA is a simple moving average over the last period values.
type SMA struct {
	period int
	buf    []float64
	pos    int
	n      int
	sum    float64
}

func NewSMA(period int) (*SMA, error) {
	if period <= 0 {
		return nil, fmt.Errorf("sma: period must be positive, got %d", period)
	}
	return &SMA{period: period, buf: make([]float64, period)}, nil
}

// Update adds x and returns the new average when warmed up.
func (s *SMA) Update(x float64) (float64, bool) {
	if s.n == s.period {
		s.sum -= s.buf[s.pos]
	} else {
		s.n++
	}
	s.buf[s.pos] = x
	s.sum += x
	s.pos = (s.pos + 1) % s.period
	return s.Value()
}

func (s *SMA) Value() (float64, bool) {
	if s.n < s.period {
		return 0, false
	}
	return s.sum / float64(s.period), true
}

func (s *SMA) Period() int { return s.period }
