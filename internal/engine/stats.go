package engine

import "sort"

// Window is a bounded FIFO of samples. Appending to a full window evicts the oldest value.
type Window struct {
	max int
	buf []float64
}

// NewWindow returns an empty window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{max: capacity, buf: make([]float64, 0, capacity)}
}

// Append adds v, evicting the oldest sample when the window is full.
func (w *Window) Append(v float64) {
	if len(w.buf) == w.max {
		copy(w.buf, w.buf[1:])
		w.buf = w.buf[:w.max-1]
	}
	w.buf = append(w.buf, v)
}

// Len is the number of retained samples.
func (w *Window) Len() int { return len(w.buf) }

// Cap is the configured capacity.
func (w *Window) Cap() int { return w.max }

// Values returns a copy of the samples, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.buf))
	copy(out, w.buf)
	return out
}

// Median of the retained samples; false when empty.
func (w *Window) Median() (float64, bool) { return Median(w.buf) }

// Mean of the retained samples; false when empty.
func (w *Window) Mean() (float64, bool) { return Mean(w.buf) }

// Median sorts a copy ascending and returns the middle element, or the average of the
// two middle elements for an even count. Returns false for an empty input.
func Median(xs []float64) (float64, bool) {
	n := len(xs)
	if n == 0 {
		return 0, false
	}
	s := make([]float64, n)
	copy(s, xs)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2], true
	}
	return (s[n/2-1] + s[n/2]) / 2, true
}

// Mean returns the arithmetic mean, false for an empty input.
func Mean(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), true
}

// Series names one statistics list.
type Series int

const (
	AllMoves Series = iota
	BullMoves
	BearMoves
	AllPullbacks
	BullPullbacks
	BearPullbacks
	AllRanges
	RecentRanges
	BullTrendLengths
	BearTrendLengths
	BullTrendMaxPullbacks
	BearTrendMaxPullbacks
	numSeries
)

var seriesNames = [numSeries]string{
	"all_moves", "bull_moves", "bear_moves",
	"all_pullbacks", "bull_pullbacks", "bear_pullbacks",
	"all_ranges", "recent_ranges",
	"bull_trend_lengths", "bear_trend_lengths",
	"bull_trend_max_pullbacks", "bear_trend_max_pullbacks",
}

func (s Series) String() string {
	if s < 0 || s >= numSeries {
		return "unknown"
	}
	return seriesNames[s]
}

// swingSeries are the per-swing lists; potentialSeries feed the maximum-potential report.
var (
	swingSeries = []Series{
		AllMoves, BullMoves, BearMoves,
		AllPullbacks, BullPullbacks, BearPullbacks,
		AllRanges, RecentRanges,
	}
	potentialSeries = []Series{
		BullTrendLengths, BearTrendLengths,
		BullTrendMaxPullbacks, BearTrendMaxPullbacks,
	}
)

// Stats owns every sample list, indexed by Series.
type Stats struct {
	w [numSeries]*Window
}

func newStats(capacity, recentCap int) *Stats {
	s := &Stats{}
	for i := range s.w {
		s.w[i] = NewWindow(capacity)
	}
	s.w[RecentRanges] = NewWindow(recentCap)
	return s
}

// Append adds a sample in ticks to one list.
func (s *Stats) Append(k Series, v float64) { s.w[k].Append(v) }

// Len of one list.
func (s *Stats) Len(k Series) int { return s.w[k].Len() }

// Values of one list, oldest first.
func (s *Stats) Values(k Series) []float64 { return s.w[k].Values() }

// Median of one list.
func (s *Stats) Median(k Series) Maybe { return maybe(s.w[k].Median()) }

// Mean of one list.
func (s *Stats) Mean(k Series) Maybe { return maybe(s.w[k].Mean()) }

func (s *Stats) summary(ks []Series) []SeriesSummary {
	out := make([]SeriesSummary, 0, len(ks))
	for _, k := range ks {
		out = append(out, SeriesSummary{
			Name:   k.String(),
			Count:  s.Len(k),
			Median: s.Median(k),
			Mean:   s.Mean(k),
		})
	}
	return out
}

func maybe(v float64, ok bool) Maybe {
	if !ok {
		return None()
	}
	return Some(v)
}
