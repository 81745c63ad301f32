// Package engine classifies market structure from a stream of bars and pivot events
// and derives advisory risk profiles from rolling statistics of past swings.
//
// One Engine serves one (symbol, timeframe) stream. It is not safe for concurrent use.
package engine

import (
	"fmt"
	"math"

	applogger "SwingPull/pkg/logger"
)

type Engine struct {
	cfg   Config
	ticks ticks

	highs, lows *swingHistory
	stats       *Stats
	segment     segment
	seq         uint64

	trend       TrendState
	compression Compression
	condition   Condition
	profiles    [numProfiles]RiskProfile

	started      bool
	lastIndex    int
	lastClose    float64
	lastPivotBar int

	l *applogger.Logger
}

// New validates cfg as given and returns an empty engine. Start from DefaultConfig
// to change only a few settings.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		ticks:     newTicks(cfg.TickSize),
		highs:     newSwingHistory(cfg.HistoryCap),
		lows:      newSwingHistory(cfg.HistoryCap),
		stats:     newStats(cfg.StatsCap, cfg.RecentRangesCap),
		trend:     TrendState{Macro: MacroNeutral, Current: Sideways, Micro: Following},
		condition: ConditionRanging,
		profiles:  seededProfiles(cfg),

		lastPivotBar: math.MinInt,
	}, nil
}

// SetLogger injects a structured logger.
func (e *Engine) SetLogger(l *applogger.Logger) { e.l = l }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) checkInput(bar Bar, pivots []PivotEvent) error {
	if e.started && bar.Index <= e.lastIndex {
		return fmt.Errorf("%w: bar %d after bar %d", ErrOutOfOrder, bar.Index, e.lastIndex)
	}
	if math.IsNaN(bar.Close) || math.IsInf(bar.Close, 0) {
		return fmt.Errorf("%w: bar %d close is not finite", ErrInvalidBar, bar.Index)
	}
	floor := e.lastPivotBar
	for i, p := range pivots {
		if !p.Kind.valid() {
			return fmt.Errorf("%w: pivot %d has kind %q", ErrInvalidPivot, i, p.Kind)
		}
		if p.BarsAgo < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			return fmt.Errorf("%w: pivot %d price=%v bars_ago=%d", ErrInvalidPivot, i, p.Price, p.BarsAgo)
		}
		at := bar.Index - p.BarsAgo
		if at < floor {
			return fmt.Errorf("%w: pivot at bar %d before pivot at bar %d", ErrOutOfOrder, at, floor)
		}
		floor = at
	}
	return nil
}

// OnBar runs one full pass for a closed bar: label the bar's pivots, update statistics,
// trend and compression, then recompute the profiles. Pivots are applied in the given
// order. Invalid or out-of-order input is rejected before any state changes.
func (e *Engine) OnBar(bar Bar, pivots ...PivotEvent) (Snapshot, error) {
	if err := e.checkInput(bar, pivots); err != nil {
		if e.l != nil {
			e.l.Warn("engine input rejected", applogger.Int("bar", bar.Index), applogger.Error(err))
		}
		return Snapshot{}, err
	}

	var added []SwingPoint
	for _, ev := range pivots {
		e.lastPivotBar = bar.Index - ev.BarsAgo
		if p, ok := e.addPivot(ev, bar.Index); ok {
			added = append(added, p)
		}
	}

	prev := e.trend.Current
	e.updateTrend(bar, len(added) > 0)
	e.condition = conditionOf(e.trend, bar, e.cfg.VolatileMultiplier)
	e.synthesize(bar)

	e.started = true
	e.lastIndex = bar.Index
	e.lastClose = bar.Close

	if e.l != nil && prev != e.trend.Current {
		e.l.Debug("trend changed",
			applogger.Int("bar", bar.Index),
			applogger.String("from", string(prev)),
			applogger.String("to", string(e.trend.Current)),
			applogger.Int("sequence", e.trend.SequenceCount),
		)
	}
	return e.build(added), nil
}

// Finish marks the end of the stream and closes the open trend segment into the
// maximum-potential lists. The engine keeps accepting bars afterwards.
func (e *Engine) Finish() {
	e.segment.close(e)
}

func (e *Engine) build(added []SwingPoint) Snapshot {
	profiles := make([]RiskProfile, numProfiles)
	copy(profiles, e.profiles[:])
	return Snapshot{
		BarIndex:    e.lastIndex,
		Close:       e.lastClose,
		Highs:       e.highs.all(),
		Lows:        e.lows.all(),
		NewSwings:   added,
		Trend:       e.trend,
		Condition:   e.condition,
		Compression: e.compression,
		Stats:       e.stats.summary(swingSeries),
		Potential:   e.stats.summary(potentialSeries),
		Profiles:    profiles,
	}
}

// Snapshot returns the state after the last processed bar.
func (e *Engine) Snapshot() Snapshot { return e.build(nil) }

// Swings returns copies of the retained highs and lows, oldest first.
func (e *Engine) Swings() (highs, lows []SwingPoint) { return e.highs.all(), e.lows.all() }

func (e *Engine) Trend() TrendState { return e.trend }

// Stats summarises the per-swing lists.
func (e *Engine) Stats() []SeriesSummary { return e.stats.summary(swingSeries) }

// Potential summarises the closed trend segments.
func (e *Engine) Potential() []SeriesSummary { return e.stats.summary(potentialSeries) }

// Series returns the raw samples of one list, oldest first.
func (e *Engine) Series(k Series) []float64 { return e.stats.Values(k) }

func (e *Engine) Profiles() []RiskProfile {
	out := make([]RiskProfile, numProfiles)
	copy(out, e.profiles[:])
	return out
}
