package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hi(p float64) PivotEvent { return PivotEvent{Price: p, Kind: High} }
func lo(p float64) PivotEvent { return PivotEvent{Price: p, Kind: Low} }

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TickSize = 1
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

// play feeds one pivot per bar starting at bar index from, inside trading hours.
func play(t *testing.T, e *Engine, from int, pivots ...PivotEvent) Snapshot {
	t.Helper()
	var snap Snapshot
	for i, p := range pivots {
		var err error
		snap, err = e.OnBar(Bar{Index: from + i, Close: p.Price, TradingHours: true}, p)
		require.NoError(t, err)
	}
	return snap
}

func labels(ps []SwingPoint) []Label {
	out := make([]Label, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Label)
	}
	return out
}

func TestBullishMeasuredMoveScenario(t *testing.T) {
	e := newTestEngine(t, nil)
	snap := play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110))

	assert.Equal(t, []Label{LabelHigh, HH, HH}, labels(snap.Highs))
	assert.Equal(t, []Label{LabelLow, HL}, labels(snap.Lows))
	assert.Equal(t, []float64{15}, e.Series(BullMoves))
	assert.Equal(t, []float64{15}, e.Series(AllMoves))
	assert.Empty(t, e.Series(BearMoves))
	assert.Equal(t, []float64{10}, e.Series(BullPullbacks))
	assert.Equal(t, []float64{10, 15, 10, 15}, e.Series(RecentRanges))
}

func TestTickConversion(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.TickSize = 0.25 })
	play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110))
	assert.Equal(t, []float64{60}, e.Series(BullMoves))
}

func TestBearishSamples(t *testing.T) {
	e := newTestEngine(t, nil)
	play(t, e, 0, lo(100), hi(110), lo(95), hi(105), lo(90))

	assert.Equal(t, []float64{15}, e.Series(BearMoves))
	assert.Equal(t, []float64{10}, e.Series(BearPullbacks))
	assert.Empty(t, e.Series(BullMoves))
}

func TestLabelDependsOnlyOnSameKind(t *testing.T) {
	a := newTestEngine(t, nil)
	snapA := play(t, a, 0, hi(100), hi(105), hi(103))

	b := newTestEngine(t, nil)
	snapB := play(t, b, 0, hi(100), lo(50), lo(60), hi(105), lo(40), hi(103))

	assert.Equal(t, []Label{LabelHigh, HH, LH}, labels(snapA.Highs))
	assert.Equal(t, labels(snapA.Highs), labels(snapB.Highs))
}

func TestEqualPriceRepeatIsIgnored(t *testing.T) {
	e := newTestEngine(t, nil)
	play(t, e, 0, hi(100), lo(90))
	snap, err := e.OnBar(Bar{Index: 2, TradingHours: true}, hi(100))
	require.NoError(t, err)
	assert.Empty(t, snap.NewSwings)
	assert.Len(t, snap.Highs, 1)
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.HistoryCap = 4 })
	snap := play(t, e, 0, hi(1), hi(2), hi(3), hi(4), hi(5), hi(6))
	require.Len(t, snap.Highs, 4)
	assert.Equal(t, 3.0, snap.Highs[0].Price)
	assert.Equal(t, 6.0, snap.Highs[3].Price)
}

func TestSequenceCountResetAndRestart(t *testing.T) {
	e := newTestEngine(t, nil)
	snap := play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110))
	require.Equal(t, TrendingBull, snap.Trend.Current)
	require.Equal(t, 2, snap.Trend.SequenceCount)

	// lower high breaks the bullish pair
	snap = play(t, e, 5, hi(108))
	assert.Equal(t, 0, snap.Trend.SequenceCount)
	assert.Equal(t, Sideways, snap.Trend.Current)

	snap = play(t, e, 6, hi(112))
	assert.Equal(t, TrendingBull, snap.Trend.Current)
	assert.Equal(t, 1, snap.Trend.SequenceCount)
}

func TestStronglyBullAboveThreshold(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.StrongThreshold = 2 })
	play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110))
	snap := play(t, e, 5, lo(100))
	assert.Equal(t, 3, snap.Trend.SequenceCount)
	assert.Equal(t, StronglyBull, snap.Trend.Current)
}

func TestSequenceCountingModes(t *testing.T) {
	perBar := newTestEngine(t, nil)
	play(t, perBar, 0, hi(100), lo(90), hi(105), lo(95), hi(110))
	snap, err := perBar.OnBar(Bar{Index: 5, TradingHours: true})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Trend.SequenceCount)

	perPivot := newTestEngine(t, func(c *Config) { c.SequenceCounting = CountPerPivot })
	play(t, perPivot, 0, hi(100), lo(90), hi(105), lo(95), hi(110))
	snap, err = perPivot.OnBar(Bar{Index: 5, TradingHours: true})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Trend.SequenceCount)
}

func TestBarsInCurrentState(t *testing.T) {
	e := newTestEngine(t, nil)
	snap := play(t, e, 0, hi(100), lo(90))
	assert.Equal(t, Sideways, snap.Trend.Current)
	assert.Equal(t, 1, snap.Trend.BarsInCurrentState)

	snap = play(t, e, 2, hi(105), lo(95))
	assert.Equal(t, TrendingBull, snap.Trend.Current)
	assert.Equal(t, 0, snap.Trend.BarsInCurrentState)

	snap, err := e.OnBar(Bar{Index: 4, TradingHours: true})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Trend.SequenceCount)
	assert.Equal(t, 1, snap.Trend.BarsInCurrentState)
}

func TestMacroAndWeakTrend(t *testing.T) {
	e := newTestEngine(t, nil)
	snap, err := e.OnBar(Bar{Index: 0, Close: 101, FastAverage: Some(100), SlowAverage: Some(95)})
	require.NoError(t, err)
	assert.Equal(t, MacroBullish, snap.Trend.Macro)
	assert.Equal(t, WeakBull, snap.Trend.Current)

	snap, err = e.OnBar(Bar{Index: 1, Close: 90, FastAverage: Some(100), SlowAverage: Some(95)})
	require.NoError(t, err)
	assert.Equal(t, MacroBearish, snap.Trend.Macro)
	assert.Equal(t, WeakBear, snap.Trend.Current)

	snap, err = e.OnBar(Bar{Index: 2, Close: 97, FastAverage: Some(100), SlowAverage: Some(95)})
	require.NoError(t, err)
	assert.Equal(t, MacroNeutral, snap.Trend.Macro)

	snap, err = e.OnBar(Bar{Index: 3, Close: 97, FastAverage: Some(100)})
	require.NoError(t, err)
	assert.Equal(t, MacroNeutral, snap.Trend.Macro, "slow average not warmed up")
	assert.Equal(t, Sideways, snap.Trend.Current)
}

func TestEarlyReversalShort(t *testing.T) {
	e := newTestEngine(t, nil)
	snap := play(t, e, 0, lo(90), hi(100), lo(92), hi(105), lo(95))
	require.Equal(t, TrendingBull, snap.Trend.Current)

	snap, err := e.OnBar(Bar{Index: 5, TradingHours: true}, hi(103), lo(93))
	require.NoError(t, err)
	assert.Equal(t, EarlyReversalShort, snap.Trend.Micro)
	assert.Equal(t, TrendingBear, snap.Trend.Current)
	assert.Equal(t, 1, snap.Trend.SequenceCount)

	snap, err = e.OnBar(Bar{Index: 6, TradingHours: true})
	require.NoError(t, err)
	assert.Equal(t, Following, snap.Trend.Micro)
}

func TestEarlyReversalLong(t *testing.T) {
	e := newTestEngine(t, nil)
	snap := play(t, e, 0, hi(110), lo(100), hi(105), lo(95), hi(103))
	require.Equal(t, TrendingBear, snap.Trend.Current)

	snap, err := e.OnBar(Bar{Index: 5, TradingHours: true}, lo(97), hi(106))
	require.NoError(t, err)
	assert.Equal(t, EarlyReversalLong, snap.Trend.Micro)
	assert.Equal(t, TrendingBull, snap.Trend.Current)
}

// compressionSetup leaves four highs spanning 15 and four lows spanning 28 or 18.
func compressionSetup(t *testing.T, firstLow float64) *Engine {
	t.Helper()
	e := newTestEngine(t, nil)
	snap := play(t, e, 0, lo(firstLow), hi(97), lo(92), hi(105), lo(95), hi(108), lo(108))
	require.Equal(t, StronglyBull, snap.Trend.Current)
	require.Equal(t, 4, snap.Trend.SequenceCount)
	return e
}

func TestCompressionTriggers(t *testing.T) {
	e := compressionSetup(t, 90)
	snap, err := e.OnBar(Bar{Index: 7, Close: 112, ATR: Some(10), TradingHours: true}, hi(112))
	require.NoError(t, err)

	assert.True(t, snap.Compression.Active)
	assert.Equal(t, Some(15), snap.Compression.HighRange)
	assert.Equal(t, Some(18), snap.Compression.LowRange)
	assert.Equal(t, Some(20), snap.Compression.Threshold)
	assert.Equal(t, Compressed, snap.Trend.Current)
	assert.Equal(t, 0, snap.Trend.SequenceCount)
	assert.Equal(t, Following, snap.Trend.Micro)
	assert.Equal(t, ConditionCompressed, snap.Condition)
	assert.Empty(t, snap.Recommended())
}

func TestCompressionNeedsBothSides(t *testing.T) {
	e := compressionSetup(t, 80)
	snap, err := e.OnBar(Bar{Index: 7, Close: 112, ATR: Some(10), TradingHours: true}, hi(112))
	require.NoError(t, err)

	assert.False(t, snap.Compression.Active)
	assert.Equal(t, Some(15), snap.Compression.HighRange)
	assert.Equal(t, Some(28), snap.Compression.LowRange)
	assert.Equal(t, StronglyBull, snap.Trend.Current)
	assert.Equal(t, 5, snap.Trend.SequenceCount)
}

func TestCompressionIsNotLatched(t *testing.T) {
	e := compressionSetup(t, 90)
	snap, err := e.OnBar(Bar{Index: 7, ATR: Some(10), TradingHours: true}, hi(112))
	require.NoError(t, err)
	require.True(t, snap.Compression.Active)

	snap, err = e.OnBar(Bar{Index: 8, ATR: Some(5), TradingHours: true})
	require.NoError(t, err)
	assert.False(t, snap.Compression.Active)
	assert.Equal(t, TrendingBull, snap.Trend.Current)
	assert.Equal(t, 1, snap.Trend.SequenceCount)
}

func TestCompressionUnavailableWithoutATR(t *testing.T) {
	e := compressionSetup(t, 90)
	snap, err := e.OnBar(Bar{Index: 7, TradingHours: true}, hi(112))
	require.NoError(t, err)
	assert.False(t, snap.Compression.Active)
	assert.False(t, snap.Compression.Threshold.OK)
}

func TestProfilesFromStatistics(t *testing.T) {
	e := newTestEngine(t, nil)
	snap := play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110))

	// moves [15], pullbacks [10], recent ranges mean 12.5
	want := map[string][4]int{
		"conservative": {8, 9, 3, 5},
		"balanced":     {12, 13, 5, 8},
		"aggressive":   {19, 16, 6, 10},
	}
	for _, p := range snap.Profiles {
		w := want[p.Name]
		assert.True(t, p.Computed, p.Name)
		assert.Equal(t, w, [4]int{p.TargetTicks, p.StopTicks, p.BreakevenTicks, p.TrailTicks}, p.Name)
		assert.Equal(t, Some(float64(w[0])/float64(w[1])), p.RiskRewardRatio, p.Name)
	}
	assert.Equal(t, ConditionTrending, snap.Condition)
	assert.Equal(t, []string{"conservative", "balanced"}, snap.Recommended())
}

func TestSeededProfilesBeforeSamples(t *testing.T) {
	e := newTestEngine(t, nil)
	snap := play(t, e, 0, hi(100), lo(90))
	cons := snap.Profiles[Conservative]
	assert.False(t, cons.Computed)
	assert.Equal(t, 8, cons.TargetTicks)
	assert.Equal(t, Some(1), cons.RiskRewardRatio)
	assert.Empty(t, snap.Recommended())
}

func TestRiskRewardUnavailableForZeroStop(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Conservative.StopFraction = 0.01 })
	snap := play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110))
	cons := snap.Profiles[Conservative]
	assert.Equal(t, 0, cons.StopTicks)
	assert.False(t, cons.RiskRewardRatio.OK)

	b, err := json.Marshal(cons)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"risk_reward_ratio":null`)
}

func TestTradingHoursGateKeepsValues(t *testing.T) {
	e := newTestEngine(t, nil)
	before := play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110))

	snap, err := e.OnBar(Bar{Index: 5, TradingHours: false}, lo(100))
	require.NoError(t, err)
	assert.Empty(t, snap.Recommended())
	for i := range snap.Profiles {
		assert.Equal(t, before.Profiles[i].TargetTicks, snap.Profiles[i].TargetTicks)
		assert.Equal(t, before.Profiles[i].TrailTicks, snap.Profiles[i].TrailTicks)
	}
}

func TestAggressiveOnVolatileSequence(t *testing.T) {
	e := newTestEngine(t, nil)
	play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110))
	snap, err := e.OnBar(Bar{Index: 5, ATR: Some(30), ATRAverage: Some(10), TradingHours: true})
	require.NoError(t, err)

	assert.Equal(t, ConditionVolatile, snap.Condition)
	assert.Equal(t, 3, snap.Trend.SequenceCount)
	assert.Equal(t, []string{"conservative", "aggressive"}, snap.Recommended())
}

func TestTrendSegments(t *testing.T) {
	e := newTestEngine(t, nil)
	play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110), lo(100))
	assert.Empty(t, e.Series(BullTrendLengths))

	play(t, e, 6, hi(104))
	assert.Equal(t, []float64{20}, e.Series(BullTrendLengths))
	assert.Equal(t, []float64{10}, e.Series(BullTrendMaxPullbacks))

	// the bear run opened by the lower high is unconfirmed
	e.Finish()
	assert.Empty(t, e.Series(BearTrendLengths))
}

func TestFinishClosesOpenSegment(t *testing.T) {
	e := newTestEngine(t, nil)
	play(t, e, 0, hi(100), lo(90), hi(105), lo(95), hi(110))
	e.Finish()

	pot := e.Potential()
	require.Len(t, pot, 4)
	assert.Equal(t, "bull_trend_lengths", pot[0].Name)
	assert.Equal(t, Some(20), pot[0].Median)
	assert.Equal(t, Some(10), pot[2].Median)
	assert.Equal(t, 0, pot[1].Count)
	assert.False(t, pot[1].Median.OK)
}

func TestReplayIsIdempotent(t *testing.T) {
	seq := []PivotEvent{lo(90), hi(97), lo(92), hi(105), lo(95), hi(108), lo(108), hi(112), lo(99), hi(104)}
	run := func() [][]byte {
		e := newTestEngine(t, nil)
		var out [][]byte
		for i, p := range seq {
			snap, err := e.OnBar(Bar{
				Index: i, Close: p.Price, ATR: Some(12), ATRAverage: Some(9),
				FastAverage: Some(100), SlowAverage: Some(98), TradingHours: true,
			}, p)
			require.NoError(t, err)
			b, err := json.Marshal(snap)
			require.NoError(t, err)
			out = append(out, b)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestRejectsOutOfOrderBar(t *testing.T) {
	e := newTestEngine(t, nil)
	play(t, e, 0, hi(100), lo(90), hi(105))
	before, err := json.Marshal(e.Snapshot())
	require.NoError(t, err)

	_, err = e.OnBar(Bar{Index: 2, TradingHours: true}, lo(95))
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	_, err = e.OnBar(Bar{Index: 1, TradingHours: true})
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	after, err := json.Marshal(e.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestRejectsOutOfOrderPivot(t *testing.T) {
	e := newTestEngine(t, nil)
	play(t, e, 5, hi(100))

	_, err := e.OnBar(Bar{Index: 6}, lo(90), PivotEvent{Price: 95, BarsAgo: 3, Kind: High})
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	highs, lows := e.Swings()
	assert.Len(t, highs, 1)
	assert.Empty(t, lows, "nothing from the rejected bar is applied")
}

func TestRejectsInvalidPivot(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.OnBar(Bar{Index: 0}, PivotEvent{Price: 1, BarsAgo: -1, Kind: High})
	assert.True(t, errors.Is(err, ErrInvalidPivot))
	_, err = e.OnBar(Bar{Index: 0}, PivotEvent{Price: 1, Kind: "middle"})
	assert.True(t, errors.Is(err, ErrInvalidPivot))
}

func TestInvalidConfigRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative tick", func(c *Config) { c.TickSize = -1 }},
		{"multiplier too high", func(c *Config) { c.CompressionMultiplier = 20 }},
		{"multiplier too low", func(c *Config) { c.CompressionMultiplier = 0.01 }},
		{"threshold", func(c *Config) { c.StrongThreshold = 11 }},
		{"counting", func(c *Config) { c.SequenceCounting = "tick" }},
		{"recent above stats cap", func(c *Config) { c.StatsCap = 10; c.RecentRangesCap = 20 }},
		{"profile fraction", func(c *Config) { c.Balanced.TargetFraction = -0.5 }},
		{"zero multiplier", func(c *Config) { c.CompressionMultiplier = 0 }},
		{"zero threshold", func(c *Config) { c.StrongThreshold = 0 }},
		{"zero tick", func(c *Config) { c.TickSize = 0 }},
		{"zero history cap", func(c *Config) { c.HistoryCap = 0 }},
		{"zero profile", func(c *Config) { c.Aggressive = ProfileConfig{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestZeroConfigRejected(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDefaultConfigIsComplete(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.25, cfg.TickSize)
	assert.Equal(t, 2.0, cfg.CompressionMultiplier)
	assert.Equal(t, defaultProfiles[Aggressive], cfg.Aggressive)
	_, err := New(cfg)
	assert.NoError(t, err)
}

func TestZeroMinSequenceIsKept(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.ScalperMinSequence = 0
		c.AggressiveMinSequence = 0
	})
	assert.Zero(t, e.Config().ScalperMinSequence)
	assert.Zero(t, e.Config().AggressiveMinSequence)
}
