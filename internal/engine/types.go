package engine

import (
	"encoding/json"
	"math"
)

// Kind tells whether a pivot is a swing high or a swing low.
type Kind string

const (
	High Kind = "high"
	Low  Kind = "low"
)

func (k Kind) valid() bool { return k == High || k == Low }

// Label classifies a swing point against the previous swing point of the same kind.
type Label string

const (
	LabelHigh Label = "H" // first high, nothing to compare against
	LabelLow  Label = "L" // first low, nothing to compare against
	HH        Label = "HH"
	LH        Label = "LH"
	HL        Label = "HL"
	LL        Label = "LL"
)

func (l Label) bullish() bool { return l == HH || l == HL }
func (l Label) bearish() bool { return l == LH || l == LL }

// PivotEvent is what the pivot source reports: a confirmed extremum BarsAgo bars back.
type PivotEvent struct {
	Price   float64
	BarsAgo int
	Kind    Kind
}

// SwingPoint is a labeled pivot. Immutable once created.
type SwingPoint struct {
	Price      float64 `json:"price"`
	Bar        int     `json:"bar"`
	BarOffset  int     `json:"bar_offset"`
	Kind       Kind    `json:"kind"`
	Label      Label   `json:"label"`
	SequenceID uint64  `json:"sequence_id"`
}

// Maybe is a float that can be unavailable (warm-up, empty sample list, division by zero).
// Unavailable encodes as JSON null, never as zero.
type Maybe struct {
	V  float64
	OK bool
}

// Some wraps an available value.
func Some(v float64) Maybe { return Maybe{V: v, OK: true} }

// None is the unavailable value.
func None() Maybe { return Maybe{} }

// Get returns the value and whether it is available.
func (m Maybe) Get() (float64, bool) { return m.V, m.OK }

func (m Maybe) MarshalJSON() ([]byte, error) {
	if !m.OK || math.IsNaN(m.V) || math.IsInf(m.V, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(m.V)
}

func (m *Maybe) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Maybe{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Some(v)
	return nil
}

// Bar is the per-bar context supplied by the host. Averages and ATR are
// unavailable until the host indicators are warmed up.
type Bar struct {
	Index        int
	Close        float64
	ATR          Maybe
	ATRAverage   Maybe // SMA of ATR, drives the volatile condition
	FastAverage  Maybe
	SlowAverage  Maybe
	TradingHours bool
}

// Macro is the long-period bias from the two trend averages.
type Macro string

const (
	MacroNeutral Macro = "neutral"
	MacroBullish Macro = "bullish"
	MacroBearish Macro = "bearish"
)

// Current is the swing-sequence trend classification.
type Current string

const (
	Sideways     Current = "sideways"
	WeakBull     Current = "weak_bull"
	WeakBear     Current = "weak_bear"
	TrendingBull Current = "trending_bull"
	TrendingBear Current = "trending_bear"
	StronglyBull Current = "strongly_bull"
	StronglyBear Current = "strongly_bear"
	Compressed   Current = "compressed"
)

func (c Current) bullContext() bool { return c == WeakBull || c == TrendingBull || c == StronglyBull }
func (c Current) bearContext() bool { return c == WeakBear || c == TrendingBear || c == StronglyBear }
func (c Current) trending() bool {
	return c == TrendingBull || c == TrendingBear || c == StronglyBull || c == StronglyBear
}
func (c Current) ranging() bool { return c == Sideways || c == WeakBull || c == WeakBear }

// Micro is the early-reversal flag.
type Micro string

const (
	Following          Micro = "following"
	EarlyReversalLong  Micro = "early_reversal_long"
	EarlyReversalShort Micro = "early_reversal_short"
)

// TrendState is the three-tier trend record recomputed every bar.
type TrendState struct {
	Macro              Macro   `json:"macro"`
	Current            Current `json:"current"`
	Micro              Micro   `json:"micro"`
	SequenceCount      int     `json:"sequence_count"`
	BarsInCurrentState int     `json:"bars_in_current_state"`
}

// Condition is the display-oriented market condition used by the profile recommendation.
type Condition string

const (
	ConditionCompressed Condition = "compressed"
	ConditionVolatile   Condition = "volatile"
	ConditionRanging    Condition = "ranging"
	ConditionTrending   Condition = "trending"
)

// Compression is the last compression evaluation.
type Compression struct {
	Active    bool  `json:"active"`
	HighRange Maybe `json:"high_range"`
	LowRange  Maybe `json:"low_range"`
	Threshold Maybe `json:"threshold"`
}

// ProfileKind is the closed set of risk profiles.
type ProfileKind int

const (
	Conservative ProfileKind = iota
	Balanced
	Aggressive
	numProfiles
)

var profileNames = [numProfiles]string{"conservative", "balanced", "aggressive"}

var profileDescriptions = [numProfiles]string{
	"scalp a fraction of the median move, tight trail",
	"most of the median move with a range-sized stop",
	"beyond the median move, wide stop and trail",
}

func (k ProfileKind) String() string {
	if k < 0 || k >= numProfiles {
		return "unknown"
	}
	return profileNames[k]
}

// RiskProfile is an advisory set of tick distances.
type RiskProfile struct {
	Name            string `json:"name"`
	TargetTicks     int    `json:"target_ticks"`
	StopTicks       int    `json:"stop_ticks"`
	BreakevenTicks  int    `json:"breakeven_ticks"`
	TrailTicks      int    `json:"trail_ticks"`
	RiskRewardRatio Maybe  `json:"risk_reward_ratio"`
	Recommended     bool   `json:"recommended"`
	Computed        bool   `json:"computed"`
	Description     string `json:"description"`
}

// SeriesSummary aggregates one statistics list.
type SeriesSummary struct {
	Name   string `json:"name"`
	Count  int    `json:"count"`
	Median Maybe  `json:"median"`
	Mean   Maybe  `json:"mean"`
}

// Snapshot is the engine output after one bar.
type Snapshot struct {
	BarIndex    int             `json:"bar_index"`
	Close       float64         `json:"close"`
	Highs       []SwingPoint    `json:"highs"`
	Lows        []SwingPoint    `json:"lows"`
	NewSwings   []SwingPoint    `json:"new_swings,omitempty"`
	Trend       TrendState      `json:"trend"`
	Condition   Condition       `json:"condition"`
	Compression Compression     `json:"compression"`
	Stats       []SeriesSummary `json:"stats"`
	Potential   []SeriesSummary `json:"potential"`
	Profiles    []RiskProfile   `json:"profiles"`
}

// Recommended returns the names of the recommended profiles, possibly more than one.
func (s Snapshot) Recommended() []string {
	var out []string
	for _, p := range s.Profiles {
		if p.Recommended {
			out = append(out, p.Name)
		}
	}
	return out
}
