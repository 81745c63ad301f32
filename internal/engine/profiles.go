package engine

import "math"

// seededProfiles are shown until the statistics hold enough samples.
func seededProfiles(cfg Config) [numProfiles]RiskProfile {
	var out [numProfiles]RiskProfile
	for k := ProfileKind(0); k < numProfiles; k++ {
		pc := cfg.profile(k)
		out[k] = RiskProfile{
			Name:            k.String(),
			TargetTicks:     pc.SeedTarget,
			StopTicks:       pc.SeedStop,
			BreakevenTicks:  pc.SeedBreakeven,
			TrailTicks:      pc.SeedTrail,
			RiskRewardRatio: ratio(pc.SeedTarget, pc.SeedStop),
			Description:     profileDescriptions[k],
		}
	}
	return out
}

func ratio(target, stop int) Maybe {
	if stop == 0 {
		return None()
	}
	return Some(float64(target) / float64(stop))
}

func roundTicks(v float64) int { return int(math.Round(v)) }

// synthesize recomputes the profiles from the statistics and marks the ones the
// current regime favours. When compressed or outside trading hours the numbers stay
// as they were and nothing is recommended.
func (e *Engine) synthesize(bar Bar) {
	for k := range e.profiles {
		e.profiles[k].Recommended = false
	}
	if e.trend.Current == Compressed || !bar.TradingHours {
		return
	}
	if e.stats.Len(AllMoves) < e.cfg.MinSamples || e.stats.Len(AllPullbacks) < e.cfg.MinSamples {
		return
	}
	move, okM := e.stats.Median(AllMoves).Get()
	pull, okP := e.stats.Median(AllPullbacks).Get()
	rng, okR := e.stats.Mean(RecentRanges).Get()
	if !okM || !okP || !okR {
		return
	}

	for k := ProfileKind(0); k < numProfiles; k++ {
		pc := e.cfg.profile(k)
		p := &e.profiles[k]
		p.TargetTicks = roundTicks(move * pc.TargetFraction)
		p.StopTicks = roundTicks(rng * pc.StopFraction)
		p.BreakevenTicks = roundTicks(rng * pc.BreakevenFraction)
		p.TrailTicks = roundTicks(pull * pc.TrailFraction)
		p.RiskRewardRatio = ratio(p.TargetTicks, p.StopTicks)
		p.Computed = true
	}

	seq := e.trend.SequenceCount
	e.profiles[Conservative].Recommended = e.trend.Current.trending() && seq > e.cfg.ScalperMinSequence
	e.profiles[Balanced].Recommended = e.condition == ConditionTrending || e.condition == ConditionRanging
	e.profiles[Aggressive].Recommended = e.condition == ConditionVolatile && seq > e.cfg.AggressiveMinSequence
}
