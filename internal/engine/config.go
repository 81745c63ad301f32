package engine

import (
	"errors"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidConfig is returned by New and Validate for out-of-range settings.
	ErrInvalidConfig = errors.New("engine: invalid config")
	// ErrOutOfOrder is returned when a bar or pivot arrives earlier than one already processed.
	ErrOutOfOrder = errors.New("engine: out-of-order input")
	// ErrInvalidPivot is returned for malformed pivot events.
	ErrInvalidPivot = errors.New("engine: invalid pivot")
	ErrInvalidBar   = errors.New("engine: invalid bar")
)

// Sequence counting modes.
const (
	CountPerBar   = "bar"
	CountPerPivot = "pivot"
)

// compressionPivots is how many pivots of each kind the compression check looks at.
const compressionPivots = 4

// ProfileConfig holds the fractions applied to the statistics and the seed values
// shown before enough samples exist.
type ProfileConfig struct {
	TargetFraction    float64 `yaml:"target_fraction" json:"target_fraction" validate:"gt=0,lte=10"`
	StopFraction      float64 `yaml:"stop_fraction" json:"stop_fraction" validate:"gt=0,lte=10"`
	BreakevenFraction float64 `yaml:"breakeven_fraction" json:"breakeven_fraction" validate:"gt=0,lte=10"`
	TrailFraction     float64 `yaml:"trail_fraction" json:"trail_fraction" validate:"gt=0,lte=10"`

	SeedTarget    int `yaml:"seed_target" json:"seed_target" validate:"gte=0"`
	SeedStop      int `yaml:"seed_stop" json:"seed_stop" validate:"gte=0"`
	SeedBreakeven int `yaml:"seed_breakeven" json:"seed_breakeven" validate:"gte=0"`
	SeedTrail     int `yaml:"seed_trail" json:"seed_trail" validate:"gte=0"`
}

func (p ProfileConfig) isZero() bool { return p == ProfileConfig{} }

var defaultProfiles = [numProfiles]ProfileConfig{
	Conservative: {TargetFraction: 0.5, StopFraction: 0.75, BreakevenFraction: 0.25, TrailFraction: 0.5,
		SeedTarget: 8, SeedStop: 8, SeedBreakeven: 4, SeedTrail: 6},
	Balanced: {TargetFraction: 0.8, StopFraction: 1.0, BreakevenFraction: 0.4, TrailFraction: 0.75,
		SeedTarget: 16, SeedStop: 12, SeedBreakeven: 6, SeedTrail: 8},
	Aggressive: {TargetFraction: 1.25, StopFraction: 1.25, BreakevenFraction: 0.5, TrailFraction: 1.0,
		SeedTarget: 32, SeedStop: 16, SeedBreakeven: 8, SeedTrail: 12},
}

// Config is the engine configuration. The default tags apply only to DefaultConfig
// and config loading; New takes the values exactly as given.
type Config struct {
	TickSize float64 `yaml:"tick_size" json:"tick_size" default:"0.25" validate:"gt=0"`

	HistoryCap      int `yaml:"history_cap" json:"history_cap" default:"50" validate:"gte=4,lte=1000"`
	StatsCap        int `yaml:"stats_cap" json:"stats_cap" default:"200" validate:"gte=1,lte=100000"`
	RecentRangesCap int `yaml:"recent_ranges_cap" json:"recent_ranges_cap" default:"20" validate:"gte=1,lte=100000"`

	CompressionMultiplier float64 `yaml:"compression_multiplier" json:"compression_multiplier" default:"2.0" validate:"gte=0.1,lte=10"`
	VolatileMultiplier    float64 `yaml:"volatile_multiplier" json:"volatile_multiplier" default:"1.5" validate:"gte=0.1,lte=10"`

	StrongThreshold  int    `yaml:"strong_threshold" json:"strong_threshold" default:"2" validate:"gte=1,lte=10"`
	SequenceCounting string `yaml:"sequence_counting" json:"sequence_counting" default:"bar" validate:"oneof=bar pivot"`

	ScalperMinSequence    int `yaml:"scalper_min_sequence" json:"scalper_min_sequence" default:"1" validate:"gte=0,lte=100"`
	AggressiveMinSequence int `yaml:"aggressive_min_sequence" json:"aggressive_min_sequence" default:"2" validate:"gte=0,lte=100"`
	MinSamples            int `yaml:"min_samples" json:"min_samples" default:"1" validate:"gte=1,lte=100000"`

	Conservative ProfileConfig `yaml:"conservative" json:"conservative"`
	Balanced     ProfileConfig `yaml:"balanced" json:"balanced"`
	Aggressive   ProfileConfig `yaml:"aggressive" json:"aggressive"`
}

// SetDefaults fills per-profile defaults; called by defaults.Set after the tag pass.
func (c *Config) SetDefaults() {
	for k, p := range c.profilePtrs() {
		if p.isZero() {
			*p = defaultProfiles[k]
		}
	}
}

func (c *Config) profilePtrs() [numProfiles]*ProfileConfig {
	return [numProfiles]*ProfileConfig{&c.Conservative, &c.Balanced, &c.Aggressive}
}

func (c Config) profile(k ProfileKind) ProfileConfig {
	return *c.profilePtrs()[k]
}

// DefaultConfig returns a fully populated configuration.
func DefaultConfig() Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("engine: default config: %v", err))
	}
	return c
}

var validate = validator.New()

// Validate rejects out-of-range settings. It never clamps.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.RecentRangesCap > c.StatsCap {
		return fmt.Errorf("%w: recent_ranges_cap (%d) exceeds stats_cap (%d)", ErrInvalidConfig, c.RecentRangesCap, c.StatsCap)
	}
	return nil
}
