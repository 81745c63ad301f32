package usecase

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"SwingPull/internal/domain/models"
	"SwingPull/internal/engine"
	"SwingPull/internal/indicators"
	applogger "SwingPull/pkg/logger"
)

var (
	// ErrDuplicateBar is returned for a bar whose bucket was already processed.
	ErrDuplicateBar = errors.New("duplicate bar")
	// ErrUnknownStream is returned when no session or cached snapshot exists.
	ErrUnknownStream = errors.New("unknown stream")
)

// SessionConfig describes one stream's host indicators and engine settings.
type SessionConfig struct {
	Engine           engine.Config
	FastPeriod       int `validate:"gte=1,lte=5000"`
	SlowPeriod       int `validate:"gte=1,lte=5000"`
	ATRPeriod        int `validate:"gte=1,lte=1000"`
	ATRAveragePeriod int `validate:"gte=1,lte=1000"`
	PivotStrength    int `validate:"gte=1,lte=50"`
}

// DefaultSessionConfig mirrors the config file defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Engine:           engine.DefaultConfig(),
		FastPeriod:       50,
		SlowPeriod:       200,
		ATRPeriod:        14,
		ATRAveragePeriod: 50,
		PivotStrength:    3,
	}
}

// Session owns the indicators, pivot detector and engine of one (symbol, timeframe)
// stream. Step is serialized by mu.
type Session struct {
	mu sync.Mutex

	symbol, tf string
	hours      *TradingHours

	fast, slow *indicators.SMA
	atr        *indicators.ATR
	atrAvg     *indicators.SMA
	pivots     *indicators.FractalDetector
	eng        *engine.Engine

	index      int
	lastBucket time.Time
}

func NewSession(symbol, tf string, cfg SessionConfig, hours *TradingHours) (*Session, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidConfig, err)
	}
	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return nil, err
	}
	fast, err := indicators.NewSMA(cfg.FastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := indicators.NewSMA(cfg.SlowPeriod)
	if err != nil {
		return nil, err
	}
	atr, err := indicators.NewATR(cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}
	atrAvg, err := indicators.NewSMA(cfg.ATRAveragePeriod)
	if err != nil {
		return nil, err
	}
	pivots, err := indicators.NewFractalDetector(cfg.PivotStrength)
	if err != nil {
		return nil, err
	}
	return &Session{
		symbol: symbol, tf: tf, hours: hours,
		fast: fast, slow: slow, atr: atr, atrAvg: atrAvg, pivots: pivots,
		eng:   eng,
		index: -1,
	}, nil
}

// SetLogger injects a structured logger into the engine.
func (s *Session) SetLogger(l *applogger.Logger) { s.eng.SetLogger(l) }

// Step feeds one closed bar. Buckets must strictly increase; a repeated bucket
// yields ErrDuplicateBar and an older one engine.ErrOutOfOrder. Those and malformed
// bars are rejected before the indicators move. An engine rejection after that can
// only come from a faulty pivot source and leaves the indicators advanced.
func (s *Session) Step(b *models.Bar) (*models.StructureSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := b.Validate(); err != nil {
		return nil, err
	}
	if !s.lastBucket.IsZero() {
		switch {
		case b.Bucket.Equal(s.lastBucket):
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateBar, models.StreamKey(s.symbol, s.tf), b.Bucket.Format(time.RFC3339))
		case b.Bucket.Before(s.lastBucket):
			return nil, fmt.Errorf("%w: %s bar %s before %s", engine.ErrOutOfOrder,
				models.StreamKey(s.symbol, s.tf), b.Bucket.Format(time.RFC3339), s.lastBucket.Format(time.RFC3339))
		}
	}

	fast, okF := s.fast.Update(b.Close)
	slow, okS := s.slow.Update(b.Close)
	atr, okA := s.atr.Update(b.High, b.Low, b.Close)
	atrAvg := engine.None()
	if okA {
		atrAvg = maybe(s.atrAvg.Update(atr))
	}
	pivots := s.pivots.Update(b.High, b.Low)

	snap, err := s.eng.OnBar(engine.Bar{
		Index:        s.index + 1,
		Close:        b.Close,
		ATR:          maybe(atr, okA),
		ATRAverage:   atrAvg,
		FastAverage:  maybe(fast, okF),
		SlowAverage:  maybe(slow, okS),
		TradingHours: s.hours.Active(b.Bucket),
	}, pivots...)
	if err != nil {
		// bucket checks keep bar indices monotonic, so this is a pivot contract breach
		return nil, err
	}
	s.index++
	s.lastBucket = b.Bucket
	return &models.StructureSnapshot{Symbol: s.symbol, Timeframe: s.tf, Bucket: b.Bucket, Snapshot: snap}, nil
}

// Finish closes the open trend segment and returns the final snapshot.
func (s *Session) Finish() *models.StructureSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eng.Finish()
	return &models.StructureSnapshot{Symbol: s.symbol, Timeframe: s.tf, Bucket: s.lastBucket, Snapshot: s.eng.Snapshot()}
}

// Current returns a fresh snapshot of the engine state, nil before the first bar.
func (s *Session) Current() *models.StructureSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBucket.IsZero() {
		return nil
	}
	return &models.StructureSnapshot{Symbol: s.symbol, Timeframe: s.tf, Bucket: s.lastBucket, Snapshot: s.eng.Snapshot()}
}

func maybe(v float64, ok bool) engine.Maybe {
	if !ok {
		return engine.None()
	}
	return engine.Some(v)
}

func isEngineContractError(err error) bool {
	return errors.Is(err, engine.ErrOutOfOrder) || errors.Is(err, engine.ErrInvalidPivot) || errors.Is(err, engine.ErrInvalidBar)
}
