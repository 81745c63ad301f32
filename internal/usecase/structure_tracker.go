package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"SwingPull/internal/domain/models"
	drepo "SwingPull/internal/domain/repository"
	"SwingPull/internal/engine"
	applogger "SwingPull/pkg/logger"
)

var validate = validator.New()

// StructureTracker runs one Session per (symbol, timeframe) and fans every snapshot
// out to storage, cache and the snapshot topic. Side-effect failures are logged and
// counted; they never roll back engine state.
type StructureTracker struct {
	cfg   SessionConfig
	hours *TradingHours

	storage drepo.Storage
	cache   drepo.SnapshotCache
	pub     drepo.SnapshotPublisher
	metrics drepo.Metrics
	l       *applogger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// TrackerOption configures optional collaborators.
type TrackerOption func(*StructureTracker)

func WithStorage(s drepo.Storage) TrackerOption { return func(t *StructureTracker) { t.storage = s } }

func WithSnapshotCache(c drepo.SnapshotCache) TrackerOption {
	return func(t *StructureTracker) { t.cache = c }
}

func WithSnapshotPublisher(p drepo.SnapshotPublisher) TrackerOption {
	return func(t *StructureTracker) { t.pub = p }
}

func WithTradingHours(h *TradingHours) TrackerOption {
	return func(t *StructureTracker) { t.hours = h }
}

func NewStructureTracker(cfg SessionConfig, metrics drepo.Metrics, opts ...TrackerOption) (*StructureTracker, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidConfig, err)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	t := &StructureTracker{cfg: cfg, metrics: metrics, sessions: make(map[string]*Session)}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SetLogger injects a structured logger.
func (t *StructureTracker) SetLogger(l *applogger.Logger) { t.l = l }

func (t *StructureTracker) session(symbol, tf string) (*Session, error) {
	key := models.StreamKey(symbol, tf)
	t.mu.RLock()
	s, ok := t.sessions[key]
	t.mu.RUnlock()
	if ok {
		return s, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[key]; ok {
		return s, nil
	}
	s, err := NewSession(symbol, tf, t.cfg, t.hours)
	if err != nil {
		return nil, err
	}
	if t.l != nil {
		s.SetLogger(t.l)
		t.l.Info("structure session opened", applogger.String("symbol", symbol), applogger.String("tf", tf))
	}
	t.sessions[key] = s
	return s, nil
}

// OnBar implements BarSink.
func (t *StructureTracker) OnBar(ctx context.Context, b *models.Bar) error {
	_, err := t.Process(ctx, b)
	return err
}

// Process runs one closed bar through its stream's engine and publishes the result.
func (t *StructureTracker) Process(ctx context.Context, b *models.Bar) (*models.StructureSnapshot, error) {
	if err := b.Validate(); err != nil {
		t.metrics.RecordError("invalid_bar")
		return nil, err
	}
	if b.Timeframe == "" {
		b.Timeframe = string(drepo.DefaultTimeframe())
	}
	s, err := t.session(b.Symbol, b.Timeframe)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	snap, err := s.Step(b)
	t.metrics.RecordLatency("engine_step_seconds", time.Since(start).Seconds())
	if err != nil {
		t.metrics.RecordError(stepErrorKind(err))
		return nil, err
	}

	t.record(snap)
	t.persist(ctx, b, snap)
	return snap, nil
}

// stepErrorKind labels a rejected bar for the error counter.
func stepErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateBar):
		return "duplicate_bar"
	case errors.Is(err, engine.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, engine.ErrInvalidPivot):
		return "invalid_pivot"
	case errors.Is(err, engine.ErrInvalidBar), errors.Is(err, models.ErrInvalidBar):
		return "invalid_bar"
	}
	return "engine_step"
}

func (t *StructureTracker) record(snap *models.StructureSnapshot) {
	sym, tf := snap.Symbol, snap.Timeframe
	t.metrics.RecordBar(sym, tf)
	t.metrics.RecordLastPrice(sym, snap.Close)
	for _, p := range snap.NewSwings {
		t.metrics.RecordSwing(sym, tf, string(p.Label))
	}
	t.metrics.RecordTrend(sym, tf, string(snap.Trend.Current), snap.Trend.SequenceCount)
	t.metrics.RecordCompression(sym, tf, snap.Compression.Active)
	for _, p := range snap.Profiles {
		t.metrics.RecordRecommended(sym, tf, p.Name, p.Recommended)
	}
	if t.l != nil && len(snap.NewSwings) > 0 {
		t.l.Debug("swings labeled",
			applogger.String("symbol", sym),
			applogger.String("tf", tf),
			applogger.Int("count", len(snap.NewSwings)),
			applogger.String("current", string(snap.Trend.Current)),
			applogger.Strings("recommended", snap.Recommended()),
		)
	}
}

func (t *StructureTracker) persist(ctx context.Context, b *models.Bar, snap *models.StructureSnapshot) {
	if t.storage != nil {
		if err := t.storage.StoreBar(ctx, b); err != nil {
			t.sideEffectFailed("store_bar", snap, err)
		}
		if len(snap.NewSwings) > 0 {
			recs := make([]models.SwingRecord, 0, len(snap.NewSwings))
			for _, p := range snap.NewSwings {
				recs = append(recs, models.SwingRecord{Symbol: snap.Symbol, Timeframe: snap.Timeframe, Bucket: snap.Bucket, SwingPoint: p})
			}
			if err := t.storage.StoreSwings(ctx, recs); err != nil {
				t.sideEffectFailed("store_swings", snap, err)
			}
		}
		if err := t.storage.StoreSnapshot(ctx, snap); err != nil {
			t.sideEffectFailed("store_snapshot", snap, err)
		}
	}
	if t.cache != nil {
		if err := t.cache.Set(ctx, snap); err != nil {
			t.sideEffectFailed("cache_snapshot", snap, err)
		}
	}
	if t.pub != nil {
		if err := t.pub.PublishSnapshot(ctx, snap); err != nil {
			t.sideEffectFailed("publish_snapshot", snap, err)
		} else {
			t.metrics.RecordMessageSent("kafka", snap.Symbol)
		}
	}
}

func (t *StructureTracker) sideEffectFailed(op string, snap *models.StructureSnapshot, err error) {
	t.metrics.RecordError(op)
	if t.l != nil {
		t.l.Error("structure side effect failed",
			applogger.String("op", op),
			applogger.String("symbol", snap.Symbol),
			applogger.String("tf", snap.Timeframe),
			applogger.Int("bar", snap.BarIndex),
			applogger.Error(err),
		)
	}
}

// Snapshot answers from the live session, then the cache.
func (t *StructureTracker) Snapshot(ctx context.Context, symbol, tf string) (*models.StructureSnapshot, error) {
	t.mu.RLock()
	s, ok := t.sessions[models.StreamKey(symbol, tf)]
	t.mu.RUnlock()
	if ok {
		if snap := s.Current(); snap != nil {
			return snap, nil
		}
	}
	if t.cache != nil {
		snap, err := t.cache.Get(ctx, symbol, tf)
		if err == nil && snap != nil {
			return snap, nil
		}
		if err != nil && !errors.Is(err, drepo.ErrNotFound) && t.l != nil {
			t.l.Warn("snapshot cache read failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStream, models.StreamKey(symbol, tf))
}

// Streams lists the keys of the live sessions, sorted.
func (t *StructureTracker) Streams() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.sessions))
	for k := range t.sessions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Replay runs bars through a throwaway session, closes the open trend segment and
// returns the final snapshot. Nothing is stored, cached or published. Repeated
// buckets are skipped; an older bucket aborts the replay.
func (t *StructureTracker) Replay(ctx context.Context, symbol, tf string, bars []*models.Bar) (*models.StructureSnapshot, error) {
	s, err := NewSession(symbol, tf, t.cfg, t.hours)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars to replay for %s", ErrUnknownStream, models.StreamKey(symbol, tf))
	}
	for i, b := range bars {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("replay bar %d: %w", i, err)
		}
		if _, err := s.Step(b); err != nil {
			if errors.Is(err, ErrDuplicateBar) {
				continue
			}
			return nil, fmt.Errorf("replay bar %d: %w", i, err)
		}
	}
	return s.Finish(), nil
}

// ReplayRange loads stored bars for [from, to] and replays them.
func (t *StructureTracker) ReplayRange(ctx context.Context, symbol string, tf drepo.Timeframe, from, to time.Time, limit int) (*models.StructureSnapshot, error) {
	if t.storage == nil {
		return nil, errors.New("replay: no bar storage configured")
	}
	start := time.Now()
	bars, err := t.storage.QueryBars(ctx, symbol, tf, from, to, limit)
	if err != nil {
		t.metrics.RecordError("query_bars")
		return nil, fmt.Errorf("replay query bars: %w", err)
	}
	snap, err := t.Replay(ctx, symbol, string(tf), bars)
	t.metrics.RecordLatency("replay_seconds", time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if t.l != nil {
		t.l.Info("replay done",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("bars", len(bars)),
			applogger.String("from", strconv.FormatInt(from.Unix(), 10)),
			applogger.String("to", strconv.FormatInt(to.Unix(), 10)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return snap, nil
}
