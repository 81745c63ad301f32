package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"SwingPull/internal/domain/models"
	drepo "SwingPull/internal/domain/repository"
)

type fakeMetrics struct {
	mu     sync.Mutex
	errors map[string]int
	bars   int
	swings int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{errors: map[string]int{}} }

func (m *fakeMetrics) RecordMessageSent(backend, symbol string)               {}
func (m *fakeMetrics) RecordLastPrice(symbol string, price float64)           {}
func (m *fakeMetrics) RecordLatency(op string, seconds float64)               {}
func (m *fakeMetrics) RecordTrend(symbol, tf, current string, seq int)        {}
func (m *fakeMetrics) RecordCompression(symbol, tf string, active bool)       {}
func (m *fakeMetrics) RecordRecommended(symbol, tf, profile string, rec bool) {}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *fakeMetrics) RecordBar(symbol, tf string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars++
}

func (m *fakeMetrics) RecordSwing(symbol, tf, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swings++
}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type fakeStorage struct {
	mu        sync.Mutex
	bars      []*models.Bar
	swings    []models.SwingRecord
	snapshots []*models.StructureSnapshot
	failWith  error
}

func (s *fakeStorage) Init(ctx context.Context) error { return nil }

func (s *fakeStorage) StoreBar(ctx context.Context, b *models.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.bars = append(s.bars, b)
	return nil
}

func (s *fakeStorage) QueryBars(ctx context.Context, symbol string, tf drepo.Timeframe, from, to time.Time, limit int) ([]*models.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Bar
	for _, b := range s.bars {
		if b.Symbol == symbol && b.Timeframe == string(tf) && !b.Bucket.Before(from) && !b.Bucket.After(to) {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStorage) StoreSwings(ctx context.Context, swings []models.SwingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.swings = append(s.swings, swings...)
	return nil
}

func (s *fakeStorage) StoreSnapshot(ctx context.Context, snap *models.StructureSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *fakeStorage) Health(ctx context.Context) error { return nil }
func (s *fakeStorage) Close() error                     { return nil }

type fakeCache struct {
	mu    sync.Mutex
	items map[string]*models.StructureSnapshot
}

func newFakeCache() *fakeCache { return &fakeCache{items: map[string]*models.StructureSnapshot{}} }

func (c *fakeCache) Get(ctx context.Context, symbol, tf string) (*models.StructureSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[models.StreamKey(symbol, tf)]
	if !ok {
		return nil, drepo.ErrNotFound
	}
	return s, nil
}

func (c *fakeCache) Set(ctx context.Context, s *models.StructureSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[models.StreamKey(s.Symbol, s.Timeframe)] = s
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []*models.StructureSnapshot
}

func (p *fakePublisher) PublishSnapshot(ctx context.Context, s *models.StructureSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, s)
	return nil
}

type fakeSink struct {
	mu   sync.Mutex
	bars []*models.Bar
	err  error
}

func (s *fakeSink) OnBar(ctx context.Context, b *models.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.bars = append(s.bars, b)
	return nil
}

var errBoom = errors.New("boom")

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

// zigzag returns 1m bars oscillating in a rising channel, enough to confirm swings
// with pivot strength 1.
func zigzag(symbol string, n int) []*models.Bar {
	out := make([]*models.Bar, 0, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)*0.5
		off := []float64{0, 2, 4, 2}[i%4]
		c := base + off
		out = append(out, &models.Bar{
			Symbol: symbol, Timeframe: "1m", Bucket: t0.Add(time.Duration(i) * time.Minute),
			Open: c - 0.25, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 10,
		})
	}
	return out
}

func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.Engine.TickSize = 0.25
	cfg.FastPeriod = 2
	cfg.SlowPeriod = 3
	cfg.ATRPeriod = 2
	cfg.ATRAveragePeriod = 2
	cfg.PivotStrength = 1
	return cfg
}
