package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SwingPull/internal/domain/models"
	drepo "SwingPull/internal/domain/repository"
)

// ErrLateTrade is returned for a trade older than the symbol's open bar.
var ErrLateTrade = errors.New("late trade")

// BarBuilder aggregates trades into fixed-timeframe OHLCV bars. A bar is closed
// and handed to the sink when the first trade of a later bucket arrives.
type BarBuilder struct {
	tf      drepo.Timeframe
	sink    drepo.BarSink
	metrics drepo.Metrics

	mu   sync.Mutex
	open map[string]*models.Bar
}

func NewBarBuilder(tf drepo.Timeframe, sink drepo.BarSink, metrics drepo.Metrics) (*BarBuilder, error) {
	if tf.Duration() <= 0 {
		return nil, fmt.Errorf("bar builder: unsupported timeframe %q", tf)
	}
	return &BarBuilder{tf: tf, sink: sink, metrics: metrics, open: make(map[string]*models.Bar)}, nil
}

// Add folds one trade into its bucket.
func (b *BarBuilder) Add(ctx context.Context, t *models.Trade) error {
	if t == nil || t.Symbol == "" || t.Price <= 0 {
		return nil
	}
	bucket := t.Time().Truncate(b.tf.Duration())

	b.mu.Lock()
	cur, ok := b.open[t.Symbol]
	var closed *models.Bar
	switch {
	case !ok:
		b.open[t.Symbol] = b.newBar(t, bucket)
	case bucket.Equal(cur.Bucket):
		cur.High = max(cur.High, t.Price)
		cur.Low = min(cur.Low, t.Price)
		cur.Close = t.Price
		cur.Volume += t.Volume
		cur.Trades++
	case bucket.After(cur.Bucket):
		closed = cur
		b.open[t.Symbol] = b.newBar(t, bucket)
	default:
		b.mu.Unlock()
		b.metrics.RecordError("late_trade")
		return fmt.Errorf("%w: %s at %s, open bar %s", ErrLateTrade, t.Symbol, t.Time().Format(time.RFC3339), cur.Bucket.Format(time.RFC3339))
	}
	b.mu.Unlock()

	if closed == nil {
		return nil
	}
	return b.emit(ctx, closed)
}

// Flush closes every open bar. Used on shutdown.
func (b *BarBuilder) Flush(ctx context.Context) error {
	b.mu.Lock()
	bars := make([]*models.Bar, 0, len(b.open))
	for _, bar := range b.open {
		bars = append(bars, bar)
	}
	b.open = make(map[string]*models.Bar)
	b.mu.Unlock()

	sort.Slice(bars, func(i, j int) bool { return bars[i].Symbol < bars[j].Symbol })
	var errs []error
	for _, bar := range bars {
		if err := b.emit(ctx, bar); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *BarBuilder) newBar(t *models.Trade, bucket time.Time) *models.Bar {
	return &models.Bar{
		Symbol:    t.Symbol,
		Timeframe: string(b.tf),
		Bucket:    bucket,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Volume,
		Trades:    1,
	}
}

func (b *BarBuilder) emit(ctx context.Context, bar *models.Bar) error {
	if err := b.sink.OnBar(ctx, bar); err != nil {
		b.metrics.RecordError("bar_sink")
		return fmt.Errorf("emit bar %s %s: %w", bar.Symbol, bar.Bucket.Format(time.RFC3339), err)
	}
	return nil
}

// PublisherSink adapts a BarPublisher to a BarSink.
type PublisherSink struct {
	pub drepo.BarPublisher
}

func NewPublisherSink(pub drepo.BarPublisher) *PublisherSink { return &PublisherSink{pub: pub} }

func (s *PublisherSink) OnBar(ctx context.Context, b *models.Bar) error { return s.pub.Publish(ctx, b) }
