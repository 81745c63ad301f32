package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SwingPull/internal/domain/models"
	drepo "SwingPull/internal/domain/repository"
)

func trade(sym string, at time.Time, price, vol float64) *models.Trade {
	return &models.Trade{Symbol: sym, Timestamp: at.UnixMilli(), Price: price, Volume: vol}
}

func TestBarBuilderAggregatesAndCloses(t *testing.T) {
	sink := &fakeSink{}
	b, err := NewBarBuilder(drepo.TF1m, sink, newFakeMetrics())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, trade("AAPL", t0.Add(1*time.Second), 100, 1)))
	require.NoError(t, b.Add(ctx, trade("AAPL", t0.Add(20*time.Second), 103, 2)))
	require.NoError(t, b.Add(ctx, trade("AAPL", t0.Add(40*time.Second), 99, 1)))
	require.NoError(t, b.Add(ctx, trade("AAPL", t0.Add(59*time.Second), 101, 1)))
	assert.Empty(t, sink.bars)

	require.NoError(t, b.Add(ctx, trade("AAPL", t0.Add(61*time.Second), 102, 1)))
	require.Len(t, sink.bars, 1)
	got := sink.bars[0]
	assert.Equal(t, t0, got.Bucket)
	assert.Equal(t, "1m", got.Timeframe)
	assert.Equal(t, [4]float64{100, 103, 99, 101}, [4]float64{got.Open, got.High, got.Low, got.Close})
	assert.Equal(t, 5.0, got.Volume)
	assert.Equal(t, 4, got.Trades)
	assert.NoError(t, got.Validate())
}

func TestBarBuilderDropsLateTrades(t *testing.T) {
	sink := &fakeSink{}
	m := newFakeMetrics()
	b, err := NewBarBuilder(drepo.TF1m, sink, m)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, trade("AAPL", t0.Add(2*time.Minute), 100, 1)))
	err = b.Add(ctx, trade("AAPL", t0, 90, 1))
	assert.True(t, errors.Is(err, ErrLateTrade))
	assert.Equal(t, 1, m.errorCount("late_trade"))

	require.NoError(t, b.Flush(ctx))
	require.Len(t, sink.bars, 1)
	assert.Equal(t, 100.0, sink.bars[0].Low)
}

func TestBarBuilderSymbolsAreIndependent(t *testing.T) {
	sink := &fakeSink{}
	b, err := NewBarBuilder(drepo.TF1m, sink, newFakeMetrics())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, trade("AAPL", t0, 100, 1)))
	require.NoError(t, b.Add(ctx, trade("MSFT", t0.Add(5*time.Minute), 300, 1)))
	assert.Empty(t, sink.bars)

	require.NoError(t, b.Flush(ctx))
	require.Len(t, sink.bars, 2)
	assert.Equal(t, "AAPL", sink.bars[0].Symbol)
}

func TestBarBuilderSinkError(t *testing.T) {
	sink := &fakeSink{err: errBoom}
	b, err := NewBarBuilder(drepo.TF1s, sink, newFakeMetrics())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, trade("AAPL", t0, 100, 1)))
	err = b.Add(ctx, trade("AAPL", t0.Add(time.Second), 100, 1))
	assert.True(t, errors.Is(err, errBoom))
}

func TestBarBuilderRejectsUnknownTimeframe(t *testing.T) {
	_, err := NewBarBuilder("3m", &fakeSink{}, newFakeMetrics())
	assert.Error(t, err)
}
