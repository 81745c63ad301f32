package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SwingPull/internal/domain/models"
	"SwingPull/internal/engine"
	pkgkafka "SwingPull/pkg/kafka"
)

func encodeBar(t *testing.T, b *models.Bar) []byte {
	t.Helper()
	raw, err := json.Marshal(models.NewBarMessage(b))
	require.NoError(t, err)
	return raw
}

func TestKafkaBarsHandlerFeedsSink(t *testing.T) {
	sink := &fakeSink{}
	h := NewKafkaBarsHandler("bars", sink, newFakeMetrics())
	assert.Equal(t, "bars", h.Topic())

	bar := zigzag("AAPL", 1)[0]
	require.NoError(t, h.Handle(context.Background(), encodeBar(t, bar)))
	require.Len(t, sink.bars, 1)
	assert.Equal(t, bar.Bucket, sink.bars[0].Bucket)
	assert.Equal(t, bar.Close, sink.bars[0].Close)
}

func TestKafkaBarsHandlerPermanentErrors(t *testing.T) {
	m := newFakeMetrics()
	h := NewKafkaBarsHandler("bars", &fakeSink{}, m)

	err := h.Handle(context.Background(), []byte("{not json"))
	assert.True(t, pkgkafka.IsPermanent(err))
	assert.Equal(t, 1, m.errorCount("consumer_unmarshal"))

	bad := &models.Bar{Symbol: "AAPL", Timeframe: "1m", Bucket: t0, Open: 1, High: 1, Low: 2, Close: 1}
	err = h.Handle(context.Background(), encodeBar(t, bad))
	assert.True(t, pkgkafka.IsPermanent(err))

	h = NewKafkaBarsHandler("bars", &fakeSink{err: engine.ErrOutOfOrder}, m)
	err = h.Handle(context.Background(), encodeBar(t, zigzag("AAPL", 1)[0]))
	assert.True(t, pkgkafka.IsPermanent(err))
}

func TestKafkaBarsHandlerAcksDuplicates(t *testing.T) {
	h := NewKafkaBarsHandler("bars", &fakeSink{err: ErrDuplicateBar}, newFakeMetrics())
	assert.NoError(t, h.Handle(context.Background(), encodeBar(t, zigzag("AAPL", 1)[0])))
}

func TestKafkaBarsHandlerRetriesOtherErrors(t *testing.T) {
	h := NewKafkaBarsHandler("bars", &fakeSink{err: errBoom}, newFakeMetrics())
	err := h.Handle(context.Background(), encodeBar(t, zigzag("AAPL", 1)[0]))
	assert.True(t, errors.Is(err, errBoom))
	assert.False(t, pkgkafka.IsPermanent(err))
}
