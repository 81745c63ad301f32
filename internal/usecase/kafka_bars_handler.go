package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"SwingPull/internal/domain/models"
	domrepo "SwingPull/internal/domain/repository"
	pkgkafka "SwingPull/pkg/kafka"
)

// KafkaBarsHandler consumes closed bars and feeds them to the sink (the tracker).
// Malformed and out-of-order bars are not retried; redelivered bars are acknowledged.
type KafkaBarsHandler struct {
	topic   string
	sink    domrepo.BarSink
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, sink domrepo.BarSink, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// incoming message schema: models.BarMessage
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m models.BarMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(err)
	}
	bar := m.Bar()
	if bar.Timeframe == "" {
		bar.Timeframe = string(domrepo.DefaultTimeframe())
	}
	if err := bar.Validate(); err != nil {
		h.metrics.RecordError("consumer_invalid_bar")
		return pkgkafka.Permanent(err)
	}
	// E2E latency from bar close to now (approx)
	if d := domrepo.Timeframe(bar.Timeframe).Duration(); d > 0 {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(bar.Bucket.Add(d)).Seconds())
	}

	err := h.sink.OnBar(ctx, bar)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateBar):
		return nil
	case errors.Is(err, models.ErrInvalidBar), isEngineContractError(err):
		return pkgkafka.Permanent(err)
	default:
		h.metrics.RecordError("consumer_handle")
		return err
	}
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
