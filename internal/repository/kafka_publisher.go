package repository

import (
	"context"

	"SwingPull/internal/domain/models"
	domrepo "SwingPull/internal/domain/repository"
	pkgkafka "SwingPull/pkg/kafka"
	applogger "SwingPull/pkg/logger"
)

// Producer is the part of pkg/kafka.Producer the publishers need.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

var _ Producer = (*pkgkafka.Producer)(nil)

// KafkaBarPublisher puts closed bars on the bars topic keyed by symbol, so one
// symbol always lands on one partition and keeps its order.
type KafkaBarPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaBarPublisher(producer Producer, topic string) *KafkaBarPublisher {
	return &KafkaBarPublisher{producer: producer, topic: topic}
}

func (p *KafkaBarPublisher) Publish(ctx context.Context, b *models.Bar) error {
	return p.producer.Publish(ctx, p.topic, []byte(b.Symbol), models.NewBarMessage(b))
}

func (p *KafkaBarPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// KafkaSnapshotPublisher fans structure snapshots out keyed by stream.
type KafkaSnapshotPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaSnapshotPublisher(producer Producer, topic string) *KafkaSnapshotPublisher {
	return &KafkaSnapshotPublisher{producer: producer, topic: topic}
}

func (p *KafkaSnapshotPublisher) PublishSnapshot(ctx context.Context, s *models.StructureSnapshot) error {
	return p.producer.Publish(ctx, p.topic, []byte(models.StreamKey(s.Symbol, s.Timeframe)), s)
}

// LogPublisher ships aggregated error logs from the logger's collector.
type LogPublisher struct {
	producer Producer
}

func NewLogPublisher(producer Producer) *LogPublisher {
	return &LogPublisher{producer: producer}
}

func (p *LogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

var (
	_ domrepo.BarPublisher      = (*KafkaBarPublisher)(nil)
	_ domrepo.SnapshotPublisher = (*KafkaSnapshotPublisher)(nil)
	_ applogger.Publisher       = (*LogPublisher)(nil)
)
