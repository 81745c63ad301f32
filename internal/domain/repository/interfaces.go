package repository

import (
	"context"
	"errors"
	"time"

	"SwingPull/internal/domain/models"
)

type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// BarPublisher puts closed bars on the ingest bus.
type BarPublisher interface {
	Publish(ctx context.Context, b *models.Bar) error
	Close() error
}

// BarSink receives closed bars, either a publisher or the tracker directly.
type BarSink interface {
	OnBar(ctx context.Context, b *models.Bar) error
}

type Storage interface {
	Init(ctx context.Context) error // ensure tables, health checks
	StoreBar(ctx context.Context, b *models.Bar) error
	QueryBars(ctx context.Context, symbol string, tf Timeframe, from, to time.Time, limit int) ([]*models.Bar, error)
	StoreSwings(ctx context.Context, swings []models.SwingRecord) error
	StoreSnapshot(ctx context.Context, s *models.StructureSnapshot) error
	Health(ctx context.Context) error // ping
	Close() error
}

// SnapshotPublisher fans structure snapshots out to downstream consumers.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, s *models.StructureSnapshot) error
}

// ErrNotFound is returned by lookups that found nothing, such as a cache miss.
var ErrNotFound = errors.New("not found")

// SnapshotCache keeps the latest snapshot per stream. A miss returns ErrNotFound.
type SnapshotCache interface {
	Get(ctx context.Context, symbol, tf string) (*models.StructureSnapshot, error)
	Set(ctx context.Context, s *models.StructureSnapshot) error
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordBar(symbol, tf string)
	RecordSwing(symbol, tf, label string)
	RecordTrend(symbol, tf, current string, sequence int)
	RecordCompression(symbol, tf string, active bool)
	RecordRecommended(symbol, tf, profile string, recommended bool)
}
