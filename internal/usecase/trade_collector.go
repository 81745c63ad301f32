package usecase

import (
	"context"
	"errors"

	"SwingPull/internal/domain/models"
	drepo "SwingPull/internal/domain/repository"
	applogger "SwingPull/pkg/logger"
)

// TradeCollector reads trades from the market stream and folds them into bars.
type TradeCollector struct {
	stream  drepo.MarketStream
	builder *BarBuilder
	metrics drepo.Metrics
	l       *applogger.Logger
}

// NewTradeCollector creates a new TradeCollector instance.
func NewTradeCollector(stream drepo.MarketStream, builder *BarBuilder, metrics drepo.Metrics) *TradeCollector {
	return &TradeCollector{stream: stream, builder: builder, metrics: metrics}
}

// SetLogger injects a structured logger.
func (c *TradeCollector) SetLogger(l *applogger.Logger) { c.l = l }

// IsConnected returns true if the market stream is connected.
func (c *TradeCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *TradeCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	trCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, trCh, errCh)
	return nil
}

func (c *TradeCollector) consume(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.metrics.RecordError("stream")
			if c.l != nil {
				c.l.Warn("market stream error, reconnecting", applogger.Error(err))
			}
			if rerr := c.stream.Reconnect(ctx); rerr != nil {
				if c.l != nil {
					c.l.Error("market stream reconnect failed", applogger.Error(rerr))
				}
				return
			}
			trCh, errCh = c.stream.Read(ctx)
		case t, ok := <-trCh:
			if !ok {
				trCh = nil
				continue
			}
			if t == nil {
				continue
			}
			c.metrics.RecordLastPrice(t.Symbol, t.Price)
			if err := c.builder.Add(ctx, t); err != nil && !errors.Is(err, ErrLateTrade) && c.l != nil {
				c.l.Error("bar emit failed", applogger.String("symbol", t.Symbol), applogger.Error(err))
			}
		}
	}
}

// Shutdown flushes open bars and closes the stream.
func (c *TradeCollector) Shutdown(ctx context.Context) error {
	ferr := c.builder.Flush(ctx)
	return errors.Join(ferr, c.stream.Close())
}
