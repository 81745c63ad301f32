package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"SwingPull/internal/domain/models"
	domrepo "SwingPull/internal/domain/repository"
	"SwingPull/internal/engine"
	"SwingPull/internal/usecase"
	applogger "SwingPull/pkg/logger"
)

// ErrPipelineFull is returned by OnBar when the buffer has no room.
var ErrPipelineFull = errors.New("bar pipeline buffer full")

// ErrPipelineStopped is returned by OnBar after Stop.
var ErrPipelineStopped = errors.New("bar pipeline stopped")

// BarPipeline sits between the bar builder and the downstream sink (bars topic or
// the tracker). It validates bars and buffers them so a slow or failing sink never
// blocks the market stream. A single worker delivers in arrival order and retries a
// failing bar with backoff before dropping it.
type BarPipeline struct {
	sink    domrepo.BarSink
	metrics domrepo.Metrics
	l       *applogger.Logger

	bufSize    int
	retryMax   uint64
	backoffMin time.Duration
	backoffMax time.Duration

	bufCh chan *models.Bar
	done  chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

type PipelineOption func(*BarPipeline)

// WithBufferSize sets how many bars may wait for the sink.
func WithBufferSize(n int) PipelineOption {
	return func(p *BarPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetry sets how often a failing bar is retried and the backoff bounds.
func WithRetry(max int, min, maxDelay time.Duration) PipelineOption {
	return func(p *BarPipeline) {
		if max >= 0 {
			p.retryMax = uint64(max)
		}
		if min > 0 {
			p.backoffMin = min
		}
		if maxDelay >= p.backoffMin {
			p.backoffMax = maxDelay
		}
	}
}

func WithLogger(l *applogger.Logger) PipelineOption {
	return func(p *BarPipeline) { p.l = l }
}

func NewBarPipeline(sink domrepo.BarSink, metrics domrepo.Metrics, opts ...PipelineOption) *BarPipeline {
	p := &BarPipeline{
		sink:       sink,
		metrics:    metrics,
		bufSize:    1000,
		retryMax:   5,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Bar, p.bufSize)
	return p
}

// Start launches the delivery worker. It runs until Stop or ctx ends.
func (p *BarPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *BarPipeline) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-p.bufCh:
			if !ok {
				return
			}
			p.deliver(ctx, b)
		}
	}
}

func (p *BarPipeline) deliver(ctx context.Context, b *models.Bar) {
	start := time.Now()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.backoffMin
	bo.MaxInterval = p.backoffMax
	bo.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := p.sink.OnBar(ctx, b)
		if rejected(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, p.retryMax), ctx))

	if rejected(err) {
		p.metrics.RecordError("pipeline_reject")
		if p.l != nil {
			p.l.Warn("bar rejected by sink",
				applogger.String("symbol", b.Symbol),
				applogger.String("bucket", b.Bucket.Format(time.RFC3339)),
				applogger.Error(err),
			)
		}
		return
	}
	if err != nil {
		p.metrics.RecordError("pipeline_drop")
		if p.l != nil {
			p.l.Error("bar dropped after retries",
				applogger.String("symbol", b.Symbol),
				applogger.String("bucket", b.Bucket.Format(time.RFC3339)),
				applogger.Int("attempts", attempts),
				applogger.Error(err),
			)
		}
		return
	}
	if attempts > 1 {
		p.metrics.RecordError("pipeline_retry")
	}
	p.metrics.RecordLatency("pipeline_deliver_seconds", time.Since(start).Seconds())
}

// rejected reports sink errors that a retry cannot fix.
func rejected(err error) bool {
	return errors.Is(err, models.ErrInvalidBar) ||
		errors.Is(err, usecase.ErrDuplicateBar) ||
		errors.Is(err, engine.ErrOutOfOrder) ||
		errors.Is(err, engine.ErrInvalidPivot) ||
		errors.Is(err, engine.ErrInvalidBar)
}

// OnBar implements BarSink. It never blocks on the downstream sink.
func (p *BarPipeline) OnBar(_ context.Context, b *models.Bar) error {
	if err := b.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPipelineStopped
	}
	select {
	case p.bufCh <- b:
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return fmt.Errorf("%w: %s %s", ErrPipelineFull, b.Symbol, b.Bucket.Format(time.RFC3339))
	}
}

// Depth is the number of bars waiting for the sink.
func (p *BarPipeline) Depth() int { return len(p.bufCh) }

// Stop refuses new bars and waits until the buffered ones are delivered or ctx ends.
func (p *BarPipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	close(p.bufCh)
	p.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bar pipeline drain: %w (%d bars left)", ctx.Err(), len(p.bufCh))
	}
}

var _ domrepo.BarSink = (*BarPipeline)(nil)
