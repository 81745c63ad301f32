package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SwingPull/internal/middleware"
	"SwingPull/internal/usecase"
	"SwingPull/pkg/config"
	xhttp "SwingPull/pkg/http"
	pkgkafka "SwingPull/pkg/kafka"
	applogger "SwingPull/pkg/logger"
)

// Closer is a named resource released on shutdown, in registration order.
type Closer struct {
	Name string
	io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// CloserFunc names a plain function as a shutdown step.
func CloserFunc(name string, fn func() error) Closer {
	return Closer{Name: name, Closer: closerFunc(fn)}
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	l   *applogger.Logger

	collector  *usecase.TradeCollector
	pipeline   *middleware.BarPipeline
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	httpServer *xhttp.Server
	closers    []Closer
}

// Components groups what New needs; nil members are skipped.
type Components struct {
	Logger     *applogger.Logger
	Collector  *usecase.TradeCollector
	Pipeline   *middleware.BarPipeline
	Consumer   *pkgkafka.Consumer
	Handler    pkgkafka.MessageHandler
	HTTPServer *xhttp.Server
	Closers    []Closer
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, c Components) *App {
	return &App{
		cfg:        cfg,
		l:          c.Logger,
		collector:  c.Collector,
		pipeline:   c.Pipeline,
		consumer:   c.Consumer,
		kh:         c.Handler,
		httpServer: c.HTTPServer,
		closers:    c.Closers,
	}
}

// Logger returns the application logger, possibly nil.
func (a *App) Logger() *applogger.Logger { return a.l }

// Run starts every component and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx ends, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	// The pipeline outlives ctx so shutdown can drain it after the collector flush.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return err
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			_ = a.shutdown(cancelWork)
			return err
		}
		a.info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.pipeline != nil {
		a.pipeline.Start(workCtx)
	}

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			_ = a.shutdown(cancelWork)
			return err
		}
		a.info("collector started",
			applogger.Strings("symbols", a.cfg.Finnhub.Symbols),
			applogger.String("backend", a.cfg.Ingest.Backend),
			applogger.String("tf", a.cfg.Ingest.Timeframe),
		)
	}

	<-ctx.Done()
	a.info("shutdown signal received")
	return a.shutdown(cancelWork)
}

// shutdown stops producers of bars before their consumers: the collector flushes
// open bars into the pipeline, the pipeline drains into the sink, then the Kafka
// consumer, HTTP server and clients close. Live sessions are not finished.
func (a *App) shutdown(cancelWork context.CancelFunc) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer cancelWork()

	var errs []error
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.warn("collector stop error", err)
			errs = append(errs, err)
		}
	}
	if a.pipeline != nil {
		if err := a.pipeline.Stop(ctx); err != nil {
			a.warn("bar pipeline drain error", err)
			errs = append(errs, err)
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.warn("kafka consumer stop error", err)
			errs = append(errs, err)
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.warn("http shutdown error", err)
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if c.Closer == nil {
			continue
		}
		if err := c.Close(); err != nil {
			a.warn(c.Name+" close error", err)
			errs = append(errs, err)
		}
	}

	a.info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) info(msg string, fields ...applogger.Field) {
	if a.l != nil {
		a.l.Info(msg, fields...)
	}
}

func (a *App) warn(msg string, err error) {
	if a.l != nil {
		a.l.Warn(msg, applogger.Error(err))
	}
}
