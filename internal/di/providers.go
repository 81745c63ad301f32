package di

import (
	"context"
	"fmt"
	"time"

	"SwingPull/internal/domain/repository"
	"SwingPull/internal/handler/api"
	mid "SwingPull/internal/middleware"
	internalrepo "SwingPull/internal/repository"
	"SwingPull/internal/service/finnhub"
	"SwingPull/internal/usecase"
	pkgcache "SwingPull/pkg/cache"
	pkgch "SwingPull/pkg/clickhouse"
	"SwingPull/pkg/config"
	xhttp "SwingPull/pkg/http"
	pkgkafka "SwingPull/pkg/kafka"
	applogger "SwingPull/pkg/logger"
	"SwingPull/pkg/metrics"
	"SwingPull/pkg/server"
)

// ProvideLogger builds the application logger from the logging section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when storage is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithConnectRetry(cfg.ClickHouse.ConnectRetry),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideStorage creates the ClickHouse store and its schema. Nil without a client.
func ProvideStorage(ch *pkgch.Client, l *applogger.Logger) (repository.Storage, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseStore(ch)
	store.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.UsesKafka() {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithClientID(cfg.Kafka.ClientID),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.AutoCreate),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRedisCache connects to Redis, or returns nil when it is disabled.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 30*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
		pkgcache.WithRedisConnectRetry(cfg.Redis.ConnectRetry),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCacheService layers a short-lived memory cache over Redis, or uses memory
// alone when Redis is disabled.
func ProvideCacheService(cfg *config.Config, rc *pkgcache.RedisCache) pkgcache.Service {
	if rc == nil {
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(10000))
	}
	return pkgcache.NewLayeredCache(rc, pkgcache.WithLayeredMemoryTTL(cfg.Redis.MemoryTTL))
}

func ProvideSnapshotCache(cfg *config.Config, svc pkgcache.Service) repository.SnapshotCache {
	return internalrepo.NewSnapshotCache(svc, cfg.Redis.SnapshotTTL)
}

// ProvideSnapshotPublisher publishes snapshots when a producer and topic exist.
func ProvideSnapshotPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.SnapshotPublisher {
	if producer == nil || cfg.Kafka.Topics.Snapshots == "" {
		return nil
	}
	return internalrepo.NewKafkaSnapshotPublisher(producer, cfg.Kafka.Topics.Snapshots)
}

func ProvideTradingHours(cfg *config.Config) (*usecase.TradingHours, error) {
	th := cfg.Structure.TradingHours
	if !th.Enabled {
		return usecase.AlwaysOpen(), nil
	}
	return usecase.NewTradingHours(th.Start, th.End, th.Location, th.WeekdaysOnly)
}

// ProvideStructureTracker builds the tracker with whichever side effects are configured.
func ProvideStructureTracker(
	cfg *config.Config,
	m repository.Metrics,
	storage repository.Storage,
	cache repository.SnapshotCache,
	pub repository.SnapshotPublisher,
	hours *usecase.TradingHours,
	l *applogger.Logger,
) (*usecase.StructureTracker, error) {
	sc := usecase.SessionConfig{
		Engine:           cfg.Structure.Engine,
		FastPeriod:       cfg.Structure.FastPeriod,
		SlowPeriod:       cfg.Structure.SlowPeriod,
		ATRPeriod:        cfg.Structure.ATRPeriod,
		ATRAveragePeriod: cfg.Structure.ATRAveragePeriod,
		PivotStrength:    cfg.Structure.PivotStrength,
	}
	opts := []usecase.TrackerOption{usecase.WithTradingHours(hours)}
	if storage != nil {
		opts = append(opts, usecase.WithStorage(storage))
	}
	if cache != nil {
		opts = append(opts, usecase.WithSnapshotCache(cache))
	}
	if pub != nil {
		opts = append(opts, usecase.WithSnapshotPublisher(pub))
	}
	t, err := usecase.NewStructureTracker(sc, m, opts...)
	if err != nil {
		return nil, fmt.Errorf("structure tracker: %w", err)
	}
	t.SetLogger(l.With(applogger.String("component", "tracker")))
	return t, nil
}

// ProvideBarSink picks where closed bars go: the bars topic for the kafka backend,
// the tracker directly otherwise.
func ProvideBarSink(cfg *config.Config, tracker *usecase.StructureTracker, producer *pkgkafka.Producer) (repository.BarSink, error) {
	if cfg.Ingest.Backend != "kafka" {
		return tracker, nil
	}
	if producer == nil {
		return nil, fmt.Errorf("ingest backend kafka needs kafka.brokers")
	}
	return usecase.NewPublisherSink(internalrepo.NewKafkaBarPublisher(producer, cfg.Kafka.Topics.Bars)), nil
}

func ProvideBarPipeline(cfg *config.Config, sink repository.BarSink, m repository.Metrics, l *applogger.Logger) *mid.BarPipeline {
	return mid.NewBarPipeline(sink, m,
		mid.WithBufferSize(cfg.Kafka.Consumer.BufferSize),
		mid.WithRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		mid.WithLogger(l.With(applogger.String("component", "bar_pipeline"))),
	)
}

// ProvideTradeCollector wires Finnhub trades into bars. Nil when the feed is disabled.
func ProvideTradeCollector(cfg *config.Config, pipeline *mid.BarPipeline, m repository.Metrics, l *applogger.Logger) (*usecase.TradeCollector, error) {
	if !cfg.Finnhub.Enabled {
		return nil, nil
	}
	builder, err := usecase.NewBarBuilder(repository.NormalizeTimeframe(cfg.Ingest.Timeframe), pipeline, m)
	if err != nil {
		return nil, err
	}
	stream := finnhub.New(finnhub.Config{
		APIKey:          cfg.Finnhub.APIKey,
		WebsocketURL:    cfg.Finnhub.WebSocketURL,
		Symbols:         cfg.Finnhub.Symbols,
		ReconnectDelay:  cfg.Finnhub.ReconnectDelay,
		ReconnectMax:    cfg.Finnhub.ReconnectMax,
		ReconnectGiveUp: cfg.Finnhub.ReconnectGiveUp,
		PingInterval:    cfg.Finnhub.PingInterval,
		BufferSize:      cfg.Finnhub.BufferSize,
	})
	stream.SetLogger(l.With(applogger.String("component", "finnhub")))

	c := usecase.NewTradeCollector(stream, builder, m)
	c.SetLogger(l.With(applogger.String("component", "collector")))
	return c, nil
}

// ProvideKafkaConsumer creates the bars consumer for the kafka backend, nil otherwise.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Ingest.Backend != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.AutoOffsetReset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetLogger(l.With(applogger.String("component", "kafka_consumer")))
	consumer.WithConsumerHook(pkgkafka.TraceHook())
	return consumer, nil
}

// ProvideKafkaBarsHandler feeds consumed bars to the tracker.
func ProvideKafkaBarsHandler(cfg *config.Config, tracker *usecase.StructureTracker, m repository.Metrics) *usecase.KafkaBarsHandler {
	return usecase.NewKafkaBarsHandler(cfg.Kafka.Topics.Bars, tracker, m)
}

// ProvideStructureHandler builds the HTTP handler with replay throttling, the replay
// lock and dependency health checks.
func ProvideStructureHandler(
	cfg *config.Config,
	l *applogger.Logger,
	tracker *usecase.StructureTracker,
	svc pkgcache.Service,
	storage repository.Storage,
	rc *pkgcache.RedisCache,
) *api.StructureEchoHandler {
	opts := []api.HandlerOption{
		api.WithReplayLimit(cfg.API.ReplayPerSecond, cfg.API.ReplayBurst),
		api.WithReplayLock(svc, cfg.API.ReplayLockTTL),
	}
	if storage != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", storage.Health))
	}
	if rc != nil {
		opts = append(opts, api.WithHealthCheck("redis", rc.Health))
	}
	return api.NewStructureEchoHandler(l, tracker, opts...)
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.StructureEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.EnableCORS, cfg.Server.CORSOrigins...),
		xhttp.WithSlowThreshold(cfg.Server.SlowRequest),
		xhttp.WithLogger(l.With(applogger.String("component", "http"))),
	)
}

// ProvideApp assembles the application. Aggregated error logs go to the logs topic
// when one is configured.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.TradeCollector,
	pipeline *mid.BarPipeline,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaBarsHandler,
	httpServer *xhttp.Server,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	rc *pkgcache.RedisCache,
	svc pkgcache.Service,
) *server.App {
	if producer != nil && cfg.Kafka.Topics.Logs != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.FlushInterval,
			CountThreshold: cfg.Logging.FlushCount,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      internalrepo.NewLogPublisher(producer),
		})
	}

	comp := server.Components{
		Logger:     l,
		Collector:  collector,
		Pipeline:   pipeline,
		HTTPServer: httpServer,
	}
	if consumer != nil {
		comp.Consumer = consumer
		comp.Handler = kh
	}
	comp.Closers = append(comp.Closers, server.CloserFunc("log collector", func() error {
		l.RemoveCollector()
		return nil
	}))
	if producer != nil {
		comp.Closers = append(comp.Closers, server.Closer{Name: "kafka producer", Closer: producer})
	}
	if ch != nil {
		comp.Closers = append(comp.Closers, server.Closer{Name: "clickhouse", Closer: ch})
	}
	if c, ok := svc.(interface{ Close() error }); ok {
		comp.Closers = append(comp.Closers, server.CloserFunc("cache", c.Close))
	}
	if rc != nil {
		comp.Closers = append(comp.Closers, server.Closer{Name: "redis", Closer: rc})
	}
	return server.New(cfg, comp)
}
