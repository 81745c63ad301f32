//go:build wireinject
// +build wireinject

package di

import (
	"SwingPull/pkg/config"
	"SwingPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideCacheService,

		// Repositories
		ProvideStorage,
		ProvideSnapshotCache,
		ProvideSnapshotPublisher,

		// Use cases
		ProvideTradingHours,
		ProvideStructureTracker,
		ProvideBarSink,
		ProvideBarPipeline,
		ProvideTradeCollector,
		ProvideKafkaConsumer,
		ProvideKafkaBarsHandler,

		// Transport
		ProvideStructureHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
