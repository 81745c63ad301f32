package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"SwingPull/internal/engine"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`

	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
		EnableCORS      bool          `yaml:"enable_cors" default:"true"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Ingest struct {
		Backend   string `yaml:"backend" default:"direct" validate:"oneof=kafka direct"`
		Timeframe string `yaml:"timeframe" default:"1m" validate:"oneof=1s 1m 5m 15m 1h"`
	} `yaml:"ingest"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		ClientID     string   `yaml:"client_id" default:"swingpull"`
		AutoCreate   bool     `yaml:"auto_create_topics"`
		RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Topics       struct {
			Bars      string `yaml:"bars" default:"swingpull.bars"`
			Snapshots string `yaml:"snapshots" default:"swingpull.structure"`
			Logs      string `yaml:"logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5" validate:"gte=1"`
			Linger       time.Duration `yaml:"linger" default:"20ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576" validate:"gte=1"`
			BatchSize    int           `yaml:"batch_size" default:"500" validate:"gte=1"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID         string        `yaml:"group_id" default:"swingpull-structure"`
			AutoOffsetReset string        `yaml:"auto_offset_reset" default:"earliest" validate:"oneof=earliest latest"`
			Workers         int           `yaml:"workers" default:"4" validate:"gte=1,lte=256"`
			BufferSize      int           `yaml:"buffer_size" default:"1000" validate:"gte=1"`
			RetryMax        int           `yaml:"retry_max" default:"3" validate:"gte=0,lte=100"`
			BackoffMin      time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax      time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic        string        `yaml:"dlq_topic" default:"swingpull.bars.dlq"`
			MinBytes        int           `yaml:"min_bytes" default:"1"`
			MaxBytes        int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled          bool          `yaml:"enabled" default:"true"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000" validate:"gte=1,lte=65535"`
		Database         string        `yaml:"database" default:"swingpull"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		ConnectRetry     time.Duration `yaml:"connect_retry" default:"30s"`
	} `yaml:"clickhouse"`

	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"6379" validate:"gte=1,lte=65535"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db" validate:"gte=0,lte=15"`
		Prefix       string        `yaml:"prefix" default:"swingpull"`
		PoolSize     int           `yaml:"pool_size" default:"10" validate:"gte=1"`
		ConnectRetry time.Duration `yaml:"connect_retry" default:"15s"`
		SnapshotTTL  time.Duration `yaml:"snapshot_ttl" default:"24h"`
		MemoryTTL    time.Duration `yaml:"memory_ttl" default:"5s"`
	} `yaml:"redis"`

	Finnhub struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		APIKey          string        `yaml:"api_key"`
		WebSocketURL    string        `yaml:"websocket_url" default:"wss://ws.finnhub.io" validate:"url"`
		Symbols         []string      `yaml:"symbols"`
		ReconnectDelay  time.Duration `yaml:"reconnect_delay" default:"1s"`
		ReconnectMax    time.Duration `yaml:"reconnect_max" default:"30s"`
		ReconnectGiveUp time.Duration `yaml:"reconnect_give_up"`
		PingInterval    time.Duration `yaml:"ping_interval" default:"20s"`
		BufferSize      int           `yaml:"buffer_size" default:"4096" validate:"gte=1"`
	} `yaml:"finnhub"`

	Structure struct {
		Engine           engine.Config `yaml:"engine"`
		FastPeriod       int           `yaml:"fast_period" default:"50" validate:"gte=1,lte=5000"`
		SlowPeriod       int           `yaml:"slow_period" default:"200" validate:"gte=1,lte=5000"`
		ATRPeriod        int           `yaml:"atr_period" default:"14" validate:"gte=1,lte=1000"`
		ATRAveragePeriod int           `yaml:"atr_average_period" default:"50" validate:"gte=1,lte=1000"`
		PivotStrength    int           `yaml:"pivot_strength" default:"3" validate:"gte=1,lte=50"`
		TradingHours     struct {
			Enabled      bool   `yaml:"enabled"`
			Start        string `yaml:"start" default:"09:30"`
			End          string `yaml:"end" default:"16:00"`
			Location     string `yaml:"location" default:"America/New_York"`
			WeekdaysOnly bool   `yaml:"weekdays_only" default:"true"`
		} `yaml:"trading_hours"`
	} `yaml:"structure"`

	API struct {
		ReplayPerSecond float64       `yaml:"replay_per_second" default:"0.5" validate:"gt=0"`
		ReplayBurst     int           `yaml:"replay_burst" default:"2" validate:"gte=1"`
		ReplayLockTTL   time.Duration `yaml:"replay_lock_ttl" default:"2m"`
	} `yaml:"api"`

	Logging struct {
		Level         string        `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
		Format        string        `yaml:"format" default:"json" validate:"oneof=json console"`
		Output        string        `yaml:"output" default:"stdout" validate:"required"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
		FlushCount    int           `yaml:"flush_count" default:"100" validate:"gte=1"`
	} `yaml:"logging"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Parse applies defaults, then the YAML document on top, then validates.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads an optional .env file, then the YAML file, and lets
// environment variables override it.
func LoadWithEnv(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("APP_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if v := getenv("INGEST_BACKEND"); v != "" {
		c.Ingest.Backend = v
	}
	if v := getenv("TIMEFRAME"); v != "" {
		c.Ingest.Timeframe = v
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Finnhub.Symbols = splitList(v)
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks tag ranges, then the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Ingest.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when ingest.backend is kafka")
	}
	if c.Finnhub.Enabled {
		if len(c.Finnhub.Symbols) == 0 {
			return errors.New("finnhub.symbols cannot be empty")
		}
		if c.Finnhub.APIKey == "" {
			return errors.New("finnhub.api_key is required")
		}
	}
	if c.Structure.FastPeriod >= c.Structure.SlowPeriod {
		return fmt.Errorf("structure.fast_period (%d) must be below slow_period (%d)",
			c.Structure.FastPeriod, c.Structure.SlowPeriod)
	}
	return c.Structure.Engine.Validate()
}

// UsesKafka reports whether any component needs brokers.
func (c *Config) UsesKafka() bool {
	return len(c.Kafka.Brokers) > 0
}
