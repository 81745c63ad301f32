package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SwingPull/internal/domain/models"
	domrepo "SwingPull/internal/domain/repository"
	pkgch "SwingPull/pkg/clickhouse"
	applogger "SwingPull/pkg/logger"
)

// Schema lists the idempotent DDL for the structure tables.
func Schema() []string {
	return []string{
		"CREATE DATABASE IF NOT EXISTS swingpull",
		`CREATE TABLE IF NOT EXISTS swingpull.bars (
			symbol LowCardinality(String),
			tf LowCardinality(String),
			bucket DateTime64(3, 'UTC'),
			open Float64, high Float64, low Float64, close Float64,
			volume Float64,
			trades UInt32
		) ENGINE = ReplacingMergeTree ORDER BY (symbol, tf, bucket)`,
		`CREATE TABLE IF NOT EXISTS swingpull.swings (
			symbol LowCardinality(String),
			tf LowCardinality(String),
			bucket DateTime64(3, 'UTC'),
			bar Int64,
			bar_offset Int32,
			kind LowCardinality(String),
			label LowCardinality(String),
			sequence_id UInt64,
			price Float64
		) ENGINE = ReplacingMergeTree ORDER BY (symbol, tf, kind, sequence_id)`,
		`CREATE TABLE IF NOT EXISTS swingpull.snapshots (
			symbol LowCardinality(String),
			tf LowCardinality(String),
			bucket DateTime64(3, 'UTC'),
			bar_index Int64,
			close Float64,
			macro LowCardinality(String),
			current LowCardinality(String),
			micro LowCardinality(String),
			sequence_count UInt32,
			condition LowCardinality(String),
			compressed UInt8,
			recommended Array(String),
			payload String
		) ENGINE = ReplacingMergeTree ORDER BY (symbol, tf, bucket)`,
	}
}

// ClickHouseStore implements Storage over the swingpull tables. Writes go through
// a circuit breaker so a down cluster fails fast instead of stalling every bar.
type ClickHouseStore struct {
	ch      *pkgch.Client
	db      *sql.DB
	breaker *WriteBreaker
	l       *applogger.Logger
}

func NewClickHouseStore(ch *pkgch.Client) *ClickHouseStore {
	return &ClickHouseStore{ch: ch, db: ch.DB(), breaker: NewWriteBreaker("clickhouse")}
}

// SetLogger injects a structured logger.
func (s *ClickHouseStore) SetLogger(l *applogger.Logger) {
	s.l = l
	s.breaker.SetLogger(l)
}

func (s *ClickHouseStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, Schema())
}

func (s *ClickHouseStore) StoreBar(ctx context.Context, b *models.Bar) error {
	const q = `INSERT INTO swingpull.bars (symbol, tf, bucket, open, high, low, close, volume, trades) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return s.exec(ctx, "store_bar", q,
		b.Symbol, b.Timeframe, b.Bucket, b.Open, b.High, b.Low, b.Close, b.Volume, uint32(b.Trades))
}

func (s *ClickHouseStore) StoreSwings(ctx context.Context, swings []models.SwingRecord) error {
	if len(swings) == 0 {
		return nil
	}
	values := make([]string, 0, len(swings))
	args := make([]interface{}, 0, len(swings)*9)
	for _, sw := range swings {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			sw.Symbol, sw.Timeframe, sw.Bucket,
			int64(sw.Bar), int32(sw.BarOffset),
			string(sw.Kind), string(sw.Label), sw.SequenceID, sw.Price,
		)
	}
	q := "INSERT INTO swingpull.swings (symbol, tf, bucket, bar, bar_offset, kind, label, sequence_id, price) VALUES " +
		strings.Join(values, ",")
	return s.exec(ctx, "store_swings", q, args...)
}

func (s *ClickHouseStore) StoreSnapshot(ctx context.Context, snap *models.StructureSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	recommended := snap.Recommended()
	if recommended == nil {
		recommended = []string{}
	}
	var compressed uint8
	if snap.Compression.Active {
		compressed = 1
	}
	const q = `INSERT INTO swingpull.snapshots
		(symbol, tf, bucket, bar_index, close, macro, current, micro, sequence_count, condition, compressed, recommended, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return s.exec(ctx, "store_snapshot", q,
		snap.Symbol, snap.Timeframe, snap.Bucket, int64(snap.BarIndex), snap.Close,
		string(snap.Trend.Macro), string(snap.Trend.Current), string(snap.Trend.Micro),
		uint32(snap.Trend.SequenceCount), string(snap.Condition), compressed, recommended, string(payload),
	)
}

// QueryBars returns bars in [from, to] oldest first. A non-positive limit means no limit.
func (s *ClickHouseStore) QueryBars(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time, limit int) ([]*models.Bar, error) {
	start := time.Now()
	q := `SELECT symbol, tf, bucket, open, high, low, close, volume, trades
		FROM swingpull.bars FINAL
		WHERE symbol = ? AND tf = ? AND bucket >= ? AND bucket <= ?
		ORDER BY bucket ASC`
	args := []interface{}{symbol, string(tf), from, to}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.logError("query_bars", symbol, err)
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Bar, 0, 256)
	for rows.Next() {
		var b models.Bar
		var trades uint32
		if err := rows.Scan(&b.Symbol, &b.Timeframe, &b.Bucket, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &trades); err != nil {
			s.logError("query_bars", symbol, err)
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Bucket = b.Bucket.UTC()
		b.Trades = int(trades)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse query_bars ok",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

// Close is a no-op; the client is owned by the caller.
func (s *ClickHouseStore) Close() error { return nil }

func (s *ClickHouseStore) exec(ctx context.Context, op, q string, args ...interface{}) error {
	err := s.breaker.Do(func() error {
		_, err := s.db.ExecContext(ctx, q, args...)
		return err
	})
	if err != nil {
		s.logError(op, "", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *ClickHouseStore) logError(op, symbol string, err error) {
	if s.l == nil {
		return
	}
	s.l.Error("clickhouse "+op+" error",
		applogger.String("symbol", symbol),
		applogger.String("breaker", s.breaker.State()),
		applogger.Error(err),
	)
}

var _ domrepo.Storage = (*ClickHouseStore)(nil)
