package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// ClickHouseFeed reads 1m candles from a ClickHouse table laid out as
// (symbol, interval, open_time_ms, open, high, low, close, volume)
type ClickHouseFeed struct {
	conn     driver.Conn
	database string
	table    string
	logger   *zap.Logger
}

// NewClickHouseFeed connects to ClickHouse and pings it
func NewClickHouseFeed(ctx context.Context, dsn, database, table string, logger *zap.Logger) (*ClickHouseFeed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if database == "" {
		database = "backtest"
	}
	if table == "" {
		table = "data"
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	return &ClickHouseFeed{
		conn:     conn,
		database: database,
		table:    table,
		logger:   logger,
	}, nil
}

// FetchBars fetches minute bars in [start, end)
func (cf *ClickHouseFeed) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	query := fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = '1m' AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms`, cf.database, cf.table)

	rows, err := cf.conn.Query(ctx, query, symbol, uint64(start.UnixMilli()), uint64(end.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("clickhouse query: %w", err)
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var (
			openTime uint64
			b        Bar
		)
		if err := rows.Scan(&openTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("clickhouse scan: %w", err)
		}
		b.Time = time.UnixMilli(int64(openTime)).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse rows: %w", err)
	}

	cf.logger.Debug("clickhouse bars loaded",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
	)
	return Normalize(fmt.Sprintf("clickhouse:%s.%s", cf.database, cf.table), bars)
}

// Close releases the connection
func (cf *ClickHouseFeed) Close() error {
	return cf.conn.Close()
}
