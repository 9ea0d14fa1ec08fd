package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"marketdata-core/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/marketdata.db"
}

// Store persists candles and quotes. All writes are composite-key upserts.
type Store struct {
	db *sql.DB

	// Optional metrics hook, called with the elapsed seconds of each commit.
	OnCommit func(seconds float64)
}

var (
	_ model.CandleStore = (*Store)(nil)
	_ model.QuoteWriter = (*Store)(nil)
	_ model.QuoteReader = (*Store)(nil)
)

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single connection: SQLite has one writer, and reads are short.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite opened", "component", "sqlite", "path", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL,
			PRIMARY KEY (symbol, timeframe, ts)
		);

		CREATE TABLE IF NOT EXISTS quotes (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			bid    REAL,
			ask    REAL,
			last   REAL,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

const upsertCandleSQL = `
	INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
		open   = excluded.open,
		high   = excluded.high,
		low    = excluded.low,
		close  = excluded.close,
		volume = excluded.volume
`

// UpsertCandle creates the candle or overwrites OHLCV at its key.
func (s *Store) UpsertCandle(ctx context.Context, c model.Candle) error {
	_, err := s.db.ExecContext(ctx, upsertCandleSQL,
		c.Symbol, string(c.Timeframe), c.TS, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("sqlite upsert candle %s ts=%d: %w", c.Key(), c.TS, err)
	}
	return nil
}

// UpsertCandles upserts a batch of candles in a single transaction.
func (s *Store) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertCandleSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Symbol, string(c.Timeframe), c.TS, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite upsert candle %s ts=%d: %w", c.Key(), c.TS, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	if s.OnCommit != nil {
		s.OnCommit(time.Since(start).Seconds())
	}
	return nil
}

// UpsertQuote creates the quote or updates bid/ask at (symbol, ts).
// An existing last value is preserved.
func (s *Store) UpsertQuote(ctx context.Context, q model.Quote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (symbol, ts, bid, ask, last)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			bid = excluded.bid,
			ask = excluded.ask
	`, q.Symbol, q.TS, nullFloat(q.Bid), nullFloat(q.Ask), nullFloat(q.Last))
	if err != nil {
		return fmt.Errorf("sqlite upsert quote %s ts=%d: %w", q.Symbol, q.TS, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
