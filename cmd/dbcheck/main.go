// Command dbcheck prints row counts and the newest candle from the SQLite
// store, plus the Redis-cached quotes when REDIS_ADDR is set.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"marketdata-core/config"
	redisstore "marketdata-core/internal/store/redis"
	sqlitestore "marketdata-core/internal/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dbcheck: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("db:      %s\n", cfg.SQLitePath)
	fmt.Printf("candles: %d\n", st.Candles)
	fmt.Printf("quotes:  %d\n", st.Quotes)
	if st.Latest == nil {
		fmt.Println("latest:  none")
	} else {
		c := st.Latest
		fmt.Printf("latest:  %s %s ts=%s o=%g h=%g l=%g c=%g v=%g\n",
			c.Symbol, c.Timeframe, time.UnixMilli(c.TS).UTC().Format(time.RFC3339),
			c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	if !cfg.RedisEnabled() {
		return nil
	}
	rdb, err := redisstore.Dial(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return err
	}
	defer rdb.Close()

	reader := redisstore.NewReader(rdb)
	for _, sym := range cfg.Symbols {
		q, ok, err := reader.LatestQuote(ctx, sym)
		switch {
		case err != nil:
			fmt.Printf("redis %s: %v\n", sym, err)
		case !ok:
			fmt.Printf("redis %s: no quote\n", sym)
		default:
			fmt.Printf("redis %s: ts=%d bid=%s ask=%s\n", sym, q.TS, fmtPrice(q.Bid), fmtPrice(q.Ask))
		}
	}
	return nil
}

func fmtPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *p)
}
