// Command buildsymbols asks the exchange which USD pairs it lists and prints
// a SYMBOLS= line for the .env file, taken from a fixed candidate list.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"marketdata-core/config"
)

// maxSymbols caps the printed list.
const maxSymbols = 20

// candidates are base assets in order of preference.
var candidates = []string{
	"BTC", "ETH", "SOL", "AVAX", "ADA", "DOGE", "MATIC", "LINK", "LTC", "BCH",
	"UNI", "AAVE", "ATOM", "DOT", "ETC", "FIL", "XLM", "SHIB", "ALGO", "NEAR",
	"APT", "ARB", "OP", "SUI", "INJ", "RNDR", "TIA", "SEI", "TON", "TRX",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "buildsymbols: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 15 * time.Second}
	listed, err := fetchSymbols(ctx, client, cfg.RESTURL)
	if err != nil {
		return err
	}

	picks := pickUSD(listed, candidates, maxSymbols)
	if len(picks) == 0 {
		fmt.Println("No matches found. Try a different candidate list.")
		return nil
	}
	fmt.Println("\nPaste this into your .env (replace the SYMBOLS= line):")
	fmt.Println()
	fmt.Println("SYMBOLS=" + strings.Join(picks, ","))
	fmt.Println()
	return nil
}

// fetchSymbols returns the exchange's listed pairs, e.g. ["btcusd","ethbtc"].
func fetchSymbols(ctx context.Context, client *http.Client, baseURL string) ([]string, error) {
	url := strings.TrimRight(baseURL, "/") + "/v1/symbols"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("failed to fetch symbols: %d", resp.StatusCode)
	}

	var symbols []string
	if err := json.NewDecoder(resp.Body).Decode(&symbols); err != nil {
		return nil, fmt.Errorf("symbols: decode: %w", err)
	}
	return symbols, nil
}

// pickUSD keeps candidates whose USD pair is listed, in candidate order, up
// to limit entries.
func pickUSD(listed, candidates []string, limit int) []string {
	usd := make(map[string]bool, len(listed))
	for _, s := range listed {
		s = strings.ToLower(s)
		if strings.HasSuffix(s, "usd") {
			usd[s] = true
		}
	}

	var picks []string
	for _, base := range candidates {
		if len(picks) >= limit {
			break
		}
		if usd[strings.ToLower(base)+"usd"] {
			picks = append(picks, strings.ToUpper(base)+"USD")
		}
	}
	return picks
}
