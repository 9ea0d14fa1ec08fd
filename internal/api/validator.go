package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"marketdata-core/internal/model"
)

// ErrUnknownSymbol is returned for a missing symbol or one that is not served.
var ErrUnknownSymbol = errors.New("symbol is required and must be one of /api/symbols")

// Validator cleans and checks query parameters. It is immutable after
// construction.
type Validator struct {
	symbols []string
	allowed map[string]bool
}

// NewValidator builds a validator for the given symbols. Symbols are
// upper-cased and de-duplicated, keeping first-seen order.
func NewValidator(symbols []string) *Validator {
	v := &Validator{allowed: make(map[string]bool, len(symbols))}
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || v.allowed[s] {
			continue
		}
		v.allowed[s] = true
		v.symbols = append(v.symbols, s)
	}
	return v
}

// Symbols returns the served symbols.
func (v *Validator) Symbols() []string {
	return append([]string(nil), v.symbols...)
}

// Symbol upper-cases raw and checks it against the served set.
func (v *Validator) Symbol(raw string) (string, error) {
	s := strings.ToUpper(sanitizeInput(raw))
	if s == "" || !v.allowed[s] {
		return "", ErrUnknownSymbol
	}
	return s, nil
}

// Timeframe defaults to 1m and rejects unknown tokens.
func (v *Validator) Timeframe(raw string) (model.Timeframe, error) {
	raw = sanitizeInput(raw)
	if raw == "" {
		return DefaultTimeframe, nil
	}
	tf, err := model.ParseTimeframe(raw)
	if err != nil {
		return "", fmt.Errorf("timeframe: %w", err)
	}
	return tf, nil
}

// Limit defaults to 200 and clamps into [1, 1000]. A value that is not an
// integer is an error.
func (v *Validator) Limit(raw string) (int, error) {
	raw = sanitizeInput(raw)
	if raw == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	switch {
	case n < 1:
		return 1, nil
	case n > MaxLimit:
		return MaxLimit, nil
	}
	return int(n), nil
}

// Millis parses an epoch-millisecond bound, returning def when raw is empty.
func (v *Validator) Millis(name, raw string, def int64) (int64, error) {
	raw = sanitizeInput(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be epoch milliseconds", name)
	}
	return n, nil
}

// sanitizeInput trims whitespace, strips control characters and caps length.
func sanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, input)
	if len(input) > 100 {
		input = input[:100]
	}
	return input
}
