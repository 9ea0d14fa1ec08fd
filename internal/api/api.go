// Package api serves the read-only candle and quote query API over gin.
//
// Layout:
//   - api.go: Handler and its dependencies
//   - router.go: routes, middleware stack and the HTTP server
//   - handler.go: request handlers
//   - middleware.go: request-id, access log, metrics, CORS
//   - validator.go: query parameter validation
package api

import (
	"context"
	"log/slog"
	"time"

	"marketdata-core/internal/model"
	"marketdata-core/internal/rollup"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultTimeframe    = model.TF1m
	DefaultLimit        = 200
	MaxLimit            = 1000
	MaxRangeRows        = 5000
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// Store is the read side the handlers query.
type Store interface {
	model.CandleReader
	model.QuoteReader
}

// RollupRunner runs one full rollup pass on demand.
type RollupRunner interface {
	RunAll(ctx context.Context) (rollup.Result, error)
}

// Handler handles HTTP requests.
type Handler struct {
	store     Store
	rollups   RollupRunner
	validator *Validator
	logger    *slog.Logger
	now       func() time.Time

	// Optional metrics hook, called once per request.
	OnRequest func(route string, code int, seconds float64)
}

// NewHandler creates a Handler serving symbols. rollups may be nil, in which
// case the manual trigger route is not registered.
func NewHandler(store Store, rollups RollupRunner, symbols []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     store,
		rollups:   rollups,
		validator: NewValidator(symbols),
		logger:    logger,
		now:       time.Now,
	}
}
