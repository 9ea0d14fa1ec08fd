package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"marketdata-core/internal/logger"
	"marketdata-core/internal/model"

	"github.com/gin-gonic/gin"
)

// Healthz handles GET /healthz.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Symbols handles GET /api/symbols.
func (h *Handler) Symbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": h.validator.Symbols()})
}

// Candles handles GET /api/candles: the newest limit candles, ascending.
func (h *Handler) Candles(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	symbol, err := h.validator.Symbol(c.Query("symbol"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	tf, err := h.validator.Timeframe(c.Query("timeframe"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	limit, err := h.validator.Limit(c.Query("limit"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	rows, err := h.store.LatestCandles(ctx, symbol, tf, limit)
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, nonNil(rows))
}

// CandleRange handles GET /api/candles/range: candles with from <= ts <= to,
// ascending, at most MaxRangeRows.
func (h *Handler) CandleRange(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	symbol, err := h.validator.Symbol(c.Query("symbol"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	tf, err := h.validator.Timeframe(c.Query("timeframe"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	from, err := h.validator.Millis("from", c.Query("from"), 0)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	to, err := h.validator.Millis("to", c.Query("to"), h.now().UnixMilli())
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	rows, err := h.store.CandleRange(ctx, symbol, tf, from, to, MaxRangeRows)
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, nonNil(rows))
}

// LatestQuote handles GET /api/quote/latest. No quote yet is {}.
func (h *Handler) LatestQuote(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	symbol, err := h.validator.Symbol(c.Query("symbol"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	q, ok, err := h.store.LatestQuote(ctx, symbol)
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, q)
}

// RunRollups handles POST /api/rollups/run.
func (h *Handler) RunRollups(c *gin.Context) {
	res, err := h.rollups.RunAll(c.Request.Context())
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "rollup failed")
		return
	}

	buckets := make(map[string]int, len(res.Buckets))
	for tf, n := range res.Buckets {
		buckets[tf.String()] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"buckets": buckets,
		"took_ms": res.Duration.Milliseconds(),
	})
}

func nonNil(rows []model.Candle) []model.Candle {
	if rows == nil {
		return []model.Candle{}
	}
	return rows
}

// handleError logs err with the request id and sends {"error": userMessage}.
func (h *Handler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	attrs := []any{
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
		slog.Int("status_code", statusCode),
	}
	attrs = append(attrs, logger.LogWithTrace(c.Request.Context())...)

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("api error", attrs...)
	} else {
		h.logger.Debug("api rejected request", attrs...)
	}

	c.JSON(statusCode, gin.H{"error": userMessage})
}

func (h *Handler) handleValidationError(c *gin.Context, err error) {
	msg := err.Error()
	if errors.Is(err, ErrUnknownSymbol) {
		msg = ErrUnknownSymbol.Error()
	}
	h.handleError(c, err, http.StatusBadRequest, msg)
}
