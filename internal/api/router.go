package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SetupRoutes builds the gin engine with the middleware stack and all routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(h.logger))
	router.Use(h.metricsMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/healthz", h.Healthz)

	api := router.Group("/api")
	api.GET("/symbols", h.Symbols)
	api.GET("/candles", h.Candles)
	api.GET("/candles/range", h.CandleRange)
	api.GET("/quote/latest", h.LatestQuote)
	if h.rollups != nil {
		api.POST("/rollups/run", h.RunRollups)
	}

	return router
}

// Server serves the query API.
type Server struct {
	srv *http.Server
}

// NewServer creates a server on addr for h's routes.
func NewServer(addr string, h *Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           h.SetupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// ListenAndServe blocks until the server stops. A graceful Stop is not an error.
func (s *Server) ListenAndServe() error {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
