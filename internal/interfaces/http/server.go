// Package http is the HTTP adapter: it translates requests into pipeline and
// repository calls and serves the live alert stream.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/repository"
	"github.com/procuresight/procuresight/internal/stream"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DefaultOrgID string
}

// DefaultServerConfig returns the defaults used when configuration is absent.
// WriteTimeout is zero because the event stream holds its response open.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		DefaultOrgID: "default",
	}
}

// Server is the HTTP adapter.
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     *zap.Logger
}

// NewServer builds the router over the given services.
func NewServer(
	config ServerConfig,
	pipeline IngestPipeline,
	extractor PDFExtractor,
	blobs BlobStore,
	rawDocs *repository.RawDocRepository,
	invoices *repository.InvoiceRepository,
	vendors *repository.VendorRepository,
	alerts *repository.AlertRepository,
	registry *stream.Registry,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config: config,
		router: router,
		logger: logger,
	}

	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	h := NewHandlers(config.DefaultOrgID, pipeline, extractor, blobs,
		rawDocs, invoices, vendors, alerts, registry, logger)

	router.GET("/health", h.Health)
	router.GET("/events", h.Events)

	api := router.Group("/api")
	{
		api.POST("/ingest", h.Ingest)
		api.GET("/invoices", h.ListInvoices)
		api.GET("/invoices/:id", h.GetInvoice)
		api.PATCH("/invoices/:id", h.PatchInvoice)
		api.GET("/vendors", h.ListVendors)
		api.GET("/vendors/:id", h.GetVendor)
		api.GET("/alerts", h.ListAlerts)
		api.POST("/alerts/:id/status", h.UpdateAlertStatus)
		api.POST("/score/invoice/:id", h.RescoreInvoice)
	}

	return s
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// Start runs the server until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
