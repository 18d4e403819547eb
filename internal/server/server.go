// Package server exposes the ledger core over HTTP for the role portals and
// the consumer provenance page.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/herbtrace/herbtrace/internal/config"
	"github.com/herbtrace/herbtrace/internal/ledger"
)

// LedgerService is the slice of the ledger core the HTTP layer consumes.
type LedgerService interface {
	AppendEvent(ctx context.Context, req ledger.AppendRequest) (*ledger.Event, error)
	CreateProduct(ctx context.Context, req ledger.CreateProductRequest) (*ledger.Product, error)
	GetProvenance(ctx context.Context, identifier string) (*ledger.ProvenanceView, error)
	BatchChain(ctx context.Context, batchID string) ([]ledger.Event, []string, error)
	Herbs(ctx context.Context) ([]ledger.Herb, error)
	Stats(ctx context.Context) (*ledger.Stats, error)
}

// Server is the HTTP front of the traceability service.
type Server struct {
	svc       LedgerService
	log       *zap.Logger
	engine    *gin.Engine
	http      *http.Server
	startTime time.Time
}

// NewServer builds the gin engine and wires the routes.
func NewServer(cfg config.ServerConfig, svc LedgerService, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		svc:       svc,
		log:       log,
		engine:    engine,
		startTime: time.Now(),
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	engine.Use(s.requestLogger(), gin.Recovery())

	// The original portals are browser apps served from another origin.
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsCfg))

	engine.GET("/health", s.handleHealth)

	v1 := engine.Group("/api/v1")
	{
		events := v1.Group("/events")
		{
			events.POST("/harvest", s.handleHarvestEvent)
			events.POST("/collection", s.handleCollectionEvent)
			events.POST("/processing", s.handleProcessingEvent)
			events.POST("/quality-test", s.handleQualityTestEvent)
		}
		v1.POST("/products", s.handleCreateProduct)
		v1.GET("/provenance/:identifier", s.handleProvenance)
		v1.GET("/batches/:batchID/events", s.handleBatchChain)
		v1.GET("/herbs", s.handleHerbs)
		v1.GET("/analytics/summary", s.handleAnalytics)
	}

	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.log.Info("starting HTTP server", zap.String("addr", s.http.Addr))
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

// Handler exposes the engine for httptest-based tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}
