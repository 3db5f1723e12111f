package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger verifica a saúde do banco
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter monta o engine com as rotas da API, /health e /metrics
func NewRouter(h *Handler, db Pinger, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.POST("/products/:id/scrape", h.ScrapeProduct)
	v1.POST("/scrape/batch", h.ScrapeBatch)
	v1.POST("/scrape/all", h.ScrapeAll)
	v1.GET("/jobs/:id", h.GetJob)
	v1.GET("/batches/:id", h.GetBatch)
	v1.GET("/sites", h.ListSites)
	v1.GET("/reports/daily", h.DailyReport)

	return router
}

// LoggerMiddleware registra cada requisição em uma única linha
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			logger.Error("Requisição HTTP com erros", append(fields, zap.Strings("errors", c.Errors.Errors()))...)
			return
		}
		if strings.HasPrefix(path, "/health") || path == "/metrics" {
			logger.Debug("Requisição HTTP", fields...)
			return
		}
		logger.Info("Requisição HTTP", fields...)
	}
}

// Server é o servidor HTTP da API
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer cria o servidor em addr
func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start escuta em background. Erros de escuta são registrados no log.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API HTTP escutando", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Erro no servidor HTTP", zap.Error(err))
		}
	}()
}

// Shutdown encerra o servidor esperando as requisições em andamento
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
