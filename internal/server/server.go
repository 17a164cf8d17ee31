package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"skinflow/config"
	"skinflow/internal/pipeline"
	"skinflow/logger"
	"skinflow/models"
)

// Trigger starts runs and remembers their results.
type Trigger interface {
	Fire(ctx context.Context) (models.RunResult, error)
	Last() (models.RunResult, bool)
	History() []models.RunResult
}

// Server exposes the HTTP trigger for the ingestion pipeline.
type Server struct {
	cfg        config.ServerConfig
	log        *logger.Log
	trigger    Trigger
	logStore   *logStore
	metrics    http.Handler
	httpServer *http.Server
}

// NewServer constructs the trigger server when it is enabled. When the
// server is disabled the returned server will be nil.
func NewServer(cfg config.ServerConfig, trigger Trigger, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if trigger == nil {
		return nil, errors.New("server requires a trigger")
	}

	cfg.Address = normalizeAddress(cfg.Address)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:      cfg,
		log:      log,
		trigger:  trigger,
		logStore: logStore,
	}, nil
}

// WithMetrics serves h on /metrics.
func (s *Server) WithMetrics(h http.Handler) *Server {
	if s != nil {
		s.metrics = h
	}
	return s
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("server").WithFields(logger.Fields{"address": s.cfg.Address}).Info("starting trigger server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) cleanup() {
	if s.logStore != nil {
		s.logStore.close()
	}
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": appName})
	})

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := router.Group("/api/v1")
	api.GET("/prices/refresh", s.refresh)
	api.POST("/prices/refresh", s.refresh)

	api.GET("/prices/last", func(c *gin.Context) {
		result, ok := s.trigger.Last()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no run completed yet"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.GET("/prices/runs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"runs": s.trigger.History()})
	})

	api.GET("/logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot()
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	return router, nil
}

// refresh runs the pipeline synchronously. A dropped client connection does
// not cancel the run.
func (s *Server) refresh(c *gin.Context) {
	log := s.log.WithComponent("server").WithFields(logger.Fields{
		"method": c.Request.Method,
		"remote": c.ClientIP(),
	})

	result, err := s.trigger.Fire(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, pipeline.ErrRunInProgress) {
		log.Warn("refresh rejected, run in progress")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.WithError(err).Error("refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if result.Summary.SuccessfulMarketplaces == 0 {
		status = http.StatusInternalServerError
	}
	log.WithFields(logger.Fields{"run_id": result.RunID, "status": status}).Info("refresh completed")
	c.JSON(status, result)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
