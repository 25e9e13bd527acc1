// Package server exposes runtime metrics over HTTP while a guest runs.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playsys/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playsys/internal/logging"
	"github.com/GriffinCanCode/playsys/internal/vfs"
)

// ShutdownTimeout bounds how long Run waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// Options configures the server.
type Options struct {
	Addr    string
	Metrics *monitoring.Metrics
	// Registry, when set, is listed under /vfs.
	Registry    *vfs.Registry
	Logger      *logging.Logger
	Development bool
	CORS        CORSConfig
	RateLimit   RateLimitConfig
}

// Server wraps the HTTP server and the collectors it reports on
type Server struct {
	router   *gin.Engine
	http     *http.Server
	metrics  *monitoring.Metrics
	registry *vfs.Registry
	logger   *logging.Logger
}

// New creates a server. Nothing listens until Run is called.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(opts.Metrics))
	if len(opts.CORS.AllowOrigins) > 0 {
		router.Use(CORS(opts.CORS))
	}
	if opts.RateLimit.RequestsPerSecond > 0 {
		router.Use(RateLimit(opts.RateLimit))
	}

	s := &Server{
		router:   router,
		metrics:  opts.Metrics,
		registry: opts.Registry,
		logger:   opts.Logger.Named("http"),
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Metrics.Registry(), promhttp.HandlerOpts{})))
	router.GET("/healthz", s.health)
	router.GET("/vfs", s.listVFS)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting metrics server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status        string              `json:"status"`
	UptimeSeconds float64             `json:"uptime_seconds"`
	Totals        monitoring.Snapshot `json:"totals"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: s.metrics.Uptime().Seconds(),
		Totals:        s.metrics.GetSnapshot(),
	})
}

func (s *Server) listVFS(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no synthetic namespace"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paths": s.registry.Paths()})
}
