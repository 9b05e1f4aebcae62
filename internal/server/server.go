package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aman-churiwal/delivery-gateway/internal/auth"
	"github.com/aman-churiwal/delivery-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/delivery-gateway/internal/config"
	"github.com/aman-churiwal/delivery-gateway/internal/handler"
	"github.com/aman-churiwal/delivery-gateway/internal/healthcheck"
	"github.com/aman-churiwal/delivery-gateway/internal/metrics"
	"github.com/aman-churiwal/delivery-gateway/internal/middleware"
	"github.com/aman-churiwal/delivery-gateway/internal/pipeline"
	"github.com/aman-churiwal/delivery-gateway/internal/proxy"
	"github.com/aman-churiwal/delivery-gateway/internal/ratelimit"
	"github.com/aman-churiwal/delivery-gateway/internal/repository"
	"github.com/aman-churiwal/delivery-gateway/internal/routing"
	"github.com/aman-churiwal/delivery-gateway/internal/service"
	"github.com/aman-churiwal/delivery-gateway/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     *zap.Logger
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	table      *routing.Table
	proxies    map[string]*proxy.Proxy
	breakers   *circuitbreaker.Registry
	metrics    *metrics.Metrics
	pipeline   *pipeline.Pipeline
	accessLog  *middleware.RequestLogWriter
	httpServer *http.Server
	startTime  time.Time
}

// New assembles the gateway. postgres is optional; without it request logs
// are not persisted and the analytics endpoints are not mounted.
func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres, logger *zap.Logger) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:    gin.New(),
		config:    cfg,
		logger:    logger,
		redis:     redis,
		postgres:  postgres,
		proxies:   make(map[string]*proxy.Proxy),
		metrics:   metrics.New(),
		startTime: time.Now(),
	}

	table, err := routing.NewTable(cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("invalid route table: %w", err)
	}
	s.table = table

	s.breakers = circuitbreaker.NewRegistry(cfg.CircuitBreaker.Breaker(),
		circuitbreaker.WithStateChangeHook(s.onBreakerStateChange))

	if err := s.initializeProxies(); err != nil {
		return nil, err
	}

	trusted, err := pipeline.ParseTrustedNetworks(cfg.Server.TrustedNetworks)
	if err != nil {
		return nil, err
	}
	// Without trusted proxies ClientIP is the peer address.
	if err := s.router.SetTrustedProxies(cfg.Server.TrustedNetworks); err != nil {
		return nil, fmt.Errorf("invalid trusted networks: %w", err)
	}

	s.pipeline, err = pipeline.New(pipeline.Config{
		Table:       table,
		Upstreams:   s.proxies,
		Validator:   auth.NewValidator(cfg.JWT.Secret),
		PublicPaths: cfg.PublicPaths,
		Limiter: ratelimit.NewFixedWindow(redis, cfg.RateLimit.Requests, cfg.RateLimit.Window,
			ratelimit.WithStoreTimeout(cfg.RateLimit.StoreTimeout)),
		Breakers:        s.breakers,
		TrustedNetworks: trusted,
		Metrics:         s.metrics,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	s.setupMiddleware()
	s.setupRoutes()

	// No write timeout: responses and websockets are streamed.
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	return s, nil
}

func (s *Server) initializeProxies() error {
	var hc *healthcheck.Config
	if s.config.HealthCheck.Enabled {
		hc = &healthcheck.Config{
			Endpoint:    s.config.HealthCheck.Path,
			Interval:    s.config.HealthCheck.Interval,
			Timeout:     s.config.HealthCheck.Timeout,
			MaxFailures: s.config.HealthCheck.MaxFailures,
		}
	}

	for _, name := range s.table.Upstreams() {
		p, err := proxy.New(proxy.Config{
			Name:                  name,
			Targets:               s.config.Upstreams[name],
			LoadBalancerStrategy:  s.config.Services.LoadBalancer,
			ResponseHeaderTimeout: s.config.Services.UpstreamTimeout,
			HealthCheck:           hc,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create proxy for %s: %w", name, err)
		}
		s.proxies[name] = p

		// Breakers exist from the start so they show up closed in metrics
		// and the admin API.
		s.breakers.Get(name)
		s.metrics.BreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))
	}
	return nil
}

func (s *Server) onBreakerStateChange(upstream string, from, to circuitbreaker.State) {
	s.metrics.BreakerChanged(upstream, from, to)

	log := s.logger.Info
	if to == circuitbreaker.StateOpen {
		log = s.logger.Warn
	}
	log("circuit breaker state changed",
		zap.String("upstream", upstream),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Instrument(s.metrics))
	s.router.Use(middleware.CORS(s.config.Server.CORSOrigins))

	if s.postgres != nil {
		s.accessLog = middleware.NewRequestLogWriter(
			repository.NewRequestLogRepository(s.postgres),
			middleware.RequestLogWriterConfig{BufferSize: s.config.Database.AccessLogBuffer},
			s.logger,
			s.metrics.AccessLogDropped,
		)
		s.router.Use(middleware.RequestLogger(s.accessLog))
	}
}

func (s *Server) setupRoutes() {
	deps := map[string]handler.Pinger{}
	if s.redis != nil {
		deps["redis"] = s.redis
	}
	if s.postgres != nil {
		deps["postgres"] = s.postgres
	}
	system := handler.NewSystemHandler(deps, s.proxies, s.breakers, s.table)

	s.router.GET("/health", system.Health)
	s.router.GET("/actuator/health", system.Health)
	s.router.GET("/actuator/prometheus", gin.WrapH(s.metrics.Handler()))

	throttle := middleware.NewClientThrottle(s.config.Admin.RequestsPerSecond, s.config.Admin.Burst)
	admin := s.router.Group("/admin",
		throttle.Middleware(),
		middleware.AdminAuth(s.config.Admin.User, s.config.Admin.PasswordHash),
	)
	{
		admin.GET("/status", s.adminStatus)
		admin.GET("/routes", system.Routes(s.pipeline.Chain))
		admin.GET("/circuit-breakers", system.CircuitBreakers)
		admin.POST("/circuit-breakers/:name/reset", system.ResetCircuitBreaker)

		if s.postgres != nil {
			analytics := handler.NewAnalyticsHandler(
				service.NewAnalyticsService(repository.NewRequestLogRepository(s.postgres)))
			admin.GET("/analytics", analytics.GetSummary)
			admin.GET("/request-logs", analytics.GetLogs)
			admin.DELETE("/request-logs", analytics.Cleanup)
		}
	}

	s.router.NoRoute(s.pipeline.Handle)
}

func (s *Server) adminStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gateway":     "running",
		"environment": s.config.Server.Environment,
		"routes":      len(s.table.Rules()),
		"upstreams":   len(s.proxies),
		"uptime":      time.Since(s.startTime).Seconds(),
		"timestamp":   time.Now().Unix(),
	})
}

// Start begins upstream health checking.
func (s *Server) Start(ctx context.Context) {
	for _, p := range s.proxies {
		p.Start(ctx)
	}
}

// Run listens on the configured port and serves until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", ":"+s.config.Server.Port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln, capped at MAX_CONNECTIONS concurrent connections when
// set. It returns nil after a graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if limit := s.config.Server.MaxConnections; limit > 0 {
		ln = netutil.LimitListener(ln, limit)
	}

	s.logger.Info("starting api gateway",
		zap.String("addr", ln.Addr().String()),
		zap.String("environment", s.config.Server.Environment),
		zap.Int("max_connections", s.config.Server.MaxConnections),
	)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops health checks and flushes the
// request log.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	errs := []error{s.httpServer.Shutdown(ctx)}
	for _, p := range s.proxies {
		p.Stop()
	}
	if s.accessLog != nil {
		errs = append(errs, s.accessLog.Close(ctx))
	}
	return errors.Join(errs...)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Breakers() *circuitbreaker.Registry {
	return s.breakers
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}
