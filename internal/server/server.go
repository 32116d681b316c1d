// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/chainwatch/internal/address"
	"github.com/mbd888/chainwatch/internal/balance"
	"github.com/mbd888/chainwatch/internal/bridge"
	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/config"
	"github.com/mbd888/chainwatch/internal/events"
	"github.com/mbd888/chainwatch/internal/health"
	"github.com/mbd888/chainwatch/internal/idgen"
	"github.com/mbd888/chainwatch/internal/ingest"
	"github.com/mbd888/chainwatch/internal/logging"
	"github.com/mbd888/chainwatch/internal/metrics"
	"github.com/mbd888/chainwatch/internal/prices"
	"github.com/mbd888/chainwatch/internal/provider"
	"github.com/mbd888/chainwatch/internal/ratelimit"
	"github.com/mbd888/chainwatch/internal/realtime"
	"github.com/mbd888/chainwatch/internal/risk"
	"github.com/mbd888/chainwatch/internal/security"
	"github.com/mbd888/chainwatch/internal/traces"
	"github.com/mbd888/chainwatch/internal/tracker"
	"github.com/mbd888/chainwatch/internal/transactions"
	"github.com/mbd888/chainwatch/internal/validation"
	"github.com/mbd888/chainwatch/internal/wallet"
	"github.com/mbd888/chainwatch/migrations"
)

// Version is reported by /health and the tracer resource.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	registry    *chains.Registry
	pool        *provider.Pool
	tracker     *tracker.Tracker
	worker      *tracker.Worker
	realtimeHub *realtime.Hub
	kafka       *events.KafkaPublisher
	redis       *redis.Client
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	dialer         provider.Dialer
	priceSource    prices.Source
	tracesShutdown func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDialer replaces the network dialer (for testing)
func WithDialer(d provider.Dialer) Option {
	return func(s *Server) {
		s.dialer = d
	}
}

// WithPriceSource replaces the price API client (for testing)
func WithPriceSource(p prices.Source) Option {
	return func(s *Server) {
		s.priceSource = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(cfg.HealthTimeout + time.Second),
	}

	// Apply options first (may set dialer/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.tracesShutdown = shutdown

	s.registry, err = chains.NewRegistry(cfg.Chains())
	if err != nil {
		return nil, fmt.Errorf("invalid chain configuration: %w", err)
	}
	if s.dialer == nil {
		s.dialer = provider.NetDialer{History: provider.NewExplorer(cfg.ExplorerAPIURL, cfg.ExplorerAPIKey)}
	}
	poolOpts := []provider.Option{
		provider.WithHealthTimeout(cfg.HealthTimeout),
		provider.WithLogger(s.logger),
	}
	if cfg.RPCRatePerSec > 0 {
		poolOpts = append(poolOpts, provider.WithRateLimit(cfg.RPCRatePerSec, int(cfg.RPCRatePerSec)+1))
	}
	s.pool = provider.NewPool(s.registry, s.dialer, poolOpts...)

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		wallets     wallet.Store
		txs         transactions.Store
		transfers   bridge.Store
		snapshots   balance.Store
		assessments risk.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		s.db = db
		wallets = wallet.NewPostgresStore(db)
		txs = transactions.NewPostgresStore(db)
		transfers = bridge.NewPostgresStore(db)
		snapshots = balance.NewPostgresStore(db)
		assessments = risk.NewPostgresStore(db)
		s.health.Register("database", db.PingContext)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		wallets = wallet.NewMemoryStore()
		txs = transactions.NewMemoryStore()
		transfers = bridge.NewMemoryStore()
		snapshots = balance.NewMemoryStore()
		assessments = risk.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	priceSource, err := s.buildPrices(ctx)
	if err != nil {
		return nil, err
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	sinks := []events.Publisher{events.NewHubPublisher(s.realtimeHub)}
	if len(cfg.KafkaBrokers) > 0 {
		s.kafka = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaRiskTopic)
		sinks = append(sinks, s.kafka)
		s.logger.Info("kafka risk events enabled", "topic", cfg.KafkaRiskTopic, "brokers", len(cfg.KafkaBrokers))
	}

	riskCfg := risk.DefaultConfig()
	detector := bridge.DefaultDetector()
	engine := risk.NewEngine(riskCfg, s.registry, detector)

	walletSvc := wallet.NewService(wallets, address.NewValidator(s.registry),
		wallet.WithCascade(txs, transfers, assessments, snapshots),
		wallet.WithLogger(s.logger),
	)
	s.tracker = tracker.New(tracker.Deps{
		Wallets: walletSvc,
		Ingestor: ingest.New(s.pool, txs, transfers, detector, engine,
			ingest.WithTxLimit(cfg.SyncTxLimit),
			ingest.WithPrices(priceSource),
			ingest.WithLogger(s.logger),
		),
		Reconciler:  bridge.NewReconciler(transfers, txs, detector, riskCfg.Transfer, bridge.WithReconcilerLogger(s.logger)),
		Balances:    balance.NewAggregator(s.pool, priceSource, snapshots, s.logger),
		Snapshots:   snapshots,
		Assessor:    risk.NewAssessor(engine, txs, transfers, assessments, 0, s.logger),
		Assessments: assessments,
		Pool:        s.pool,
		Emitter:     events.NewEmitter(s.logger, sinks...),
	}, tracker.WithSyncTimeout(cfg.SyncTimeout), tracker.WithLogger(s.logger))

	if cfg.ResyncInterval > 0 {
		s.worker = tracker.NewWorker(s.tracker, cfg.ResyncInterval, s.logger)
		s.logger.Info("scheduled re-sync enabled", "interval", cfg.ResyncInterval)
	}

	for _, c := range s.registry.All() {
		chain := c.ID
		s.health.Register("chain:"+string(chain), func(ctx context.Context) error {
			if h := s.pool.TestHealth(ctx, chain); !h.Healthy {
				return errors.New(h.Error)
			}
			return nil
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// buildPrices returns the price source: the HTTP API, behind a Redis cache
// when REDIS_URL is set.
func (s *Server) buildPrices(ctx context.Context) (prices.Source, error) {
	src := s.priceSource
	if src == nil {
		src = prices.NewHTTPSource(s.cfg.PriceAPIURL, nil, s.cfg.PriceCacheTTL)
	}
	if s.cfg.RedisURL == "" {
		return src, nil
	}
	rdb, err := prices.NewRedisClient(ctx, s.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.redis = rdb
	s.health.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	s.logger.Info("price cache enabled", "ttl", s.cfg.PriceCacheTTL)
	return prices.NewRedisCache(rdb, src, s.cfg.PriceCacheTTL, s.logger), nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = float64(s.cfg.RateLimitRPS)
		rl.BurstSize = 2 * s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Risk event stream
	s.router.GET("/ws", gin.WrapF(s.realtimeHub.HandleWebSocket))

	v1 := s.router.Group("/v1")
	tracker.NewHandler(s.tracker).RegisterRoutes(v1)
	v1.GET("/stream/stats", s.streamStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status, httpStatus := "healthy", http.StatusOK
	if !healthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) streamStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stream": s.realtimeHub.Stats()})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.SyncTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"chains", len(s.registry.IDs()),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.worker != nil {
		go s.worker.Start(runCtx)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, worker, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.Close(ctx)
	s.logger.Info("server stopped")
	return nil
}

// Close releases every client the server holds. Shutdown calls it; tests
// that never Run call it directly.
func (s *Server) Close(ctx context.Context) {
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.pool.Close()

	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Error("kafka writer close error", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
	if err := s.tracesShutdown(ctx); err != nil {
		s.logger.Error("tracer shutdown error", "error", err)
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Tracker returns the tracker facade, shared with the MCP server.
func (s *Server) Tracker() *tracker.Tracker {
	return s.tracker
}
