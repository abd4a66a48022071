// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/subtle"
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
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/autovault/autovault/internal/bank"
	"github.com/autovault/autovault/internal/config"
	"github.com/autovault/autovault/internal/dispute"
	"github.com/autovault/autovault/internal/health"
	"github.com/autovault/autovault/internal/invoice"
	"github.com/autovault/autovault/internal/ledger"
	"github.com/autovault/autovault/internal/logging"
	"github.com/autovault/autovault/internal/metrics"
	"github.com/autovault/autovault/internal/notify"
	"github.com/autovault/autovault/internal/payment"
	"github.com/autovault/autovault/internal/ratelimit"
	"github.com/autovault/autovault/internal/realtime"
	"github.com/autovault/autovault/internal/scheduler"
	"github.com/autovault/autovault/internal/security"
	"github.com/autovault/autovault/internal/traces"
	"github.com/autovault/autovault/internal/transaction"
	"github.com/autovault/autovault/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	transactions *transaction.Service
	payments     *payment.Service
	disputes     *dispute.Service
	invoices     *invoice.Service
	bankAccounts *bank.Service
	emitter      *notify.Emitter
	feedHub      *realtime.Hub
	sweeper      *scheduler.Sweeper
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set logger)
	for _, opt := range opts {
		opt(s)
	}

	var (
		txnStore  transaction.Store
		payStore  payment.Store
		dispStore dispute.Store
		invStore  invoice.Store
		bankStore bank.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		txnStore = transaction.NewPostgresStore(db)
		payStore = payment.NewPostgresStore(db)
		dispStore = dispute.NewPostgresStore(db)
		invStore = invoice.NewPostgresStore(db)
		bankStore = bank.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		txnStore = transaction.NewMemoryStore()
		payStore = payment.NewMemoryStore()
		dispStore = dispute.NewMemoryStore()
		invStore = invoice.NewMemoryStore()
		bankStore = bank.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Live feed hub doubles as an event sink so every lifecycle event
	// reaches connected back-office clients.
	s.feedHub = realtime.NewHub(s.logger)
	sinks := []notify.Sink{
		&notify.LogSink{Logger: s.logger},
		s.feedHub,
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret))
		s.logger.Info("webhook sink enabled", "url", cfg.WebhookURL)
	}
	s.emitter = notify.NewEmitter(s.logger, sinks...)

	rates := ledger.Rates{
		BuyerFeeBps:         cfg.BuyerFeeBps,
		SellerFeeBps:        cfg.SellerFeeBps,
		DealerCommissionBps: cfg.DealerCommissionBps,
		VATBps:              cfg.VATBps,
	}
	deadlines := transaction.Deadlines{
		Payment:    cfg.PaymentDeadline,
		Inspection: cfg.InspectionPeriod,
	}

	s.bankAccounts = bank.NewService(bankStore, s.logger)
	s.invoices = invoice.NewService(invStore, s.logger)

	s.transactions = transaction.NewService(txnStore, rates, deadlines, s.logger).
		WithInvoices(s.invoices).
		WithEvents(s.emitter)
	s.payments = payment.NewService(payStore, s.transactions, s.logger).
		WithAccounts(s.bankAccounts)
	s.transactions.WithPayments(s.payments)
	s.disputes = dispute.NewService(dispStore, s.transactions, s.logger).
		WithEvents(s.emitter)

	s.sweeper = scheduler.NewSweeper(s.transactions, cfg.SweepInterval, s.logger)

	s.registerHealthChecks()

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

func (s *Server) registerHealthChecks() {
	s.checks.Register("storage", func(ctx context.Context) (bool, string) {
		if s.db == nil {
			return true, "in-memory"
		}
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			return false, err.Error()
		}
		return true, "postgres"
	})

	s.checks.Register("sweeper", func(context.Context) (bool, string) {
		// Not running is only a problem after Run has started it.
		if s.ready.Load() && !s.sweeper.Running() {
			return false, "stopped"
		}
		return true, ""
	})
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// actorMiddleware extracts the caller identity from trusted gateway headers.
// The API sits behind the marketplace gateway, which authenticates users and
// forwards their identity; this service only enforces role guards.
func (s *Server) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("actorID", c.GetHeader("X-Actor-Id"))
		role := c.GetHeader("X-Actor-Role")
		switch transaction.Role(role) {
		case transaction.RoleBuyer, transaction.RoleSeller, transaction.RoleDealer:
			c.Set("actorRole", role)
		default:
			// Admin and system roles are never taken from caller headers.
			c.Set("actorRole", "")
		}
		c.Next()
	}
}

// adminAuthMiddleware guards back-office routes with the shared admin secret.
// In development with no secret configured, admin routes are open.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret != "" {
			secret := c.GetHeader("X-Admin-Secret")
			if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Invalid admin credentials",
				})
				return
			}
		} else if s.cfg.IsProduction() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin access not configured",
			})
			return
		}

		c.Set("actorID", c.GetHeader("X-Actor-Id"))
		c.Set("actorRole", string(transaction.RoleAdmin))
		c.Next()
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

	// API info
	s.router.GET("/api", s.infoHandler)

	transactionHandler := transaction.NewHandler(s.transactions)
	paymentHandler := payment.NewHandler(s.payments)
	disputeHandler := dispute.NewHandler(s.disputes)
	invoiceHandler := invoice.NewHandler(s.invoices, s.transactions)
	bankHandler := bank.NewHandler(s.bankAccounts)

	// V1 API group. Buyers, sellers, and dealers arrive here through the
	// gateway with identity headers set.
	v1 := s.router.Group("/v1")
	v1.Use(s.actorMiddleware())

	transactionHandler.RegisterRoutes(v1)
	paymentHandler.RegisterRoutes(v1)
	disputeHandler.RegisterRoutes(v1)
	invoiceHandler.RegisterRoutes(v1)
	bankHandler.RegisterRoutes(v1)

	// Back-office routes
	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())

	paymentHandler.RegisterAdminRoutes(admin)
	disputeHandler.RegisterAdminRoutes(admin)
	invoiceHandler.RegisterAdminRoutes(admin)

	// Live event feed for the back office
	admin.GET("/feed", func(c *gin.Context) {
		s.feedHub.HandleWebSocket(c.Writer, c.Request)
	})
	admin.GET("/feed/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.feedHub.Stats())
	})
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
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "AutoVault",
		"description": "Escrow transaction engine for vehicle sales",
		"version":     "0.1.0",
		"currency":    "EUR",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no OTLP endpoint configured)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start live feed hub
	go s.feedHub.Run(runCtx)

	// Start deadline sweeper
	go s.sweeper.Start(runCtx)

	// DB pool stats for /metrics
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	return s.shutdown(shutdownTraces)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	return s.shutdown(nil)
}

func (s *Server) shutdown(shutdownTraces func(context.Context) error) error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop deadline sweeper
	s.sweeper.Stop()
	s.logger.Info("deadline sweeper stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Drain in-flight event deliveries
	s.emitter.Wait()

	if shutdownTraces != nil {
		if err := shutdownTraces(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
