// Package server wires storage, services, timers, and the HTTP API together.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/baratto/baratto/internal/config"
	"github.com/baratto/baratto/internal/exchange"
	"github.com/baratto/baratto/internal/health"
	"github.com/baratto/baratto/internal/listing"
	"github.com/baratto/baratto/internal/logging"
	"github.com/baratto/baratto/internal/messaging"
	"github.com/baratto/baratto/internal/metrics"
	"github.com/baratto/baratto/internal/notify"
	"github.com/baratto/baratto/internal/proposal"
	"github.com/baratto/baratto/internal/ratelimit"
	"github.com/baratto/baratto/internal/realtime"
	"github.com/baratto/baratto/internal/reconciliation"
	"github.com/baratto/baratto/internal/security"
	"github.com/baratto/baratto/internal/traces"
	"github.com/baratto/baratto/internal/validation"
	"github.com/baratto/baratto/internal/wallet"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	wallets        *wallet.Service
	listings       *listing.Service
	proposals      *proposal.Service
	exchanges      *exchange.Service
	messages       *messaging.Service
	proposalTimer  *proposal.Timer
	exchangeTimer  *exchange.Timer
	reconcileTimer *reconciliation.Timer
	notifier       *notify.Notifier
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	checks         *health.Registry
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	stopTraces     func(context.Context) error

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
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Webhook targets are server-side requests; refuse internal addresses
	if cfg.ReputationURL != "" {
		if err := security.ValidateEndpointURL(cfg.ReputationURL); err != nil {
			return nil, fmt.Errorf("invalid reputation webhook URL: %w", err)
		}
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		walletStore   wallet.Store
		listingStore  listing.Store
		proposalStore proposal.Store
		exchangeStore exchange.Store
		messageStore  messaging.Store

		balanceSummer reconciliation.BalanceSummer
		stuckCounter  reconciliation.StuckCounter
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

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		walletPG := wallet.NewPostgresStore(db)
		exchangePG := exchange.NewPostgresStore(db)
		walletStore = walletPG
		listingStore = listing.NewPostgresStore(db)
		proposalStore = proposal.NewPostgresStore(db)
		exchangeStore = exchangePG
		messageStore = messaging.NewPostgresStore(db)
		balanceSummer = walletPG
		stuckCounter = exchangePG

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})

		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		propMem := proposal.NewMemoryStore()
		walletMem := wallet.NewMemoryStore()
		walletStore = walletMem
		listingStore = listing.NewMemoryStore()
		proposalStore = propMem
		// The memory exchange store needs the proposal store to flip
		// proposals to accepted in the same critical section.
		exchangeMem := exchange.NewMemoryStore(propMem)
		exchangeStore = exchangeMem
		messageStore = messaging.NewMemoryStore()
		balanceSummer = walletMem
		stuckCounter = exchangeMem

		s.checks.Register("storage", func(ctx context.Context) health.Status {
			return health.Status{Name: "storage", Healthy: true, Detail: "in-memory"}
		})

		s.logger.Warn("using in-memory storage, data will not persist")
	}

	// Services. The exchange coordinator opens exchanges for accepted
	// proposals and gates proposal conversations.
	s.wallets = wallet.New(walletStore)
	s.listings = listing.NewService(listingStore)
	s.exchanges = exchange.NewService(exchangeStore, s.wallets, proposalStore).
		WithTTL(cfg.ExchangeTTL)
	if n := notify.New(cfg.ReputationURL, cfg.ReputationSecret, s.logger); n != nil {
		s.notifier = n
		s.exchanges = s.exchanges.WithNotifier(n)
		s.logger.Info("reputation notifications enabled", "url", cfg.ReputationURL)
	}
	s.proposals = proposal.NewService(proposalStore, listingStore, s.exchanges)
	s.messages = messaging.NewService(messageStore, s.exchanges)

	// Background sweepers for stale proposals and overdue exchanges
	s.proposalTimer = proposal.NewTimer(proposalStore, cfg.ProposalTTL, cfg.SweepInterval, s.logger)
	s.exchangeTimer = exchange.NewTimer(s.exchanges, exchangeStore, cfg.SweepInterval, s.logger)

	// Periodic audit of the ledger invariant and sweeper health
	s.reconcileTimer = reconciliation.NewTimer(
		reconciliation.NewService(balanceSummer, stuckCounter), 0, s.logger)

	// Real-time hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Tracing (optional)
	if cfg.OTLPEndpoint != "" {
		stop, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		s.stopTraces = stop
	}

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides credentials in a database URL for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable>"
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

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting, keyed by actor when the header is present
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
	})
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
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// actorMiddleware identifies the caller from the X-Actor-ID header. Write
// operations reject requests without it inside the handlers.
func (s *Server) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader("X-Actor-ID")
		if actor != "" {
			if !validation.IsValidID(actor) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "invalid X-Actor-ID header",
				})
				return
			}
			c.Set("actorID", actor)
			ctx := logging.WithActorID(c.Request.Context(), actor)
			c.Request = c.Request.WithContext(ctx)
		}
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.IDParamMiddleware())
	v1.Use(s.actorMiddleware())

	wallet.NewHandler(s.wallets).RegisterRoutes(v1)
	listing.NewHandler(s.listings).RegisterRoutes(v1)
	proposal.NewHandler(s.proposals).
		WithEvents(&proposalEventEmitter{s.realtimeHub}).
		RegisterRoutes(v1)
	exchange.NewHandler(s.exchanges).
		WithEvents(&exchangeEventEmitter{s.realtimeHub}).
		RegisterRoutes(v1)
	messaging.NewHandler(s.messages).
		WithEvents(&messageEventEmitter{s.realtimeHub}).
		RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Health & info handlers
// -----------------------------------------------------------------------------

// HealthResponse is the body of the /health endpoint
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Baratto",
		"description": "Credit escrow for barter trades",
		"version":     "0.1.0",
		"currency":    "credits",
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

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start expiration sweepers
	go s.proposalTimer.Start(runCtx)
	go s.exchangeTimer.Start(runCtx)
	go s.reconcileTimer.Start(runCtx)

	// Export connection pool stats
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

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.proposalTimer.Stop()
	s.exchangeTimer.Stop()
	s.reconcileTimer.Stop()
	s.logger.Info("expiration sweepers stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Real-time event adapters
// -----------------------------------------------------------------------------

// proposalEventEmitter adapts realtime.Hub to proposal.EventEmitter
type proposalEventEmitter struct {
	hub *realtime.Hub
}

func proposalEventData(p *proposal.Proposal) map[string]any {
	return map[string]any{
		"proposalId":   p.ID,
		"listingId":    p.ListingID,
		"buyerId":      p.BuyerID,
		"sellerId":     p.SellerID,
		"amount":       p.Amount,
		"status":       string(p.Status),
		"counterRound": p.CounterRound,
	}
}

func (e *proposalEventEmitter) ProposalCreated(p *proposal.Proposal) {
	e.hub.Broadcast(realtime.EventProposalCreated, proposalEventData(p))
}

func (e *proposalEventEmitter) ProposalCountered(p *proposal.Proposal) {
	e.hub.Broadcast(realtime.EventProposalCountered, proposalEventData(p))
}

func (e *proposalEventEmitter) ProposalAccepted(p *proposal.Proposal, exchangeID string) {
	data := proposalEventData(p)
	e.hub.Broadcast(realtime.EventProposalResolved, data)

	opened := proposalEventData(p)
	opened["exchangeId"] = exchangeID
	e.hub.Broadcast(realtime.EventExchangeOpened, opened)
}

func (e *proposalEventEmitter) ProposalResolved(p *proposal.Proposal) {
	e.hub.Broadcast(realtime.EventProposalResolved, proposalEventData(p))
}

// exchangeEventEmitter adapts realtime.Hub to exchange.EventEmitter
type exchangeEventEmitter struct {
	hub *realtime.Hub
}

func (e *exchangeEventEmitter) ExchangeResolved(x *exchange.Exchange) {
	e.hub.Broadcast(realtime.EventExchangeResolved, map[string]any{
		"exchangeId": x.ID,
		"proposalId": x.ProposalID,
		"buyerId":    x.BuyerID,
		"sellerId":   x.SellerID,
		"amount":     x.Amount,
		"state":      string(x.State),
	})
}

// messageEventEmitter adapts realtime.Hub to messaging.EventEmitter
type messageEventEmitter struct {
	hub *realtime.Hub
}

func (e *messageEventEmitter) MessagePosted(m *messaging.Message) {
	e.hub.Broadcast(realtime.EventMessagePosted, map[string]any{
		"messageId":  m.ID,
		"proposalId": m.ProposalID,
		"senderId":   m.SenderID,
	})
}
