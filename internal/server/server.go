// Package server sets up the HTTP server with all routes
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

	"github.com/mbd888/talentdesk/internal/access"
	"github.com/mbd888/talentdesk/internal/auth"
	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/completeness"
	"github.com/mbd888/talentdesk/internal/config"
	"github.com/mbd888/talentdesk/internal/health"
	"github.com/mbd888/talentdesk/internal/initializer"
	"github.com/mbd888/talentdesk/internal/logging"
	"github.com/mbd888/talentdesk/internal/metrics"
	"github.com/mbd888/talentdesk/internal/querycache"
	"github.com/mbd888/talentdesk/internal/ratelimit"
	"github.com/mbd888/talentdesk/internal/realtime"
	"github.com/mbd888/talentdesk/internal/retry"
	"github.com/mbd888/talentdesk/internal/security"
	"github.com/mbd888/talentdesk/internal/subscription"
	"github.com/mbd888/talentdesk/internal/tenant"
	"github.com/mbd888/talentdesk/internal/traces"
	"github.com/mbd888/talentdesk/internal/validation"
)

const (
	cacheSweepInterval = time.Minute
	dbStatsInterval    = 15 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string
	db      *sql.DB
	logger  *slog.Logger
	router  *gin.Engine
	httpSrv *http.Server

	authMgr   *auth.Manager
	catalog   catalog.Store
	subs      *subscription.Service
	resolver  *access.Resolver
	overrides *access.OverrideService
	tenants   tenant.Store
	directory *tenant.Directory

	cache       *querycache.Cache
	sessions    *querycache.Sessions
	hub         *realtime.Hub
	bootstrap   *initializer.Service
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	subTimer    *subscription.Timer

	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc
	ready         atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the build version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: "dev",
		logger:  logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		authStore   auth.Store
		subStore    subscription.Store
		accessStore access.AssignmentStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// The database may still be starting alongside us.
		ping := retry.Policy{Attempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
		if err := ping.Do(ctx, "database ping", db.PingContext); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.catalog = catalog.NewPostgresStore(db)
		s.tenants = tenant.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		subStore = subscription.NewPostgresStore(db)
		accessStore = access.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.catalog = catalog.NewMemoryStore()
		s.tenants = tenant.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		subStore = subscription.NewMemoryStore()
		accessStore = access.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}
	s.directory = tenant.NewDirectory(s.tenants)

	// Query cache; invalidations also reach connected websocket clients.
	s.cache = querycache.NewCache(cfg.QueryCacheTTL)
	s.sessions = querycache.NewSessions(s.cache)
	s.hub = realtime.NewHub(s.logger)
	inv := querycache.Fanout{s.cache, s.hub}

	s.authMgr = auth.NewManager(authStore).WithEvents(s.sessions)

	s.subs = subscription.NewService(subStore, s.catalog, s.logger).WithInvalidator(inv)
	s.subTimer = subscription.NewTimer(s.subs, cfg.SubscriptionExpiryInterval, s.logger)

	s.resolver = access.NewResolver(subStore, s.catalog, s.logger).WithTimeout(cfg.AccessCheckTimeout)
	if cfg.ResolverConsultOverrides {
		s.resolver.WithOverrides(accessStore)
	}
	s.overrides = access.NewOverrideService(accessStore, s.catalog, s.logger).WithInvalidator(inv)

	s.bootstrap = initializer.New(s.bootstrapSteps(), initializer.WithLogger(s.logger))
	s.health = health.NewRegistry()
	if s.db != nil {
		s.health.Register("database", health.Database("database", s.db))
	}
	s.health.Register("initializer", s.bootstrap.Checker())

	if res := s.bootstrap.Init(ctx); !res.Initialized {
		// Serve anyway; /health reports degraded until a reinit succeeds.
		s.logger.Error("bootstrap failed", "error", res.Err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(inv)

	return s, nil
}

// bootstrapSteps are the startup actions, rerun by POST /v1/admin/reinit.
func (s *Server) bootstrapSteps() []initializer.Step {
	var steps []initializer.Step
	if s.cfg.SeedFile != "" {
		steps = append(steps, initializer.Step{
			Name: "seed-catalog",
			Run: func(ctx context.Context) error {
				seed, err := catalog.LoadSeed(s.cfg.SeedFile)
				if err != nil {
					return err
				}
				stats, err := catalog.ApplySeed(ctx, s.catalog, seed)
				if err != nil {
					return err
				}
				logging.L(ctx).Info("catalog seeded", "file", s.cfg.SeedFile,
					"modules", stats.Modules, "plans", stats.Plans, "permissions", stats.Permissions)
				return nil
			},
		})
	}
	steps = append(steps, initializer.Step{
		Name: "reset-query-cache",
		Run: func(context.Context) error {
			s.cache.Clear()
			return nil
		},
	})
	return steps
}

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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
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
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	// Credentials are read once here; route groups decide what they require.
	s.router.Use(auth.Middleware(s.authMgr))
	s.router.Use(auth.AdminSecret(s.cfg.AdminSecret))
	s.router.Use(s.identityMiddleware())
	s.router.Use(security.TenantCORSMiddleware(s.directory, auth.GetTenantID))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig()).WithTenantBudgets(s.directory)
	s.router.Use(s.rateLimiter.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
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

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

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
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// identityMiddleware derives the query cache identity of the caller: the
// key's user, a fingerprint of the presented credential, and the tenant the
// caller is acting in. Admin tools pick a tenant with X-Tenant-ID; bound
// keys always act in their own tenant.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := querycache.Identity{
			UserID:             auth.GetUserID(c),
			SessionFingerprint: querycache.Fingerprint(auth.Token(c)),
			TenantID:           auth.GetTenantID(c),
		}
		if id.TenantID == "" && auth.IsAdmin(c) {
			id.TenantID = c.GetHeader("X-Tenant-ID")
		}
		if id.UserID == "" && auth.IsAdmin(c) {
			id.UserID = auth.AdminActor
		}
		querycache.SetIdentity(c, id)
		if id.TenantID != "" {
			c.Request = c.Request.WithContext(logging.WithTenantID(c.Request.Context(), id.TenantID))
		}
		if id.UserID != "" {
			s.sessions.Observe(c.Request.Context(), id)
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes(inv querycache.Invalidator) {
	s.router.GET("/health", s.health.Handler(s.version))
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	catalogHandler := catalog.NewHandler(s.catalog, s.cache).WithInvalidator(inv)
	subHandler := subscription.NewHandler(s.subs, s.cache)
	accessHandler := access.NewHandler(s.resolver, s.overrides, s.cache)
	authHandler := auth.NewHandler(s.authMgr)
	tenantHandler := tenant.NewHandler(s.tenants, s.authMgr)

	v1 := s.router.Group("/v1")
	v1.GET("/auth/info", authHandler.Info)

	// Signed by Stripe, not by an API key.
	if s.cfg.StripeWebhookSecret != "" {
		subscription.NewStripeWebhook(s.subs, s.cfg.StripeWebhookSecret, s.logger).
			WithCustomers(s.directory).
			RegisterRoutes(v1)
	}

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	catalogHandler.RegisterRoutes(protected)
	completeness.NewHandler().RegisterRoutes(protected)
	authHandler.RegisterRoutes(protected)
	protected.GET("/ws", s.hub.Handler())

	tenantScoped := protected.Group("")
	tenantScoped.Use(auth.RequireTenant("id"), validation.IdentifierParamMiddleware("module"))
	tenantHandler.RegisterProtectedRoutes(tenantScoped)
	subHandler.RegisterTenantRoutes(tenantScoped)
	accessHandler.RegisterTenantRoutes(tenantScoped)

	admin := v1.Group("")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret), validation.IdentifierParamMiddleware("module"))
	catalogHandler.RegisterAdminRoutes(admin)
	subHandler.RegisterAdminRoutes(admin)
	accessHandler.RegisterAdminRoutes(admin)
	authHandler.RegisterAdminRoutes(admin)
	tenantHandler.RegisterAdminRoutes(admin)
	admin.POST("/auth/events", s.authEventHandler)
	admin.POST("/admin/reinit", s.reinitHandler)
	admin.GET("/admin/realtime", s.realtimeStatsHandler)
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() || !s.bootstrap.Initialized() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// authEventHandler handles POST /v1/auth/events. The identity provider's
// auth hook reports sign-ins, sign-outs and token refreshes here.
func (s *Server) authEventHandler(c *gin.Context) {
	var req struct {
		Event querycache.AuthEvent `json:"event" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "event required"})
		return
	}
	switch req.Event {
	case querycache.EventSignedIn, querycache.EventSignedOut, querycache.EventTokenRefreshed, querycache.EventUserUpdated:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "unknown auth event"})
		return
	}
	cleared := s.sessions.HandleAuthEvent(c.Request.Context(), req.Event)
	c.JSON(http.StatusOK, gin.H{"event": req.Event, "cleared": cleared})
}

// reinitHandler handles POST /v1/admin/reinit.
func (s *Server) reinitHandler(c *gin.Context) {
	res := s.bootstrap.Reinit(c.Request.Context())
	logging.L(c.Request.Context()).Info("bootstrap rerun", "initialized", res.Initialized, "attempt", res.Attempt,
		"actor", auth.ActorID(c))
	code := http.StatusOK
	if !res.Initialized {
		code = http.StatusInternalServerError
	}
	c.JSON(code, gin.H{"result": res})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until ctx is cancelled or a shutdown
// signal arrives.
func (s *Server) Run(ctx context.Context) error {
	// Background goroutines stop when Shutdown cancels this context.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing setup failed, continuing without", "error", err)
	} else {
		s.traceShutdown = shutdownTraces
	}

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.subTimer.Start(runCtx)
	go s.sweepCache(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// sweepCache drops expired query cache entries.
func (s *Server) sweepCache(ctx context.Context) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.cache.Sweep()
			forgotten := s.sessions.Sweep()
			if n > 0 || forgotten > 0 {
				s.logger.Debug("query cache swept", "removed", n, "sessions_forgotten", forgotten)
			}
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

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

	s.subTimer.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
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

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
