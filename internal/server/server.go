// Package server wires the HTTP API: query intake, confirmation endpoints,
// the realtime stream, and operational surfaces.
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

	"github.com/sagebank/orchestrator/internal/clients"
	"github.com/sagebank/orchestrator/internal/config"
	"github.com/sagebank/orchestrator/internal/confirm"
	"github.com/sagebank/orchestrator/internal/contacts"
	"github.com/sagebank/orchestrator/internal/currency"
	"github.com/sagebank/orchestrator/internal/executor"
	"github.com/sagebank/orchestrator/internal/flow"
	"github.com/sagebank/orchestrator/internal/health"
	"github.com/sagebank/orchestrator/internal/httpx"
	"github.com/sagebank/orchestrator/internal/idempotency"
	"github.com/sagebank/orchestrator/internal/intent"
	"github.com/sagebank/orchestrator/internal/logging"
	"github.com/sagebank/orchestrator/internal/metrics"
	"github.com/sagebank/orchestrator/internal/notify"
	"github.com/sagebank/orchestrator/internal/ratelimit"
	"github.com/sagebank/orchestrator/internal/realtime"
	"github.com/sagebank/orchestrator/internal/resolver"
	"github.com/sagebank/orchestrator/internal/risk"
	"github.com/sagebank/orchestrator/internal/security"
	"github.com/sagebank/orchestrator/internal/session"
	"github.com/sagebank/orchestrator/internal/validation"
)

// Server wraps the HTTP server and its collaborators.
type Server struct {
	cfg           *config.Config
	flow          *flow.Flow
	confirmations *confirm.Manager
	confirmTimer  *confirm.Timer
	sessions      session.Store
	hub           *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	checks        *health.Registry
	db            *sql.DB // nil when running on in-memory stores
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server. Stores are Postgres when DATABASE_URL is set,
// in-memory otherwise.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var (
		profileStore    risk.ProfileStore
		assessmentStore risk.AssessmentStore
		rateStore       currency.RateStore
		confirmStore    confirm.Store
		idemStore       idempotency.Store
		logStore        executor.LogStore
		budgetStore     executor.BudgetStore
		sessionStore    session.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db
		s.checks.Register("postgres", health.DBChecker("postgres", db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		profileStore = risk.NewPostgresProfileStore(db)
		assessmentStore = risk.NewPostgresAssessmentStore(db)
		rateStore = currency.NewPostgresStore(db)
		confirmStore = confirm.NewPostgresStore(db)
		idemStore = idempotency.NewPostgresStore(db)
		logStore = executor.NewPostgresLogStore(db)
		budgetStore = executor.NewPostgresBudgetStore(db)
		sessionStore = session.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage")
		profileStore = risk.NewMemoryProfileStore()
		assessmentStore = risk.NewMemoryAssessmentStore()
		rateStore = currency.NewMemoryStore()
		confirmStore = confirm.NewMemoryStore()
		idemStore = idempotency.NewMemoryStore()
		logStore = executor.NewMemoryLogStore()
		budgetStore = executor.NewMemoryBudgetStore()
		sessionStore = session.NewMemoryStore()
	}
	s.sessions = sessionStore

	httpClient := httpx.New(10*time.Second, cfg.RetryAttempts, cfg.RetryBaseDelay)

	s.hub = realtime.NewHub(s.logger)

	var deliverer notify.Deliverer
	if cfg.AlertWebhookURL != "" {
		if err := security.ValidateEndpointURL(cfg.AlertWebhookURL); err != nil {
			return nil, fmt.Errorf("ALERT_WEBHOOK_URL: %w", err)
		}
		deliverer = notify.NewWebhook(cfg.AlertWebhookURL, cfg.AlertWebhookSecret)
	}
	sink := notify.NewSink(deliverer, s.hub, s.logger)

	exec := executor.NewService(
		executor.NewHTTPLedger(httpClient, cfg.LedgerURL),
		logStore,
		budgetStore,
	)

	s.confirmations = confirm.NewManager(confirmStore, exec, sink, confirm.Options{
		ChatTTL:     cfg.ChatConfirmTTL,
		OTPTTL:      cfg.OTPConfirmTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
	})
	s.confirmTimer = confirm.NewTimer(s.confirmations, confirmStore, s.logger)

	contactsClient := contacts.NewClient(httpClient, cfg.ContactsURL)

	s.flow = flow.New(flow.Config{
		Classifier: intent.NewClassifier(httpClient, cfg.ClassifierURL, cfg.IntentConfidenceFloor),
		Resolver:   resolver.New(contactsClient, cfg.MatchFloor),
		Normalizer: currency.NewNormalizer(rateStore,
			currency.NewHTTPProvider(cfg.RatePrimaryURL, httpClient),
			currency.NewHTTPProvider(cfg.RateFallbackURL, httpClient)),
		Risk: risk.NewEvaluator(profileStore, assessmentStore).
			WithThresholds(cfg.RiskSuspiciousThreshold, cfg.RiskFraudThreshold),
		Confirmations: s.confirmations,
		Guard:         idempotency.NewGuard(idemStore),
		Executor:      exec,
		Money:         clients.NewMoney(httpClient, cfg.BalanceURL, cfg.HistoryURL, cfg.BudgetsURL),
		Contacts:      contactsClient,
		Sessions:      sessionStore,
		Hub:           s.hub,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// maskDSN hides the password in a connection string for logging.
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

func (s *Server) setupMiddleware() {
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
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.correlationMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.Use(s.authContextMiddleware())
	{
		v1.POST("/query", s.queryHandler)
		v1.POST("/verify-otp", s.verifyOTPHandler)
		v1.POST("/confirm/:confirmation_id", s.confirmHandler)
		v1.GET("/confirmations/:confirmation_id", s.confirmationStatusHandler)
		v1.GET("/stream", s.streamHandler)
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.confirmTimer.Start(runCtx)
	go s.sessionPurgeLoop(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

// sessionPurgeLoop removes idle conversation sessions on a slow cadence.
func (s *Server) sessionPurgeLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sessions.PurgeIdle(ctx, time.Now().Add(-24*time.Hour), 500)
			if err != nil {
				s.logger.Warn("session purge failed", "error", err)
			} else if n > 0 {
				s.logger.Info("purged idle sessions", "count", n)
			}
		}
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

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

	s.confirmTimer.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	healthy, statuses := s.checks.CheckAll(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
}
