// Package server wires the verification engine together and exposes it
// over HTTP: the gateway API under /v1, the live dashboard, and the
// usual health and metrics endpoints.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/behavior"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/challenge"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/circuitbreaker"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/config"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/guild"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/health"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/logging"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/metrics"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/oracle"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/raid"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/ratelimit"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/realtime"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/risk"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/security"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/session"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/traces"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/validation"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/verify"
)

// Server owns every long-lived component and the gin router.
type Server struct {
	cfg         *config.Config
	textOracle  oracle.TextOracle // nil interface when no oracle configured
	oracleCli   *oracle.Client    // concrete client, for breaker health; nil in tests
	guilds      *guild.Store
	raids       *raid.Detector
	sessions    *session.Manager
	hub         *realtime.Hub
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter
	moderator   session.Moderator
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx   context.CancelFunc // stops background goroutines started in Run
	shutdownTraces func(context.Context) error

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

// WithOracle sets a custom oracle (for testing)
func WithOracle(o oracle.TextOracle) Option {
	return func(s *Server) {
		s.textOracle = o
	}
}

// WithModerator swaps the platform collaborator that carries out
// kicks, bans, and role changes when sessions go terminal.
func WithModerator(m session.Moderator) Option {
	return func(s *Server) {
		s.moderator = m
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	s.healthy.Store(true)

	// Apply options first (may set oracle/logger/moderator)
	for _, opt := range opts {
		opt(s)
	}

	if s.textOracle == nil && cfg.OracleEnabled() {
		cli := oracle.NewClient(oracle.Config{
			BaseURL: cfg.OracleURL,
			APIKey:  cfg.OracleAPIKey,
			Model:   cfg.OracleModel,
			Timeout: time.Duration(cfg.OracleTimeout) * time.Second,
		}, s.logger)
		s.oracleCli = cli
		s.textOracle = cli
	}

	bank := challenge.NewBank(nil)
	generator := challenge.NewGenerator(s.textOracle, bank, s.logger, nil)
	verifier := verify.NewVerifier(s.textOracle, s.logger)
	risks := risk.NewAnalyzer(s.textOracle, s.logger)

	s.guilds = guild.NewStore(cfg.RaidThreshold)
	s.raids = raid.NewDetector()
	s.hub = realtime.NewHub(s.logger)

	if s.moderator == nil {
		s.moderator = &logModerator{logger: s.logger}
	}

	s.sessions = session.NewManager(session.Deps{
		Store:       session.NewMemoryStore(),
		Risks:       risks,
		Generator:   generator,
		Verifier:    verifier,
		Behavior:    behavior.NewAnalyzer(cfg.BehaviorThreshold),
		Raids:       s.raids,
		Guilds:      s.guilds,
		Moderator:   s.moderator,
		Emitter:     s.hub,
		Logger:      s.logger,
		MaxAttempts: cfg.MaxAttempts,
	})

	s.setupHealthChecks()

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupHealthChecks() {
	s.checks = health.NewRegistry()

	s.checks.Register("sessions", func(ctx context.Context) health.Status {
		stats := s.sessions.Stats(ctx)
		return health.Status{
			Healthy: true,
			Detail:  fmt.Sprintf("%d pending", stats.ActiveSessions),
		}
	})

	if s.oracleCli == nil {
		s.checks.Register("oracle", health.StaticCheck(true, "not configured, local fallbacks active"))
	} else {
		s.checks.Register("oracle", func(ctx context.Context) health.Status {
			state := s.oracleCli.Breaker().State("oracle")
			return health.Status{
				// Half-open still serves traffic; only a fully open
				// breaker degrades the service.
				Healthy: state != circuitbreaker.StateOpen,
				Detail:  state.String(),
			}
		})
	}
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

	// CORS (the dashboard is same-origin; permissive for development)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit
	s.router.Use(validation.RequestSizeMiddleware())

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         ratelimit.DefaultConfig().BurstSize,
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

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
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

	// Live dashboard
	s.router.GET("/", dashboardHandler)
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// Public stats (the dashboard polls this without credentials)
	s.router.GET("/v1/stats", s.statsHandler)

	// Gateway API. Everything under here carries member data and
	// challenge answers, so the whole subtree requires the token.
	guilds := s.router.Group("/v1/guilds/:guildId")
	guilds.Use(security.GatewayAuthMiddleware(s.cfg.GatewayToken))
	guilds.Use(validation.SnowflakeParamMiddleware("guildId"))
	{
		guilds.POST("/joins", s.joinHandler)
		guilds.GET("/raid", s.raidStatusHandler)
		guilds.GET("/config", s.getGuildConfigHandler)
		guilds.PUT("/config", s.putGuildConfigHandler)

		members := guilds.Group("/members/:userId")
		members.Use(validation.SnowflakeParamMiddleware("userId"))
		{
			members.GET("/session", s.getSessionHandler)
			members.POST("/answer", s.answerHandler)
			members.POST("/expire", s.expireHandler)
		}
	}
}

// -----------------------------------------------------------------------------
// Gateway handlers
// -----------------------------------------------------------------------------

type joinRequest struct {
	UserID         string    `json:"userId" binding:"required"`
	Username       string    `json:"username" binding:"required"`
	DisplayName    string    `json:"displayName"`
	AvatarURL      string    `json:"avatarUrl"`
	AvatarAnimated bool      `json:"avatarAnimated"`
	HasBanner      bool      `json:"hasBanner"`
	CreatedAt      time.Time `json:"createdAt" binding:"required"`
}

func (s *Server) joinHandler(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if !validation.IsSnowflake(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "userId must be a snowflake",
		})
		return
	}

	ev := session.JoinEvent{
		UserID:         req.UserID,
		GuildID:        c.Param("guildId"),
		Username:       req.Username,
		DisplayName:    req.DisplayName,
		AvatarURL:      req.AvatarURL,
		AvatarAnimated: req.AvatarAnimated,
		HasBanner:      req.HasBanner,
		CreatedAt:      req.CreatedAt,
	}

	sess, raidDetected, err := s.sessions.Create(c.Request.Context(), ev)
	if err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "session_exists",
				"message": "member already has a pending verification",
			})
			return
		}
		logging.L(c.Request.Context()).Error("session create failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to create verification session",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session":      sess,
		"raidDetected": raidDetected,
	})
}

type answerRequest struct {
	Answer string `json:"answer"`
	// OptionIndex selects from the current challenge's options. The
	// interaction gateway sends this instead of free text.
	OptionIndex *int `json:"optionIndex,omitempty"`
}

func (s *Server) answerHandler(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	userID, guildID := c.Param("userId"), c.Param("guildId")

	answer := req.Answer
	if req.OptionIndex != nil {
		// Resolve the index against the current challenge. A
		// replacement racing in between reads as a wrong answer,
		// which is the same outcome the member would get live.
		sess, err := s.sessions.Get(c.Request.Context(), userID, guildID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "session_not_found",
				"message": "no pending verification for this member",
			})
			return
		}
		if sess.Status.Terminal() {
			// Match the free-text path, which surfaces a finished
			// session as not found rather than a bad index.
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "session_not_found",
				"message": "no pending verification for this member",
			})
			return
		}
		current, ok := sess.Current()
		if !ok || *req.OptionIndex < 0 || *req.OptionIndex >= len(current.Options) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "optionIndex out of range",
			})
			return
		}
		answer = current.Options[*req.OptionIndex]
	}

	res, err := s.sessions.SubmitAnswer(c.Request.Context(), userID, guildID, answer)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "session_not_found",
				"message": "no pending verification for this member",
			})
			return
		}
		logging.L(c.Request.Context()).Error("answer submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to process answer",
		})
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) expireHandler(c *gin.Context) {
	err := s.sessions.Expire(c.Request.Context(), c.Param("userId"), c.Param("guildId"))
	if err != nil {
		logging.L(c.Request.Context()).Error("expire failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to expire session",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSessionHandler(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("userId"), c.Param("guildId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "session_not_found",
			"message": "no pending verification for this member",
		})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) raidStatusHandler(c *gin.Context) {
	guildID := c.Param("guildId")
	threshold := s.guilds.Get(guildID).RaidThreshold
	size := s.raids.WindowSize(guildID)

	c.JSON(http.StatusOK, gin.H{
		"guildId":    guildID,
		"windowSize": size,
		"threshold":  threshold,
		"active":     size >= threshold,
	})
}

func (s *Server) getGuildConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.guilds.Get(c.Param("guildId")))
}

func (s *Server) putGuildConfigHandler(c *gin.Context) {
	var cfg guild.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	// Path wins over body; a mismatched body guild ID is ignored.
	cfg.GuildID = c.Param("guildId")
	s.guilds.Put(cfg)
	c.JSON(http.StatusOK, s.guilds.Get(cfg.GuildID))
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine":   s.sessions.Stats(c.Request.Context()),
		"realtime": s.hub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background goroutines, then blocks
// until a shutdown signal arrives or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing is optional; an empty endpoint yields a no-op provider.
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.shutdownTraces = shutdown
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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"oracle", s.cfg.OracleEnabled(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Runtime metrics
	metrics.StartRuntimeCollector(runCtx, 15*time.Second)

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

	// Cancel the context for background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Sessions exposes the session manager for embedding callers.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}
