package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/orgoj/logrelay/internal/config"
	"github.com/orgoj/logrelay/internal/enricher"
	"github.com/orgoj/logrelay/internal/handler"
	"github.com/orgoj/logrelay/internal/iputil"
	"github.com/orgoj/logrelay/internal/logger"
	"github.com/orgoj/logrelay/internal/security"
	"github.com/orgoj/logrelay/internal/validation"
)

// SourceHeader names the producer a token was issued for.
const SourceHeader = "X-Log-Source"

const (
	// Limiters idle for longer than this are forgotten.
	limiterIdleTTL = 10 * time.Minute
	// Pruning runs only once the map grows past this size.
	limiterPruneThreshold = 1024
)

// Pipeline is what the server needs from the log pipeline.
type Pipeline interface {
	handler.Emitter
	handler.StatsProvider
	handler.SinkResetter
	handler.MetricsProvider
}

// Dependencies holds the dependencies needed by the server.
type Dependencies struct {
	Config    *config.Config
	Pipeline  Pipeline
	AppLogger *logger.AppLogger
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server represents the HTTP server
type Server struct {
	router   *gin.Engine
	config   *config.Config
	log      *logger.AppLogger
	resolver *iputil.Resolver
	admins   *iputil.Allowlist
	http     *http.Server

	// Rate limiting specific
	limiters   map[string]*limiterEntry
	limiterMu  sync.Mutex
	rateLimit  rate.Limit
	burstLimit int
	now        func() time.Time
}

// NewServer creates a new server instance with its dependencies.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Config == nil {
		panic("server: Config dependency cannot be nil")
	}
	if deps.Pipeline == nil {
		panic("server: Pipeline dependency cannot be nil")
	}
	if deps.AppLogger == nil {
		panic("server: AppLogger dependency cannot be nil")
	}
	cfg := deps.Config
	log := deps.AppLogger.Named("http")

	resolver, err := iputil.NewResolver(cfg.Server.TrustedProxies, cfg.Server.ClientIPHeader)
	if err != nil {
		return nil, err
	}
	admins, err := iputil.NewAllowlist(cfg.Server.AdminAllowedIPs)
	if err != nil {
		return nil, fmt.Errorf("admin_allowed_ips: %w", err)
	}
	enr, err := enricher.New(cfg.Server.AddAttributes)
	if err != nil {
		return nil, err
	}

	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		config:   cfg,
		log:      log,
		resolver: resolver,
		admins:   admins,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
	router.Use(s.requestLogMiddleware())

	if cfg.Server.RequestLimits.RateLimit > 0 {
		// Convert requests per minute to requests per second
		s.rateLimit = rate.Limit(float64(cfg.Server.RequestLimits.RateLimit) / 60.0)
		// Allow bursts up to the per-minute limit
		s.burstLimit = cfg.Server.RequestLimits.RateLimit
		log.Info("Rate limiting enabled for /emit: Rate=%.2f req/sec, Burst=%d", float64(s.rateLimit), s.burstLimit)
	} else {
		s.rateLimit = rate.Inf
		log.Info("Rate limiting disabled for /emit")
	}
	if cfg.Security.Token.Secret == "" {
		log.Warn("security.token.secret is empty, /emit accepts unauthenticated records")
	}

	ingest := handler.NewIngestHandler(handler.IngestDependencies{
		Pipeline:      deps.Pipeline,
		Enricher:      enr,
		Resolver:      resolver,
		Limits:        validation.DefaultLimits,
		MaxBodySize:   int64(cfg.Server.RequestLimits.MaxBodySize),
		MaxRecordSize: cfg.Server.RequestLimits.MaxBodySize,
		AppLogger:     log,
	})
	s.setupRoutes(ingest, deps.Pipeline)
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(ingest gin.HandlerFunc, p Pipeline) {
	health := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	s.router.GET("/health", health)
	s.router.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	s.router.GET("/version", handler.VersionHandler)

	emit := s.router.Group("/emit")
	if s.rateLimit != rate.Inf {
		emit.Use(s.rateLimitMiddleware())
	}
	if s.config.Security.Token.Secret != "" {
		emit.Use(s.tokenMiddleware())
	}
	emit.POST("", ingest)

	admin := s.router.Group("/")
	admin.Use(s.adminMiddleware())
	admin.GET("stats", handler.NewStatsHandler(p))
	admin.GET("metrics", gin.WrapH(p.MetricsHandler()))
	admin.POST("sinks/:name/reset", handler.NewResetSinkHandler(p, s.log))
}

// rateLimitMiddleware creates a Gin middleware for rate limiting based on IP.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := s.resolver.ClientIP(c.Request)
		if !s.limiterFor(ip).Allow() {
			s.log.Info("Rate limit exceeded for IP: %s", ip)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	now := s.now()
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	if len(s.limiters) >= limiterPruneThreshold {
		for key, e := range s.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(s.limiters, key)
			}
		}
	}
	e, exists := s.limiters[ip]
	if !exists {
		e = &limiterEntry{limiter: rate.NewLimiter(s.rateLimit, s.burstLimit)}
		s.limiters[ip] = e
	}
	e.lastSeen = now
	return e.limiter
}

// tokenMiddleware requires "Authorization: Bearer <token>" issued for the
// source named in the X-Log-Source header.
func (s *Server) tokenMiddleware() gin.HandlerFunc {
	secret := s.config.Security.Token.Secret
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		source := c.GetHeader(SourceHeader)
		if !ok || token == "" || source == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token and " + SourceHeader + " header required"})
			return
		}
		if err := security.ValidateToken(secret, source, token); err != nil {
			s.log.Warn("Rejected token for source '%s' from IP %s: %v", source, s.resolver.ClientIP(c.Request), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// adminMiddleware restricts the admin endpoints to admin_allowed_ips, or
// to loopback clients when the list is empty.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := s.resolver.ClientIP(c.Request)
		if !s.admins.Allows(ip) {
			s.log.Warn("Admin request to %s denied for IP %s", c.Request.URL.Path, ip)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Next()
		if c.Request.URL.Path == "/health" {
			return
		}
		s.log.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), s.now().Sub(start))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.log.Info("Starting server on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
