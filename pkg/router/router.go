package router

import (
	"net/http"
	"time"

	"github.com/magicyang-1/chatshare-sub001/internal/api"
	"github.com/magicyang-1/chatshare-sub001/pkg/config"
	"github.com/magicyang-1/chatshare-sub001/pkg/di"
	"github.com/magicyang-1/chatshare-sub001/pkg/errors"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
	"github.com/magicyang-1/chatshare-sub001/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	rateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Security.TrustedProxies); err != nil {
		container.Logger.LogError(err, "Invalid trusted proxies, trusting none")
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(middleware.RequestIDMiddleware())
	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	// Add custom recovery middleware with structured logging instead of default
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	engine.Use(middleware.MaxBodySize(cfg.Security.MaxBodySize, "/api/v1/files/upload"))

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
		rateLimiter: middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
			Limit: rateLimit(cfg.Security.RateLimit),
			Burst: cfg.Security.RateLimitBurst,
		}),
	}
}

// SetupRoutes registers all application routes. metrics may be nil.
func (r *Router) SetupRoutes(metrics http.Handler) {
	c := r.Container

	chatHandler := api.NewChatHandler(c.Sessions)
	fileHandler := api.NewFileHandler(c.Uploads)
	modelHandler := api.NewModelHandler(c.Provider, c.Breaker, c.Defaults)

	r.Engine.GET("/health", gin.WrapF(c.Health.HTTPHandler()))
	r.Engine.GET("/api/health", gin.WrapF(c.Health.HTTPHandler()))
	if metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(metrics))
	}

	// Generated links point here, so it stays public
	fileHandler.RegisterPublicRoutes(r.Engine)

	v1 := r.Engine.Group("/api/v1")

	// Public routes (no auth required)
	v1.GET("/health", r.healthCheckHandler())
	modelHandler.RegisterRoutes(v1)

	// Protected routes (require authentication)
	protected := v1.Group("")
	protected.Use(middleware.JWTAuthMiddleware(c.JWTService, r.Logger))
	protected.Use(r.rateLimiter.Middleware())
	{
		chatHandler.RegisterRoutes(protected)
		fileHandler.RegisterRoutes(protected)
	}
}

// Close stops background work owned by the router
func (r *Router) Close() {
	r.rateLimiter.Close()
}

// healthCheckHandler returns a simple liveness handler
func (r *Router) healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		state := "ok"
		if !r.Container.Health.IsSystemHealthy() {
			status = http.StatusServiceUnavailable
			state = "unavailable"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"version": r.Config.Server.Env,
			"uptime":  time.Since(startTime).Round(time.Second).String(),
			"time":    time.Now().Format(time.RFC3339),
		})
	}
}

// rateLimit turns the configured requests per second into a limiter rate; zero disables limiting
func rateLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
