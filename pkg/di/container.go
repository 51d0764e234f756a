package di

import (
	"context"
	"fmt"
	"time"

	"github.com/magicyang-1/chatshare-sub001/ai"
	"github.com/magicyang-1/chatshare-sub001/internal/repository"
	"github.com/magicyang-1/chatshare-sub001/internal/service"
	"github.com/magicyang-1/chatshare-sub001/pkg/cache"
	"github.com/magicyang-1/chatshare-sub001/pkg/config"
	"github.com/magicyang-1/chatshare-sub001/pkg/health"
	"github.com/magicyang-1/chatshare-sub001/pkg/jwt"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
	"github.com/magicyang-1/chatshare-sub001/pkg/resilience"
	"github.com/magicyang-1/chatshare-sub001/pkg/storage"
	"github.com/magicyang-1/chatshare-sub001/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *gorm.DB
	Store      repository.Store
	Blobs      *storage.LocalStore
	JWTService *jwt.Service
	Breaker    *resilience.CircuitBreaker
	Provider   *ai.ProviderClient
	Defaults   ai.Defaults
	Dispatcher *ai.Dispatcher
	Resolver   *service.AttachmentResolver
	Sessions   *service.SessionManager
	Uploads    *service.UploadService
	Health     *health.Checker

	closers []func() error
}

// New wires the application. db may be nil when STORAGE_DRIVER=memory.
func New(cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: log, DB: db}
	c.Health = health.NewChecker(log, 30*time.Second)

	store, err := c.buildStore()
	if err != nil {
		return nil, err
	}
	c.Store = store

	blobs, err := storage.NewLocalStore(cfg.Storage.UploadPath)
	if err != nil {
		return nil, err
	}
	c.Blobs = blobs

	c.JWTService = jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	c.Defaults = ai.Defaults{
		TextModel:    cfg.Provider.TextModel,
		VisionModel:  cfg.Provider.VisionModel,
		ImageModel:   cfg.Provider.ImageModel,
		MaxTokens:    cfg.Provider.MaxTokens,
		Temperature:  cfg.Provider.Temperature,
		ImageSize:    cfg.Provider.ImageSize,
		ImageQuality: cfg.Provider.ImageQuality,
		ImageDetail:  cfg.Provider.ImageDetail,
	}

	c.Breaker = ai.NewProviderBreaker(cfg.Provider.BreakerThreshold, cfg.Provider.BreakerCooldown, log)
	c.Provider = ai.NewProviderClient(ai.ProviderConfig{
		BaseURL:      cfg.Provider.BaseURL,
		APIKey:       cfg.Provider.APIKey,
		TextTimeout:  cfg.Provider.TextTimeout,
		ImageTimeout: cfg.Provider.ImageTimeout,
		Breaker:      c.Breaker,
	}, log)
	if !c.Provider.Configured() {
		log.Warn("AI_API_KEY is not set, every reply will be degraded")
	}

	builder := ai.NewRequestBuilder(blobs, c.Defaults, log)
	c.Dispatcher = ai.NewDispatcher(builder, c.Provider, store, cfg.Server.BaseURL, log)
	c.Resolver = service.NewAttachmentResolver(store, log)
	c.Sessions = service.NewSessionManager(store, c.Resolver, c.Dispatcher, blobs, log)
	c.Uploads = service.NewUploadService(store, blobs, cfg.Storage.MaxFileSize, log)

	c.Health.RegisterStorageCheck(blobs.Writable)
	c.Health.RegisterProviderCheck(c.Provider.Configured)
	if db != nil {
		c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
			return db.WithContext(ctx).Exec("SELECT 1").Error
		})
	}

	return c, nil
}

// buildStore picks the persistence backend and puts the session cache in front of it
func (c *Container) buildStore() (repository.Store, error) {
	cfg := c.Config

	var base repository.Store
	switch cfg.Database.Driver {
	case "memory":
		c.Logger.Warn("Using in-memory storage, data is lost on restart")
		base = repository.NewMemoryStore()
	case "postgres", "":
		if c.DB == nil {
			return nil, fmt.Errorf("postgres storage requires a database connection")
		}
		gs := repository.NewGormStore(c.DB)
		if err := gs.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		base = gs
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Database.Driver)
	}

	if !cfg.Cache.Enabled {
		return base, nil
	}

	switch cfg.Cache.Backend {
	case "redis":
		rc := redis.NewRedisClient(redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Observability.ServiceName + ":",
		})
		c.closers = append(c.closers, rc.Close)
		c.Health.RegisterCacheCheck("redis", rc.Ping)
		return repository.NewCachedStore(base, rc, cfg.Cache.TTL, c.Logger), nil
	default:
		mc := cache.NewCache(cache.Options{
			TTL:             cfg.Cache.TTL,
			CleanupInterval: cfg.Cache.PurgeWindow,
			MaxItems:        cfg.Cache.MaxSize,
		})
		c.closers = append(c.closers, func() error { mc.Close(); return nil })
		return repository.NewCachedStore(base, mc.Bytes(), cfg.Cache.TTL, c.Logger), nil
	}
}

// Close releases caches and connections
func (c *Container) Close() {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			c.Logger.LogError(err, "Failed to close dependency")
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
