package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/tbeaudouin05/sitterhub-billing/api/auth"
	"github.com/tbeaudouin05/sitterhub-billing/api/config"
	"github.com/tbeaudouin05/sitterhub-billing/api/database"
	"github.com/tbeaudouin05/sitterhub-billing/api/router"
	billingapp "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/app"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/cache"
	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	stripegw "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/gateway/stripe"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/httpapi"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/profiles"
)

// App holds every wired dependency of the billing process.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DB      *sql.DB
	Redis   *redis.Client
	Store   billingdb.Store
	Service billingapp.Service
}

// New connects to the database and Redis and wires the billing service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, DB: db, Store: billingdb.NewPostgresStore(db)}

	opts := billingapp.Options{
		Store:           a.Store,
		Logger:          logger,
		BulkConcurrency: cfg.BulkSyncConcurrency,
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(redisOpts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			// The cache is optional; run without it rather than fail startup.
			logger.Warn("redis unavailable, entitlement cache disabled", "err", err)
			_ = a.Redis.Close()
			a.Redis = nil
		} else {
			opts.Cache = cache.NewEntitlementCache(a.Redis, cfg.EntitlementCacheTTL, logger)
		}
	}

	if cfg.StripeSecretKey != "" {
		opts.Gateway = stripegw.New(cfg.StripeSecretKey)
	}

	a.Service = billingapp.NewService(opts)
	return a, nil
}

// Handler builds the HTTP router for the wired service.
func (a *App) Handler() http.Handler {
	return router.NewRouter(router.Deps{
		Handlers: httpapi.NewHandlers(a.Service, auth.NewVerifier(a.Config.AuthJWTSecret),
			profiles.NewWaiter(a.Store, a.Logger), a.Logger),
		Webhook: httpapi.NewWebhookHandler(a.Config.StripeWebhookSecret, a.Service, a.Logger),
		Logger:  a.Logger,
	})
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
