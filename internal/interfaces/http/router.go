package http

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/application/bundle"
	"github.com/veevpn/panel/internal/application/reconcile"
	"github.com/veevpn/panel/internal/application/subscription"
	"github.com/veevpn/panel/internal/infrastructure/config"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	permissionInfra "github.com/veevpn/panel/internal/infrastructure/permission"
	"github.com/veevpn/panel/internal/interfaces/http/handlers"
	"github.com/veevpn/panel/internal/interfaces/http/middleware"
	"github.com/veevpn/panel/internal/shared/logger"

	_ "github.com/veevpn/panel/docs"
)

// Router assembles gin route groups for the two HTTP surfaces this service
// exposes: the public subscription-bundle endpoint and the RBAC-gated admin
// shell.
type Router struct {
	engine               *gin.Engine
	bundleHandler        *handlers.BundleHandler
	adminHandler         *handlers.AdminHandler
	healthHandler        *handlers.HealthHandler
	permissionMiddleware *middleware.PermissionMiddleware
	bundleRateLimiter    *middleware.RateLimiter
}

// NewRouter wires the HTTP layer on top of already-constructed application
// services. db must already be migrated.
func NewRouter(
	db *gorm.DB,
	cfg *config.Config,
	bundleService *bundle.Service,
	subscriptionEngine *subscription.Engine,
	reconciler *reconcile.Reconciler,
	redisClient *redis.Client,
	log logger.Interface,
) *Router {
	engine := gin.New()

	subRepo := gormrepo.NewSubscriptionRepository(db)
	freeKeyUsageRepo := gormrepo.NewFreeKeyUsageRepository(db)
	userRepo := gormrepo.NewUserRepository(db)

	enforcer, err := permissionInfra.NewEnforcer(db, cfg.Admin.CasbinModelPath, log)
	if err != nil {
		log.Fatalw("failed to initialize permission enforcer", "error", err)
	}

	bundleHandler := handlers.NewBundleHandler(bundleService, log)
	adminHandler := handlers.NewAdminHandler(subRepo, freeKeyUsageRepo, userRepo, subscriptionEngine, reconciler, log)
	healthHandler := handlers.NewHealthHandler()
	permissionMiddleware := middleware.NewPermissionMiddleware(enforcer, log)
	bundleRateLimiter := middleware.NewRateLimiter(redisClient, cfg.Bundle.RateLimitPerMinute)

	return &Router{
		engine:               engine,
		bundleHandler:        bundleHandler,
		adminHandler:         adminHandler,
		healthHandler:        healthHandler,
		permissionMiddleware: permissionMiddleware,
		bundleRateLimiter:    bundleRateLimiter,
	}
}

// SetupRoutes configures every route this service serves.
func (r *Router) SetupRoutes() {
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.CORS())
	r.engine.Use(middleware.SecurityHeaders())

	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/health", r.healthHandler.HealthCheck)

	r.engine.GET("/api/subscription/:token", r.bundleRateLimiter.Limit(), r.bundleHandler.Serve)

	admin := r.engine.Group("/admin")
	{
		admin.GET("/subscriptions", r.permissionMiddleware.RequirePermission("subscription", "list"), r.adminHandler.ListSubscriptions)
		admin.PATCH("/subscriptions/:id", r.permissionMiddleware.RequirePermission("subscription", "update"), r.adminHandler.EditSubscription)
		admin.DELETE("/subscriptions/:id", r.permissionMiddleware.RequirePermission("subscription", "delete"), r.adminHandler.DeleteSubscription)

		admin.POST("/fleet/sync", r.permissionMiddleware.RequirePermission("fleet", "sync"), r.adminHandler.SyncKeys)
		admin.GET("/fleet/report", r.permissionMiddleware.RequirePermission("fleet", "sync"), r.adminHandler.FleetReport)
		admin.GET("/servers/:id/compare", r.permissionMiddleware.RequirePermission("fleet", "compare"), r.adminHandler.CompareKeys)
		admin.POST("/servers/:id/migrate", r.permissionMiddleware.RequirePermission("fleet", "migrate"), r.adminHandler.MigrateServer)

		admin.POST("/users/:id/reset", r.permissionMiddleware.RequirePermission("user", "reset"), r.adminHandler.ResetUserData)
		admin.GET("/users/:id/deletion-check", r.permissionMiddleware.RequirePermission("user", "reset"), r.adminHandler.CheckUserDeletion)
	}
}

// GetEngine returns the underlying gin engine, mainly for tests.
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// Run starts the HTTP server.
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
