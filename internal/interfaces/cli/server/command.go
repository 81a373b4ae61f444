package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veevpn/panel/internal/application/bundle"
	"github.com/veevpn/panel/internal/application/expiry"
	"github.com/veevpn/panel/internal/application/reconcile"
	"github.com/veevpn/panel/internal/application/subscription"
	"github.com/veevpn/panel/internal/application/traffic"
	domainserver "github.com/veevpn/panel/internal/domain/server"
	"github.com/veevpn/panel/internal/infrastructure/cache"
	"github.com/veevpn/panel/internal/infrastructure/config"
	"github.com/veevpn/panel/internal/infrastructure/credential"
	"github.com/veevpn/panel/internal/infrastructure/database"
	"github.com/veevpn/panel/internal/infrastructure/email"
	"github.com/veevpn/panel/internal/infrastructure/migration"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/infrastructure/persistence/models"
	"github.com/veevpn/panel/internal/infrastructure/scheduler"
	httpRouter "github.com/veevpn/panel/internal/interfaces/http"
	"github.com/veevpn/panel/internal/shared/biztime"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
)

var (
	env                string
	autoMigrate        bool
	skipMigrationCheck bool
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server and background schedulers",
		Long:  `Start the fleet's HTTP server (bundle + admin endpoints) and its traffic/expiry/notification background jobs.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Automatically run database migrations on startup (not recommended for production)")
	cmd.Flags().BoolVar(&skipMigrationCheck, "skip-migration-check", false, "Skip migration status check on startup")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	ginMode := mapEnvToGinMode(env)

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Server.Mode = ginMode

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting server",
		zap.String("environment", env),
		zap.Bool("auto-migrate", autoMigrate))

	if err := biztime.Init(cfg.Server.Timezone); err != nil {
		logger.Fatal("failed to initialize business timezone", zap.Error(err))
	}
	credential.Init(cfg.Password.BcryptCost)

	gin.SetMode(cfg.Server.Mode)
	gin.DefaultWriter = io.Discard
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {}

	if err := database.Init(&cfg.Database); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	if err := handleMigrations(env); err != nil {
		logger.Fatal("migration handling failed", zap.Error(err))
	}

	db := database.Get()
	log := logger.NewLogger()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	clientFor := func(s *domainserver.Server) (backend.VpnBackend, error) {
		return backend.NewClientForServer(s, cfg.Bundle.InsecureSkipVerify)
	}

	subRepo := gormrepo.NewSubscriptionRepository(db)
	keyRepo := gormrepo.NewKeyRepository(db)
	serverRepo := gormrepo.NewServerRepository(db)
	tariffRepo := gormrepo.NewTariffRepository(db)
	userRepo := gormrepo.NewUserRepository(db)
	bundleCache := cache.NewBundleCache(time.Duration(cfg.Bundle.CacheTTLSeconds) * time.Second)

	emailCfg := email.SMTPConfig{
		Host: cfg.Email.SMTPHost, Port: cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUser, Password: cfg.Email.SMTPPassword,
		FromAddress: cfg.Email.FromAddress, FromName: cfg.Email.FromName,
	}
	notifier := email.NewSMTPEmailService(emailCfg)

	bundleService := bundle.NewService(subRepo, keyRepo, serverRepo, tariffRepo, bundleCache, clientFor, cfg.Bundle.DefaultTitle, log)
	subscriptionEngine := subscription.NewEngine(subRepo, keyRepo, serverRepo, tariffRepo, userRepo, bundleCache, clientFor, log)
	trafficMonitor := traffic.NewMonitor(subRepo, keyRepo, serverRepo, tariffRepo, clientFor, notifier, cfg.Email.OpsNotifyAddress, log)
	expiryScheduler := expiry.NewScheduler(subRepo, subscriptionEngine, notifier, cfg.Email.OpsNotifyAddress, log)
	reconciler := reconcile.NewReconciler(keyRepo, serverRepo, subRepo, clientFor, log)

	jobManager, err := scheduler.NewSchedulerManager(log)
	if err != nil {
		logger.Fatal("failed to create scheduler manager", zap.Error(err))
	}
	if err := jobManager.RegisterTrafficMonitorJob(trafficMonitor, time.Duration(cfg.Scheduler.TrafficMonitorIntervalSeconds)*time.Second); err != nil {
		logger.Fatal("failed to register traffic monitor job", zap.Error(err))
	}
	if err := jobManager.RegisterExpirySweepJob(expiryScheduler, time.Duration(cfg.Scheduler.ExpirySweepIntervalSeconds)*time.Second); err != nil {
		logger.Fatal("failed to register expiry sweep job", zap.Error(err))
	}
	if err := jobManager.RegisterNotificationSweepJob(expiryScheduler, time.Duration(cfg.Scheduler.NotificationSweepIntervalSec)*time.Second); err != nil {
		logger.Fatal("failed to register notification sweep job", zap.Error(err))
	}
	jobManager.Start()
	defer func() {
		if err := jobManager.Stop(); err != nil {
			logger.Error("failed to stop scheduler manager", zap.Error(err))
		}
	}()

	router := httpRouter.NewRouter(db, cfg, bundleService, subscriptionEngine, reconciler, redisClient, log)
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("address", cfg.Server.GetAddr()),
			zap.String("mode", cfg.Server.Mode))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("server exited gracefully")
	return nil
}

func handleMigrations(environment string) error {
	if skipMigrationCheck {
		logger.Info("skipping migration check")
		return nil
	}

	if autoMigrate {
		if environment == "production" {
			logger.Warn("auto-migration is enabled in production environment - this is not recommended!")
		}

		logger.Info("running auto-migration")
		migrationManager := migration.NewManager(environment)
		if err := migrationManager.Migrate(database.Get(), models.AllModels()...); err != nil {
			return fmt.Errorf("auto-migration failed: %w", err)
		}
		logger.Info("auto-migration completed successfully")
		return nil
	}

	logger.Info("checking migration status")

	scriptsPath, err := filepath.Abs("./internal/infrastructure/migration/scripts")
	if err != nil {
		logger.Warn("failed to get migration scripts path", zap.Error(err))
		return nil
	}

	strategy := migration.NewGooseStrategy(scriptsPath)
	if gooseStrategy, ok := strategy.(*migration.GooseStrategy); ok {
		version, err := gooseStrategy.GetVersion(database.Get())
		if err != nil {
			logger.Warn("failed to check migration status", zap.Error(err))
		} else {
			logger.Info("current migration version", zap.Int64("version", version))
		}
	}

	logger.Info("migration check completed")
	return nil
}

func mapEnvToGinMode(environment string) string {
	switch environment {
	case "production", "prod":
		return "release"
	case "development", "dev":
		return "debug"
	case "test", "testing":
		return "test"
	case "debug":
		return "debug"
	case "release":
		return "release"
	default:
		return "debug"
	}
}
