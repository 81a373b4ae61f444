package migration

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veevpn/panel/internal/shared/logger"
)

// Manager handles database migrations with different strategies
type Manager struct {
	strategy Strategy
	logger   *zap.Logger
}

// NewManager creates a new migration manager. Development uses GORM
// AutoMigrate so local iteration never needs a hand-written script; test and
// production environments run versioned golang-migrate scripts so schema
// changes are reviewed and repeatable.
func NewManager(environment string) *Manager {
	var strategy Strategy

	switch strings.ToLower(environment) {
	case "development", "dev", "":
		strategy = NewGormAutoMigrateStrategy()
	case "test", "production", "prod":
		scriptsPath, _ := filepath.Abs("./internal/infrastructure/migration/scripts")
		strategy = NewGolangMigrateStrategy(scriptsPath)
	default:
		strategy = NewGormAutoMigrateStrategy()
	}

	return &Manager{
		strategy: strategy,
		logger:   logger.WithComponent("migration.manager"),
	}
}

// NewManagerWithStrategy creates a new migration manager with a specific strategy
func NewManagerWithStrategy(strategy Strategy) *Manager {
	return &Manager{
		strategy: strategy,
		logger:   logger.WithComponent("migration.manager"),
	}
}

// Migrate executes the configured migration strategy
func (m *Manager) Migrate(db *gorm.DB, models ...interface{}) error {
	m.logger.Info("starting database migration",
		zap.String("strategy", m.strategy.GetName()),
		zap.Int("models_count", len(models)))

	if err := m.strategy.Migrate(db, models...); err != nil {
		m.logger.Error("migration failed",
			zap.String("strategy", m.strategy.GetName()),
			zap.Error(err))
		return fmt.Errorf("migration failed with strategy %s: %w", m.strategy.GetName(), err)
	}

	m.logger.Info("database migration completed successfully",
		zap.String("strategy", m.strategy.GetName()))

	return nil
}

// GetStrategy returns the current migration strategy
func (m *Manager) GetStrategy() Strategy {
	return m.strategy
}

// SetStrategy sets a new migration strategy
func (m *Manager) SetStrategy(strategy Strategy) {
	m.logger.Info("changing migration strategy",
		zap.String("from", m.strategy.GetName()),
		zap.String("to", strategy.GetName()))
	m.strategy = strategy
}

// MigrateWithGormAutoMigrate is a convenience function for GORM AutoMigrate
func MigrateWithGormAutoMigrate(db *gorm.DB, models ...interface{}) error {
	manager := NewManagerWithStrategy(NewGormAutoMigrateStrategy())
	return manager.Migrate(db, models...)
}

// MigrateWithGolangMigrate is a convenience function for golang-migrate
func MigrateWithGolangMigrate(db *gorm.DB, scriptsPath string, models ...interface{}) error {
	manager := NewManagerWithStrategy(NewGolangMigrateStrategy(scriptsPath))
	return manager.Migrate(db, models...)
}
