package database

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/veevpn/panel/internal/shared/config"
	appLogger "github.com/veevpn/panel/internal/shared/logger"
)

var (
	db   *gorm.DB
	dbMu sync.RWMutex
)

// Init opens the embedded store. Driver "sqlite" (the default) opens the
// WAL-mode file at cfg.Path; driver "mysql" dials the configured server
// instead. Both run behind the same *gorm.DB surface so repositories never
// branch on dialect.
func Init(cfg *config.DatabaseConfig) error {
	gormLogger := gormlogger.New(
		&filteredLogger{},
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Info,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "mysql":
		dsn := cfg.GetDSN()
		dialector = mysql.New(mysql.Config{
			DSN:                       dsn,
			SkipInitializeWithVersion: true,
		})
	case "sqlite", "":
		dialector = sqlite.Open(cfg.GetSQLiteDSN())
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger:      gormLogger,
		PrepareStmt: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if strings.ToLower(cfg.Driver) == "sqlite" || cfg.Driver == "" {
		// sqlite has no real connection pool; a single writer avoids
		// SQLITE_BUSY under WAL with concurrent schedulers.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	dbMu.Lock()
	db = database
	dbMu.Unlock()

	appLogger.Info("database connection established", zap.String("driver", cfg.Driver))

	return nil
}

// Get returns the database connection.
func Get() *gorm.DB {
	dbMu.RLock()
	defer dbMu.RUnlock()
	return db
}

// Close closes the database connection.
func Close() error {
	dbMu.RLock()
	currentDB := db
	dbMu.RUnlock()

	if currentDB == nil {
		return nil
	}

	sqlDB, err := currentDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	appLogger.Info("database connection closed")
	return nil
}

// filteredLogger filters out schema validation queries and forwards
// everything else to the application logger.
type filteredLogger struct{}

func (l *filteredLogger) Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	lower := strings.ToLower(msg)
	if strings.Contains(lower, "information_schema.schemata") ||
		strings.Contains(lower, "select version()") ||
		strings.Contains(lower, "sqlite_master") {
		return
	}

	if strings.Contains(msg, "[error]") || strings.Contains(msg, "ERROR") {
		appLogger.Error("database error", zap.String("details", msg))
	} else if strings.Contains(msg, "slow sql") || strings.Contains(msg, "SLOW SQL") {
		appLogger.Warn("slow query", zap.String("details", msg))
	} else {
		appLogger.Debug("database query", zap.String("details", msg))
	}
}
