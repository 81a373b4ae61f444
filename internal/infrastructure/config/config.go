package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	sharedConfig "github.com/veevpn/panel/internal/shared/config"
)

type Config struct {
	Server    sharedConfig.ServerConfig    `mapstructure:"server"`
	Database  sharedConfig.DatabaseConfig  `mapstructure:"database"`
	Logger    sharedConfig.LoggerConfig    `mapstructure:"logger"`
	Email     sharedConfig.EmailConfig     `mapstructure:"email"`
	Redis     sharedConfig.RedisConfig     `mapstructure:"redis"`
	Bundle    sharedConfig.BundleConfig    `mapstructure:"bundle"`
	Scheduler sharedConfig.SchedulerConfig `mapstructure:"scheduler"`
	Admin     sharedConfig.AdminConfig     `mapstructure:"admin"`
	Password  sharedConfig.PasswordConfig  `mapstructure:"password"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load loads configuration from file and environment variables.
// If configPath is provided, it is used instead of the default search paths.
// The config file is optional - if not found, defaults and environment
// variables are used.
func Load(env string, configPath ...string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if len(configPath) > 0 && configPath[0] != "" {
		viper.SetConfigFile(configPath[0])
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("../configs")
		viper.AddConfigPath("../../configs")
	}

	viper.SetEnvPrefix("VEEVPN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if env != "" && env != "default" {
		viper.Set("server.mode", env)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration.
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.base_url", "")
	viper.SetDefault("server.allowed_origins", []string{})
	viper.SetDefault("server.timezone", "Asia/Shanghai")

	// Database defaults - sqlite is the default embedded store
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "./data/veevpn.db")
	viper.SetDefault("database.busy_timeout_ms", 5000)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "root")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.database", "veevpn")
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.conn_max_lifetime", 60)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("logger.output_path", "stdout")

	// Email defaults
	viper.SetDefault("email.smtp_host", "localhost")
	viper.SetDefault("email.smtp_port", 1025)
	viper.SetDefault("email.smtp_user", "")
	viper.SetDefault("email.smtp_password", "")
	viper.SetDefault("email.from_address", "noreply@veevpn.local")
	viper.SetDefault("email.from_name", "Vee VPN")
	viper.SetDefault("email.ops_notify_address", "ops@veevpn.local")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Bundle defaults
	viper.SetDefault("bundle.default_title", "Vee VPN")
	viper.SetDefault("bundle.cache_ttl_seconds", 300)
	viper.SetDefault("bundle.rate_limit_per_minute", 60)
	viper.SetDefault("bundle.insecure_skip_verify", false)

	// Scheduler defaults
	viper.SetDefault("scheduler.traffic_monitor_interval_seconds", 60)
	viper.SetDefault("scheduler.expiry_sweep_interval_seconds", 60)
	viper.SetDefault("scheduler.expiry_grace_minutes", 0)
	viper.SetDefault("scheduler.notification_sweep_interval_seconds", 300)

	// Admin defaults
	viper.SetDefault("admin.casbin_model_path", "./configs/rbac_model.conf")
	viper.SetDefault("admin.session_cookie", "veevpn_admin_session")
	viper.SetDefault("password.bcrypt_cost", 12)
}
