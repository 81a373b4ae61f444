package config

import "fmt"

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	BaseURL        string   `mapstructure:"base_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// Timezone is the business timezone used for expiry/notification date
	// boundary calculations (see internal/shared/biztime). IANA name, e.g.
	// "Asia/Shanghai".
	Timezone string `mapstructure:"timezone"`
}

func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig describes the embedded relational store. Driver selects
// between the default sqlite file and an optional mysql backend; the mysql
// fields are only consulted when Driver == "mysql".
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Path            string `mapstructure:"path"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	BusyTimeoutMS   int    `mapstructure:"busy_timeout_ms"`
}

func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

// GetSQLiteDSN builds the sqlite DSN with the pragmas the store relies on:
// WAL journaling so readers never block the traffic monitor's writes, and a
// busy_timeout so concurrent writers back off instead of failing immediately.
func (d *DatabaseConfig) GetSQLiteDSN() string {
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", d.Path, d.BusyTimeoutMS)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type PasswordConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

type EmailConfig struct {
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password"`
	FromAddress  string `mapstructure:"from_address"`
	FromName     string `mapstructure:"from_name"`
	// OpsNotifyAddress receives every traffic/expiry/purchase alert this
	// service sends — subscriptions have no per-user email of their own, so
	// alerts route to the operations inbox rather than the end customer.
	OpsNotifyAddress string `mapstructure:"ops_notify_address"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// BundleConfig controls the subscription-bundle HTTP surface: the in-process
// cache TTL, the default profile title, and the per-token rate limit.
type BundleConfig struct {
	DefaultTitle        string `mapstructure:"default_title"`
	CacheTTLSeconds     int    `mapstructure:"cache_ttl_seconds"`
	RateLimitPerMinute  int    `mapstructure:"rate_limit_per_minute"`
	InsecureSkipVerify  bool   `mapstructure:"insecure_skip_verify"`
}

// SchedulerConfig controls the background job cadence.
type SchedulerConfig struct {
	TrafficMonitorIntervalSeconds int `mapstructure:"traffic_monitor_interval_seconds"`
	ExpirySweepIntervalSeconds    int `mapstructure:"expiry_sweep_interval_seconds"`
	ExpiryGraceMinutes            int `mapstructure:"expiry_grace_minutes"`
	NotificationSweepIntervalSec  int `mapstructure:"notification_sweep_interval_seconds"`
}

// AdminConfig controls the thin admin HTTP shell (RBAC policy location and
// session cookie behavior; authentication itself is an external collaborator).
type AdminConfig struct {
	CasbinModelPath string `mapstructure:"casbin_model_path"`
	SessionCookie   string `mapstructure:"session_cookie"`
}
