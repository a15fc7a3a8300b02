// Package config - Application configuration management.
//
// Использует Viper для:
// - Загрузки из YAML файлов
// - Переменных окружения
// - Значений по умолчанию
//
// Порядок приоритета (от высшего к низшему):
// 1. Environment variables
// 2. Config file
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ============================================
// Main Configuration
// ============================================

// Config - главная структура конфигурации движка.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Bus          BusConfig          `mapstructure:"bus"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Reconciler   ReconcilerConfig   `mapstructure:"reconciler"`
	Simulator    SimulatorConfig    `mapstructure:"simulator"`
	Log          LogConfig          `mapstructure:"log"`
}

// ============================================
// App Configuration
// ============================================

// AppConfig - конфигурация приложения.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
}

// IsDevelopment возвращает true если окружение development.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction возвращает true если окружение production.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// ============================================
// Database Configuration
// ============================================

// DatabaseConfig - конфигурация базы данных.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// DSN возвращает строку подключения к PostgreSQL.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// ============================================
// Redis Configuration
// ============================================

// RedisConfig - конфигурация Redis (шина событий и очереди задач).
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Address возвращает адрес Redis.
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ============================================
// Event Bus Configuration
// ============================================

// BusConfig - конфигурация шины событий.
type BusConfig struct {
	// Driver выбирает реализацию: redis (по умолчанию), nats, memory.
	Driver string `mapstructure:"driver"`

	// NATSURL - адрес NATS при driver = "nats".
	NATSURL string `mapstructure:"nats_url"`
}

// ============================================
// Queue Configuration
// ============================================

// QueueConfig - конфигурация очередей фоновых задач.
type QueueConfig struct {
	// WebhookAttempts - потолок попыток доставки вебхука.
	WebhookAttempts int `mapstructure:"webhook_attempts"`

	// WebhookBackoff - база экспоненциального backoff доставки.
	WebhookBackoff time.Duration `mapstructure:"webhook_backoff"`

	// WebhookConcurrency - число воркеров доставки.
	WebhookConcurrency int `mapstructure:"webhook_concurrency"`

	// NotificationAttempts - потолок попыток отправки уведомления.
	NotificationAttempts int `mapstructure:"notification_attempts"`

	// NotificationBackoff - база backoff уведомлений.
	NotificationBackoff time.Duration `mapstructure:"notification_backoff"`

	// NotificationConcurrency - число воркеров уведомлений.
	NotificationConcurrency int `mapstructure:"notification_concurrency"`

	// StalledAfter - сколько задача может висеть в active, прежде чем
	// вернётся в wait.
	StalledAfter time.Duration `mapstructure:"stalled_after"`
}

// ============================================
// Webhook Configuration
// ============================================

// WebhookConfig - конфигурация исходящих вебхуков.
type WebhookConfig struct {
	// RequestTimeout - таймаут одного HTTP-запроса доставки.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// DeactivationThreshold - после скольких подряд окончательно
	// проваленных доставок подписка отключается.
	DeactivationThreshold int `mapstructure:"deactivation_threshold"`
}

// ============================================
// Reconciler Configuration
// ============================================

// ReconcilerConfig - конфигурация фонового восстановления саг.
type ReconcilerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// SweepInterval - период сканирования застрявших транзакций.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// StallThreshold - сколько транзакция должна простоять без
	// изменений, чтобы считаться застрявшей.
	StallThreshold time.Duration `mapstructure:"stall_threshold"`
}

// ============================================
// Failure Simulator Configuration
// ============================================

// SimulatorConfig - стартовая конфигурация симулятора сбоев.
// В production симулятор всегда выключен.
type SimulatorConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	FailureRate float64 `mapstructure:"failure_rate"`
}

// ============================================
// Log Configuration
// ============================================

// LogConfig - конфигурация логирования.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr
}

// ============================================
// Configuration Loading
// ============================================

// Load загружает конфигурацию из файла и переменных окружения.
//
// configPath - путь к директории с конфигурацией (например, "configs")
// configName - имя файла конфигурации без расширения (например, "config")
func Load(configPath, configName string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/payflow")

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Файл не найден - используем defaults и env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv загружает конфигурацию только из переменных окружения.
func LoadFromEnv() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults устанавливает значения по умолчанию.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "PayFlow")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", true)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "payflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Bus defaults
	v.SetDefault("bus.driver", "redis")
	v.SetDefault("bus.nats_url", "nats://localhost:4222")

	// Queue defaults
	v.SetDefault("queue.webhook_attempts", 5)
	v.SetDefault("queue.webhook_backoff", "1s")
	v.SetDefault("queue.webhook_concurrency", 4)
	v.SetDefault("queue.notification_attempts", 3)
	v.SetDefault("queue.notification_backoff", "1s")
	v.SetDefault("queue.notification_concurrency", 2)
	v.SetDefault("queue.stalled_after", "30s")

	// Webhook defaults
	v.SetDefault("webhook.request_timeout", "10s")
	v.SetDefault("webhook.deactivation_threshold", 10)

	// Reconciler defaults
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.sweep_interval", "30s")
	v.SetDefault("reconciler.stall_threshold", "60s")

	// Simulator defaults
	v.SetDefault("simulator.enabled", false)
	v.SetDefault("simulator.failure_rate", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
}

// bindEnvVars привязывает переменные окружения.
func bindEnvVars(v *viper.Viper) {
	// Database (обычно передаётся через env в production)
	_ = v.BindEnv("database.host", "PAYFLOW_DATABASE_HOST", "DB_HOST")
	_ = v.BindEnv("database.port", "PAYFLOW_DATABASE_PORT", "DB_PORT")
	_ = v.BindEnv("database.user", "PAYFLOW_DATABASE_USER", "DB_USER")
	_ = v.BindEnv("database.password", "PAYFLOW_DATABASE_PASSWORD", "DB_PASSWORD")
	_ = v.BindEnv("database.database", "PAYFLOW_DATABASE_DATABASE", "DB_NAME")

	// Redis
	_ = v.BindEnv("redis.host", "PAYFLOW_REDIS_HOST", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "PAYFLOW_REDIS_PORT", "REDIS_PORT")
	_ = v.BindEnv("redis.password", "PAYFLOW_REDIS_PASSWORD", "REDIS_PASSWORD")

	// Bus
	_ = v.BindEnv("bus.driver", "PAYFLOW_BUS_DRIVER", "BUS_DRIVER")
	_ = v.BindEnv("bus.nats_url", "PAYFLOW_BUS_NATS_URL", "NATS_URL")

	// App
	_ = v.BindEnv("app.environment", "PAYFLOW_APP_ENVIRONMENT", "ENVIRONMENT", "ENV")
}

// ============================================
// Configuration Validation
// ============================================

// Validate валидирует конфигурацию.
func (c *Config) Validate() error {
	if c.App.IsProduction() && c.Simulator.Enabled {
		return fmt.Errorf("failure simulator must be disabled in production")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	switch c.Bus.Driver {
	case "redis", "nats", "memory":
	default:
		return fmt.Errorf("unknown bus driver: %s", c.Bus.Driver)
	}
	if c.Bus.Driver == "nats" && c.Bus.NATSURL == "" {
		return fmt.Errorf("nats url is required for the nats bus driver")
	}

	if c.Queue.WebhookAttempts <= 0 || c.Queue.NotificationAttempts <= 0 {
		return fmt.Errorf("queue attempts must be positive")
	}
	if c.Webhook.DeactivationThreshold <= 0 {
		return fmt.Errorf("webhook deactivation threshold must be positive")
	}
	if c.Simulator.FailureRate < 0 || c.Simulator.FailureRate > 1 {
		return fmt.Errorf("simulator failure rate must be within [0, 1]")
	}

	return nil
}

// ============================================
// Development Helpers
// ============================================

// Development возвращает конфигурацию для разработки.
func Development() *Config {
	return &Config{
		App: AppConfig{
			Name:        "PayFlow",
			Version:     "dev",
			Environment: "development",
			Debug:       true,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Database:        "payflow",
			SSLMode:         "disable",
			MaxConnections:  10,
			MinConnections:  2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Bus: BusConfig{
			Driver:  "redis",
			NATSURL: "nats://localhost:4222",
		},
		Queue: QueueConfig{
			WebhookAttempts:         5,
			WebhookBackoff:          time.Second,
			WebhookConcurrency:      4,
			NotificationAttempts:    3,
			NotificationBackoff:     time.Second,
			NotificationConcurrency: 2,
			StalledAfter:            30 * time.Second,
		},
		Webhook: WebhookConfig{
			RequestTimeout:        10 * time.Second,
			DeactivationThreshold: 10,
		},
		Reconciler: ReconcilerConfig{
			Enabled:        true,
			SweepInterval:  30 * time.Second,
			StallThreshold: 60 * time.Second,
		},
		Simulator: SimulatorConfig{
			Enabled:     false,
			FailureRate: 0,
		},
		Log: LogConfig{
			Level:  "debug",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Test возвращает конфигурацию для тестов.
func Test() *Config {
	cfg := Development()
	cfg.App.Environment = "test"
	cfg.Database.Database = "payflow_test"
	cfg.Bus.Driver = "memory"
	cfg.Log.Level = "error" // Меньше шума в тестах
	return cfg
}
