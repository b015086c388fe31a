package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

// Config captures runtime configuration for the API service.
type Config struct {
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Gateway     GatewayConfig
	Auth        AuthConfig
	Scheduler   SchedulerConfig
	Sweeper     SweeperConfig
	Notify      NotifyConfig
	Idempotency IdempotencyConfig
	Telemetry   TelemetryConfig
	Service     ServiceConfig
}

type HTTPConfig struct {
	Port          int
	MetricsPath   string
	ShutdownGrace time.Duration
}

type DatabaseConfig struct {
	URL             string
	AutoMigrate     bool
	MigrationsPath  string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// RedisConfig locates the Redis used for the scheduler run lock. An empty
// Addr falls back to an in-process lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GatewayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	PlanIDs       map[domain.Frequency]string
	TotalCount    int
	MaxAttempts   uint
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type SchedulerConfig struct {
	Enabled     bool
	RunHour     int
	Location    *time.Location
	Workers     int
	MaxAttempts uint
	UnitTimeout time.Duration
	LockTTL     time.Duration
}

type SweeperConfig struct {
	Interval time.Duration
	Grace    time.Duration
	Batch    int
}

type NotifyConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
	Locale      string
}

type IdempotencyConfig struct {
	TTL           time.Duration
	PurgeInterval time.Duration
}

type TelemetryConfig struct {
	LogLevel       string
	OTelEndpoint   string
	OTelInsecure   bool
	EnableTracing  bool
	EnableMetrics  bool
	SampleRate     float64
	MetricInterval time.Duration
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

const (
	defaultHTTPPort       = 8080
	defaultMetricsPath    = "/metrics"
	defaultShutdownGrace  = 15 * time.Second
	defaultMigrationsPath = "migrations"
	defaultServiceName    = "orders-api"
	defaultServiceVersion = "0.1.0"
	defaultEnvironment    = "development"
	defaultLogLevel       = "info"
	defaultOTelSampleRate = 1.0
	defaultGatewayURL     = "https://api.razorpay.com"
	defaultTimezone       = "Asia/Kolkata"
)

// Load reads configuration from environment variables, applying defaults
// when needed. A .env file in the working directory is read first if present;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	p := &parser{}
	otelEndpoint := getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:          p.getInt("API_HTTP_PORT", defaultHTTPPort),
			MetricsPath:   getEnvOrDefault("API_METRICS_PATH", defaultMetricsPath),
			ShutdownGrace: p.getDuration("API_SHUTDOWN_GRACE", defaultShutdownGrace),
		},
		Database: DatabaseConfig{
			URL:             databaseURL(),
			AutoMigrate:     getBoolEnv("AUTO_MIGRATE", true),
			MigrationsPath:  getEnvOrDefault("MIGRATIONS_PATH", defaultMigrationsPath),
			MaxConns:        int32(p.getInt("DB_MAX_CONNS", 25)),
			MinConns:        int32(p.getInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime: p.getDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       p.getInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			BaseURL:       getEnvOrDefault("GATEWAY_BASE_URL", defaultGatewayURL),
			KeyID:         os.Getenv("GATEWAY_KEY_ID"),
			KeySecret:     os.Getenv("GATEWAY_KEY_SECRET"),
			WebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),
			Timeout:       p.getDuration("GATEWAY_TIMEOUT", 10*time.Second),
			RatePerSecond: p.getFloat("GATEWAY_RATE_PER_SECOND", 20),
			Burst:         p.getInt("GATEWAY_BURST", 10),
			PlanIDs: map[domain.Frequency]string{
				domain.FrequencyDaily:         os.Getenv("GATEWAY_PLAN_DAILY"),
				domain.FrequencyAlternateDays: os.Getenv("GATEWAY_PLAN_ALTERNATE_DAYS"),
				domain.FrequencyWeekly:        os.Getenv("GATEWAY_PLAN_WEEKLY"),
			},
			TotalCount:  p.getInt("GATEWAY_SUBSCRIPTION_TOTAL_COUNT", 365),
			MaxAttempts: uint(p.getInt("GATEWAY_MAX_ATTEMPTS", 3)),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    os.Getenv("JWT_ISSUER"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getBoolEnv("SCHEDULER_ENABLED", true),
			RunHour:     p.getInt("SCHEDULER_RUN_HOUR", 6),
			Location:    p.getLocation("SCHEDULER_TIMEZONE", defaultTimezone),
			Workers:     p.getInt("SCHEDULER_WORKERS", 4),
			MaxAttempts: uint(p.getInt("SCHEDULER_MAX_ATTEMPTS", 3)),
			UnitTimeout: p.getDuration("SCHEDULER_UNIT_TIMEOUT", 30*time.Second),
			LockTTL:     p.getDuration("SCHEDULER_LOCK_TTL", 30*time.Minute),
		},
		Sweeper: SweeperConfig{
			Interval: p.getDuration("SWEEPER_INTERVAL", time.Minute),
			Grace:    p.getDuration("SWEEPER_GRACE", 2*time.Minute),
			Batch:    p.getInt("SWEEPER_BATCH", 50),
		},
		Notify: NotifyConfig{
			QueueSize:   p.getInt("NOTIFY_QUEUE_SIZE", 256),
			Workers:     p.getInt("NOTIFY_WORKERS", 2),
			SendTimeout: p.getDuration("NOTIFY_SEND_TIMEOUT", 5*time.Second),
			Locale:      getEnvOrDefault("NOTIFY_LOCALE", "en-IN"),
		},
		Idempotency: IdempotencyConfig{
			TTL:           p.getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			PurgeInterval: p.getDuration("IDEMPOTENCY_PURGE_INTERVAL", time.Hour),
		},
		Telemetry: TelemetryConfig{
			LogLevel:     getEnvOrDefault("LOG_LEVEL", defaultLogLevel),
			OTelEndpoint: otelEndpoint,
			OTelInsecure: getBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", true),
			// Exporting is opt-in: without a collector both signals stay no-ops.
			EnableTracing:  getBoolEnv("OTEL_ENABLE_TRACING", otelEndpoint != ""),
			EnableMetrics:  getBoolEnv("OTEL_ENABLE_METRICS", otelEndpoint != ""),
			SampleRate:     p.getFloat("OTEL_SAMPLE_RATE", defaultOTelSampleRate),
			MetricInterval: p.getDuration("OTEL_METRIC_INTERVAL", 30*time.Second),
		},
		Service: ServiceConfig{
			Name:        getEnvOrDefault("API_SERVICE_NAME", defaultServiceName),
			Version:     getEnvOrDefault("SERVICE_VERSION", defaultServiceVersion),
			Environment: getEnvOrDefault("ENVIRONMENT", defaultEnvironment),
		},
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Gateway.WebhookSecret == "" {
		errs = append(errs, errors.New("GATEWAY_WEBHOOK_SECRET is required"))
	}
	if c.Scheduler.RunHour < 0 || c.Scheduler.RunHour > 23 {
		errs = append(errs, fmt.Errorf("SCHEDULER_RUN_HOUR must be 0-23, got %d", c.Scheduler.RunHour))
	}
	if c.Scheduler.MaxAttempts == 0 {
		errs = append(errs, errors.New("SCHEDULER_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

// parser collects parse errors so that every bad variable is reported at once.
type parser struct {
	errs []error
}

func (p *parser) getInt(key string, def int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return parsed
}

func (p *parser) getFloat(key string, def float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return parsed
}

func (p *parser) getDuration(key string, def time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return parsed
}

func (p *parser) getLocation(key, def string) *time.Location {
	name := getEnvOrDefault(key, def)
	loc, err := time.LoadLocation(name)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return time.UTC
	}
	return loc
}

func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "orders")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbName, sslMode)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return strings.EqualFold(value, "true")
	}
	return defaultValue
}
