package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Audit         AuditConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Redis         RedisConfig
	Alerts        AlertsConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// AuditConfig holds the correlation engine settings
type AuditConfig struct {
	RetentionCriticalDays  int
	RetentionStandardDays  int
	RetentionShortTermDays int
	RetentionMinimalDays   int

	PIIMaskingEnabled bool
	PIIFields         []string // top-level event fields
	PIINestedFields   []string // action_details keys whose maps are masked one level down

	RulesFile      string // workflow rule table (YAML); built-in rules when empty
	EnrichmentFile string // tool category and severity tables (YAML); built-in tables when empty

	SnapshotEvery       int
	FlushInterval       time.Duration
	FlushTimeout        time.Duration
	WorkflowMaxDuration time.Duration

	WriterBufferSize int
	WriterWorkers    int
	BatchMaxEvents   int

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// AuthConfig holds service-token authentication settings.
// Authentication is disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// RateLimitConfig holds per-client ingestion limits
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// RedisConfig holds the optional session mirror connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// AlertsConfig holds the real-time alert check thresholds
type AlertsConfig struct {
	Enabled              bool
	AuthFailureThreshold int
	AuthFailureWindow    time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Database: loadDatabaseConfig(),
		Audit: AuditConfig{
			RetentionCriticalDays:  getEnvAsInt("AUDIT_RETENTION_CRITICAL_DAYS", 2555),
			RetentionStandardDays:  getEnvAsInt("AUDIT_RETENTION_STANDARD_DAYS", 1095),
			RetentionShortTermDays: getEnvAsInt("AUDIT_RETENTION_SHORT_TERM_DAYS", 90),
			RetentionMinimalDays:   getEnvAsInt("AUDIT_RETENTION_MINIMAL_DAYS", 30),

			PIIMaskingEnabled: getEnvAsBool("AUDIT_PII_MASKING", true),
			PIIFields:         getEnvAsSlice("AUDIT_PII_FIELDS", []string{"user_email", "email"}),
			PIINestedFields:   getEnvAsSlice("AUDIT_PII_NESTED_FIELDS", []string{"user", "target_user", "actor", "metadata"}),

			RulesFile:      getEnv("AUDIT_RULES_FILE", ""),
			EnrichmentFile: getEnv("AUDIT_ENRICHMENT_FILE", ""),

			SnapshotEvery:       getEnvAsInt("AUDIT_SESSION_SNAPSHOT_EVERY", 10),
			FlushInterval:       getEnvAsDuration("AUDIT_FLUSH_INTERVAL", 5*time.Second),
			FlushTimeout:        getEnvAsDuration("AUDIT_FLUSH_TIMEOUT", 10*time.Second),
			WorkflowMaxDuration: getEnvAsDuration("AUDIT_WORKFLOW_MAX_DURATION", 24*time.Hour),

			WriterBufferSize: getEnvAsInt("AUDIT_WRITER_BUFFER", 1000),
			WriterWorkers:    getEnvAsInt("AUDIT_WRITER_WORKERS", 4),
			BatchMaxEvents:   getEnvAsInt("AUDIT_BATCH_MAX_EVENTS", 500),

			BreakerMaxFailures: uint32(getEnvAsInt("AUDIT_BREAKER_MAX_FAILURES", 5)),
			BreakerOpenTimeout: getEnvAsDuration("AUDIT_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 200),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 400),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_SESSION_TTL", 24*time.Hour),
		},
		Alerts: AlertsConfig{
			Enabled:              getEnvAsBool("ALERTS_ENABLED", true),
			AuthFailureThreshold: getEnvAsInt("ALERTS_AUTH_FAILURE_THRESHOLD", 5),
			AuthFailureWindow:    getEnvAsDuration("ALERTS_AUTH_FAILURE_WINDOW", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	a := c.Audit
	if a.RetentionCriticalDays <= 0 || a.RetentionStandardDays <= 0 ||
		a.RetentionShortTermDays <= 0 || a.RetentionMinimalDays <= 0 {
		return fmt.Errorf("retention days must be positive for every policy tier")
	}
	if a.SnapshotEvery <= 0 {
		return fmt.Errorf("session snapshot interval must be positive")
	}
	if a.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if a.FlushTimeout <= 0 {
		return fmt.Errorf("flush timeout must be positive")
	}
	if a.WriterWorkers <= 0 || a.WriterBufferSize <= 0 {
		return fmt.Errorf("writer workers and buffer size must be positive")
	}

	// Service tokens are required in production
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive rps and burst")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			InitSchema:       getEnvAsBool("DB_INIT_SCHEMA", true),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "audit_password"),
		Database:        getEnv("DB_NAME", "audit"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", true),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RetentionDays returns the configured day count for a policy tier name
func (a *AuditConfig) RetentionDays() map[string]int {
	return map[string]int{
		"critical":   a.RetentionCriticalDays,
		"standard":   a.RetentionStandardDays,
		"short_term": a.RetentionShortTermDays,
		"minimal":    a.RetentionMinimalDays,
	}
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads a comma separated list, trimming blanks
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
