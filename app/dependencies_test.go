package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/sso-audit/config"
	"github.com/upb/sso-audit/repositories/postgres"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization with all components", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		// Skip if database not available
		if !isDatabaseAvailable(t, cfg) {
			t.Skip("database not available")
		}

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Verify infrastructure
		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.DB)
		assert.NotNil(t, deps.Logger)

		// Verify repositories
		assert.NotNil(t, deps.Repos.Events)
		assert.NotNil(t, deps.Repos.Workflows)
		assert.NotNil(t, deps.Repos.Sessions)
		assert.NotNil(t, deps.TxManager)
		assert.Nil(t, deps.SessionCache)

		// Verify engine and HTTP surface
		assert.NotNil(t, deps.Audit)
		assert.NotNil(t, deps.Query)
		assert.NotNil(t, deps.EventHandler)
		assert.NotNil(t, deps.HealthHandler)
		assert.False(t, deps.AuthMiddleware.Enabled())
		assert.Nil(t, deps.RateLimiter)

		err = deps.Close(ctx)
		assert.NoError(t, err)
	})

	t.Run("database connection failure", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Database.Host = "127.0.0.1"
		cfg.Database.Port = 1
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		// Skip if database not available
		if !isDatabaseAvailable(t, cfg) {
			t.Skip("database not available")
		}

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)

		assert.NoError(t, deps.Close(ctx))
		assert.True(t, deps.Audit.Stats().ShuttingDown)

		// a second close is a no-op
		assert.NoError(t, deps.Close(ctx))
	})
}

func TestLoadTables(t *testing.T) {
	logger := zap.NewNop()

	t.Run("built-in tables without files", func(t *testing.T) {
		rules, tables, err := LoadTables(config.AuditConfig{}, logger)
		require.NoError(t, err)

		assert.Equal(t, config.DefaultRules(), rules)
		assert.NotEmpty(t, tables.ToolCategories)
	})

	t.Run("broken rule file is fatal", func(t *testing.T) {
		path := writeFile(t, "rules.yaml", "workflows:\n  - type: deploy\n    start: [github.push]\n")

		_, _, err := LoadTables(config.AuditConfig{RulesFile: path}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "end key")
	})

	t.Run("missing enrichment file degrades", func(t *testing.T) {
		cfg := config.AuditConfig{EnrichmentFile: filepath.Join(t.TempDir(), "absent.yaml")}

		rules, tables, err := LoadTables(cfg, logger)
		require.NoError(t, err)

		assert.NotEmpty(t, rules)
		require.NotNil(t, tables)
		assert.Empty(t, tables.ToolCategories)
	})

	t.Run("custom files", func(t *testing.T) {
		rulesPath := writeFile(t, "rules.yaml", `
workflows:
  - type: access_review
    start: [okta.review_started]
    end: [okta.review_closed]
    max_duration: 72h
`)
		tablesPath := writeFile(t, "tables.yaml", `
tool_categories:
  okta: identity
severities:
  review_failure: warning
`)

		rules, tables, err := LoadTables(config.AuditConfig{RulesFile: rulesPath, EnrichmentFile: tablesPath}, logger)
		require.NoError(t, err)

		require.Len(t, rules, 1)
		assert.Equal(t, "access_review", rules[0].Type)
		assert.Equal(t, 72*time.Hour, rules[0].MaxDuration)
		assert.Equal(t, "identity", tables.ToolCategories["okta"])
		assert.Equal(t, "warning", tables.Severities["review_failure"])
	})
}

func TestNewAuthMiddleware(t *testing.T) {
	logger := zap.NewNop()

	assert.False(t, NewAuthMiddleware(config.AuthConfig{}, logger).Enabled())
	assert.True(t, NewAuthMiddleware(config.AuthConfig{JWTSecret: "s3cret", Issuer: "sso"}, logger).Enabled())
}

// Test helpers

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: config.DatabaseConfig{
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            5432,
			User:            getEnvOrDefault("DB_USER", "dev"),
			Password:        getEnvOrDefault("DB_PASSWORD", "audit_password"),
			Database:        getEnvOrDefault("DB_NAME", "audit_test"),
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			InitSchema:      true,
		},
		Audit: config.AuditConfig{
			PIIMaskingEnabled:   true,
			PIIFields:           []string{"user_email"},
			SnapshotEvery:       10,
			FlushInterval:       time.Hour,
			FlushTimeout:        5 * time.Second,
			WorkflowMaxDuration: 24 * time.Hour,
			WriterBufferSize:    10,
			WriterWorkers:       1,
			BatchMaxEvents:      500,
			BreakerMaxFailures:  5,
			BreakerOpenTimeout:  30 * time.Second,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "debug",
			LogFormat:      "json",
			MetricsEnabled: false,
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func isDatabaseAvailable(t *testing.T, cfg *config.Config) bool {
	logger := zap.NewNop()
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return false
	}
	defer factory.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	return factory.GetDB().PingContext(ctx) == nil
}
