package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/sso-audit/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Wrap adopts an existing *sql.DB, used by tests and embedded callers
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// schema creates the audit tables idempotently. Workflow rows that reached a
// terminal status are never updated again; the upsert enforces that.
const schema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		event_type VARCHAR(100) NOT NULL,
		event_category VARCHAR(32) NOT NULL,
		event_severity VARCHAR(16) NOT NULL,
		tool_slug VARCHAR(100) NOT NULL DEFAULT '',
		tool_name VARCHAR(255) NOT NULL DEFAULT '',
		integration_type VARCHAR(100) NOT NULL DEFAULT '',
		user_id VARCHAR(255) NOT NULL DEFAULT '',
		user_email VARCHAR(320) NOT NULL DEFAULT '',
		user_roles TEXT[] NOT NULL DEFAULT '{}',
		user_groups TEXT[] NOT NULL DEFAULT '{}',
		session_id VARCHAR(255) NOT NULL DEFAULT '',
		request_id VARCHAR(255) NOT NULL DEFAULT '',
		correlation_id VARCHAR(255) NOT NULL,
		workflow_id VARCHAR(64),
		action VARCHAR(100) NOT NULL,
		action_result VARCHAR(16) NOT NULL,
		action_details JSONB,
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		processing_time_ms INTEGER,
		error_code VARCHAR(100),
		error_message TEXT,
		timestamp TIMESTAMPTZ NOT NULL,
		retention_policy VARCHAR(16) NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		audit_tags TEXT[] NOT NULL DEFAULT '{}',
		CHECK (expires_at > timestamp)
	);

	CREATE TABLE IF NOT EXISTS audit_workflows (
		workflow_id VARCHAR(64) PRIMARY KEY,
		workflow_type VARCHAR(100) NOT NULL,
		user_id VARCHAR(255) NOT NULL DEFAULT '',
		session_id VARCHAR(255) NOT NULL DEFAULT '',
		tools_involved TEXT[] NOT NULL DEFAULT '{}',
		total_events INTEGER NOT NULL DEFAULT 0,
		successful_events INTEGER NOT NULL DEFAULT 0,
		failed_events INTEGER NOT NULL DEFAULT 0,
		workflow_status VARCHAR(16) NOT NULL,
		workflow_start TIMESTAMPTZ NOT NULL,
		workflow_end TIMESTAMPTZ,
		duration_seconds DOUBLE PRECISION,
		last_event_at TIMESTAMPTZ NOT NULL,
		CHECK (successful_events + failed_events <= total_events)
	);

	CREATE TABLE IF NOT EXISTS audit_sessions (
		session_id VARCHAR(255) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL DEFAULT '',
		tools_accessed TEXT[] NOT NULL DEFAULT '{}',
		total_events INTEGER NOT NULL DEFAULT 0,
		total_tool_launches INTEGER NOT NULL DEFAULT 0,
		session_start TIMESTAMPTZ NOT NULL,
		session_last_activity TIMESTAMPTZ NOT NULL,
		snapshot_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_correlation_id ON audit_events(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_workflow_id ON audit_events(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_session ON audit_events(user_id, session_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_tool_slug ON audit_events(tool_slug);
	CREATE INDEX IF NOT EXISTS idx_audit_events_expires_at ON audit_events(expires_at);
	CREATE INDEX IF NOT EXISTS idx_audit_workflows_status ON audit_workflows(workflow_status);
`

// InitSchema initializes the audit database schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("audit schema initialized successfully")
	return nil
}
