package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/sso-audit/config"
	"github.com/upb/sso-audit/handlers"
	"github.com/upb/sso-audit/internal/observability"
	"github.com/upb/sso-audit/middleware"
	"github.com/upb/sso-audit/repositories"
	"github.com/upb/sso-audit/repositories/postgres"
	"github.com/upb/sso-audit/repositories/redis"
	"github.com/upb/sso-audit/services/alerting"
	"github.com/upb/sso-audit/services/audit"
	"github.com/upb/sso-audit/services/query"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos        *repositories.Repositories
	TxManager    repositories.TransactionManager
	SessionCache repositories.SessionCache

	// Engine
	Audit *audit.Service
	Query *query.Service

	// HTTP
	AuthMiddleware  *middleware.AuthMiddleware
	RateLimiter     *middleware.RateLimiter
	EventHandler    *handlers.EventHandler
	WorkflowHandler *handlers.WorkflowHandler
	SessionHandler  *handlers.SessionHandler
	HealthHandler   *handlers.HealthHandler

	stopLimiter context.CancelFunc
}

// cacheHealth is implemented by session caches that can be probed and closed
type cacheHealth interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initCache(ctx, cfg); err != nil {
		_ = deps.RepoFactory.Close()
		return nil, fmt.Errorf("failed to initialize session cache: %w", err)
	}

	if err := deps.initEngine(cfg); err != nil {
		_ = deps.closeStores()
		return nil, fmt.Errorf("failed to initialize audit engine: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL database connection and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	// Test the connection
	if err := d.DB.PingContext(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := factory.InitSchema(ctx); err != nil {
			_ = factory.Close()
			return fmt.Errorf("failed to initialize audit schema: %w", err)
		}
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
}

// initCache connects the optional Redis session mirror
func (d *Dependencies) initCache(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.Addr == "" {
		d.Logger.Info("redis not configured, session mirror disabled")
		return nil
	}

	cache, err := redis.NewSessionCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL, d.Logger)
	if err != nil {
		return err
	}
	if probe, ok := cache.(cacheHealth); ok {
		if err := probe.HealthCheck(ctx); err != nil {
			// the mirror is optional; sessions are still served from memory and postgres
			d.Logger.Warn("redis unreachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	d.SessionCache = cache
	d.Logger.Info("session mirror enabled", zap.String("addr", cfg.Redis.Addr))
	return nil
}

// initEngine loads the rule tables and starts the audit engine
func (d *Dependencies) initEngine(cfg *config.Config) error {
	rules, tables, err := LoadTables(cfg.Audit, d.Logger)
	if err != nil {
		return err
	}

	d.Audit = audit.NewService(audit.SettingsFromConfig(cfg, rules, tables), audit.Dependencies{
		Repos:     d.Repos,
		TxManager: d.TxManager,
		Cache:     d.SessionCache,
		Notifier:  alerting.NewLogNotifier(d.Logger),
		Metrics:   d.Metrics,
	}, d.Logger)
	if err := d.Audit.Start(); err != nil {
		return err
	}

	d.Query = query.NewService(d.Repos, d.SessionCache, d.Audit, d.Logger)

	d.Logger.Info("audit engine started",
		zap.Int("workflow_rules", len(rules)),
		zap.Int("tool_categories", len(tables.ToolCategories)),
		zap.Duration("flush_interval", cfg.Audit.FlushInterval))
	return nil
}

// initHTTP builds the middleware and handlers
func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.AuthMiddleware = NewAuthMiddleware(cfg.Auth, d.Logger)

	if cfg.RateLimit.Enabled {
		d.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, d.Logger)
		ctx, cancel := context.WithCancel(context.Background())
		d.stopLimiter = cancel
		go d.RateLimiter.Run(ctx)
	}

	checks := map[string]handlers.CheckFunc{"database": d.DB.HealthCheck}
	if probe, ok := d.SessionCache.(cacheHealth); ok {
		checks["redis"] = probe.HealthCheck
	}

	d.EventHandler = handlers.NewEventHandler(d.Audit, d.Query, d.Logger)
	d.WorkflowHandler = handlers.NewWorkflowHandler(d.Audit, d.Query, d.Logger)
	d.SessionHandler = handlers.NewSessionHandler(d.Query, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(checks, d.Audit, d.Logger)
}

// LoadTables reads the workflow rules and enrichment tables. A broken rule
// file is fatal; a broken enrichment file degrades enrichment instead.
func LoadTables(cfg config.AuditConfig, logger *zap.Logger) ([]config.WorkflowRule, *config.EnrichmentTables, error) {
	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, nil, err
	}

	tables, err := config.LoadEnrichmentTables(cfg.EnrichmentFile)
	if err != nil {
		logger.Error("enrichment tables unavailable, events will be tagged degraded_enrichment",
			zap.String("path", cfg.EnrichmentFile),
			zap.Error(err))
	}
	return rules, tables, nil
}

// NewAuthMiddleware enables HS256 token auth when a secret is configured
func NewAuthMiddleware(cfg config.AuthConfig, logger *zap.Logger) *middleware.AuthMiddleware {
	if cfg.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set, API authentication disabled")
		return middleware.NewAuthMiddleware(nil, logger)
	}
	return middleware.NewAuthMiddleware(middleware.NewHMACValidator(cfg.JWTSecret, cfg.Issuer), logger)
}

// Close gracefully shuts down all dependencies. The audit engine is flushed
// before the stores it writes to are closed.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopLimiter != nil {
		d.stopLimiter()
	}

	if d.Audit != nil {
		if err := d.Audit.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final flush incomplete: %w", err))
		}
	}

	if err := d.closeStores(); err != nil {
		errs = append(errs, err)
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}

func (d *Dependencies) closeStores() error {
	var errs []error

	if probe, ok := d.SessionCache.(cacheHealth); ok {
		if err := probe.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.SessionCache = nil
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.RepoFactory = nil
	}

	return errors.Join(errs...)
}
