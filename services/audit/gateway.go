package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"github.com/upb/sso-audit/services"
	"go.uber.org/zap"
)

// Default circuit breaker settings
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the storage circuit breaker
type BreakerConfig struct {
	// MaxFailures is the number of consecutive retryable failures before the circuit opens
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again
	OpenTimeout time.Duration
}

// StorageRecorder receives gateway outcomes
type StorageRecorder interface {
	StorageError(op string, retryable bool)
	SetBreakerState(state int)
	SessionSnapshot(ok bool)
}

// Gateway is the single write path into durable storage. Writes go through
// a circuit breaker that only counts retryable failures, so constraint
// violations never open it.
type Gateway struct {
	repos    *repositories.Repositories
	txMgr    repositories.TransactionManager
	cache    repositories.SessionCache
	breaker  *gobreaker.CircuitBreaker[struct{}]
	recorder StorageRecorder
	logger   *zap.Logger
}

// NewGateway creates a persistence gateway. txMgr, cache and recorder may be nil.
func NewGateway(repos *repositories.Repositories, txMgr repositories.TransactionManager, cache repositories.SessionCache,
	cfg BreakerConfig, recorder StorageRecorder, logger *zap.Logger) *Gateway {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	if recorder == nil {
		recorder = noopStorageRecorder{}
	}

	g := &Gateway{
		repos:    repos,
		txMgr:    txMgr,
		cache:    cache,
		recorder: recorder,
		logger:   logger,
	}
	g.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "audit-storage",
		MaxRequests: 1,
		Interval:    defaultBreakerInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			recorder.SetBreakerState(int(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !repositories.IsRetryable(err)
		},
	})
	return g
}

// StoreEvent appends an event. When workflows are given, the event and the
// workflow upserts commit in one transaction.
func (g *Gateway) StoreEvent(ctx context.Context, event *models.AuditEvent, workflows ...*models.Workflow) error {
	return g.execute("store_event", func() error {
		return services.WithTransaction(ctx, g.txMgrFor(len(workflows)), func(ctx context.Context) error {
			if err := g.repos.Events.Insert(ctx, event); err != nil {
				return err
			}
			for _, wf := range workflows {
				if err := g.repos.Workflows.Upsert(ctx, wf); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// UpsertWorkflow writes the workflow record keyed by workflow_id
func (g *Gateway) UpsertWorkflow(ctx context.Context, wf *models.Workflow) error {
	return g.execute("upsert_workflow", func() error {
		return g.repos.Workflows.Upsert(ctx, wf)
	})
}

// SnapshotSession writes a session snapshot and mirrors it to the cache.
// A cache failure is logged and does not fail the snapshot.
func (g *Gateway) SnapshotSession(ctx context.Context, s *models.Session) error {
	err := g.execute("snapshot_session", func() error {
		return g.repos.Sessions.Snapshot(ctx, s)
	})
	g.recorder.SessionSnapshot(err == nil)
	if err != nil {
		return err
	}

	if g.cache != nil {
		if cacheErr := g.cache.Put(ctx, s); cacheErr != nil {
			g.logger.Warn("failed to mirror session snapshot",
				zap.String("session_id", s.SessionID),
				zap.Error(cacheErr))
		}
	}
	return nil
}

// State returns the breaker state name
func (g *Gateway) State() string {
	return g.breaker.State().String()
}

func (g *Gateway) execute(op string, fn func() error) error {
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = repositories.NewRetryable(op, err)
	}
	if !repositories.IsStorageError(err) {
		err = repositories.NewFatal(op, err)
	}
	g.recorder.StorageError(op, repositories.IsRetryable(err))
	return err
}

// txMgrFor returns nil when a single statement needs no transaction
func (g *Gateway) txMgrFor(workflowCount int) repositories.TransactionManager {
	if workflowCount == 0 {
		return nil
	}
	return g.txMgr
}

type noopStorageRecorder struct{}

func (noopStorageRecorder) StorageError(string, bool) {}
func (noopStorageRecorder) SetBreakerState(int)       {}
func (noopStorageRecorder) SessionSnapshot(bool)      {}
