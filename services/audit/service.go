// Package audit runs the ingestion pipeline: validation, enrichment with
// workflow correlation, session aggregation, durable writes and the
// real-time alert check. It also owns the periodic flush of buffered
// workflow and session state.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/upb/sso-audit/config"
	"github.com/upb/sso-audit/internal/observability"
	"github.com/upb/sso-audit/internal/pii"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"github.com/upb/sso-audit/services"
	"github.com/upb/sso-audit/services/alerting"
	"github.com/upb/sso-audit/services/enrichment"
	"github.com/upb/sso-audit/services/session"
	"github.com/upb/sso-audit/services/workflow"
	"go.uber.org/zap"
)

// DefaultBatchMaxEvents caps a batch ingestion request
const DefaultBatchMaxEvents = 500

// Settings configures the engine
type Settings struct {
	Rules               []config.WorkflowRule
	Tables              *config.EnrichmentTables
	RetentionDays       map[string]int
	PIIMaskingEnabled   bool
	PIIFields           []string
	PIINestedFields     []string
	SnapshotEvery       int
	FlushInterval       time.Duration
	FlushTimeout        time.Duration
	WorkflowMaxDuration time.Duration
	BatchMaxEvents      int
	Writer              WriterConfig
	Breaker             BreakerConfig
	Alerts              alerting.Config
}

// SettingsFromConfig maps application configuration onto engine settings
func SettingsFromConfig(cfg *config.Config, rules []config.WorkflowRule, tables *config.EnrichmentTables) Settings {
	a := cfg.Audit
	writer := DefaultWriterConfig()
	writer.BufferSize = a.WriterBufferSize
	writer.WorkerCount = a.WriterWorkers

	return Settings{
		Rules:               rules,
		Tables:              tables,
		RetentionDays:       a.RetentionDays(),
		PIIMaskingEnabled:   a.PIIMaskingEnabled,
		PIIFields:           a.PIIFields,
		PIINestedFields:     a.PIINestedFields,
		SnapshotEvery:       a.SnapshotEvery,
		FlushInterval:       a.FlushInterval,
		FlushTimeout:        a.FlushTimeout,
		WorkflowMaxDuration: a.WorkflowMaxDuration,
		BatchMaxEvents:      a.BatchMaxEvents,
		Writer:              writer,
		Breaker: BreakerConfig{
			MaxFailures: a.BreakerMaxFailures,
			OpenTimeout: a.BreakerOpenTimeout,
		},
		Alerts: alerting.Config{
			Enabled:              cfg.Alerts.Enabled,
			AuthFailureThreshold: cfg.Alerts.AuthFailureThreshold,
			AuthFailureWindow:    cfg.Alerts.AuthFailureWindow,
		},
	}
}

// Dependencies are the collaborators of the engine. Only Repos is required.
type Dependencies struct {
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager
	Cache     repositories.SessionCache
	Notifier  alerting.Notifier
	Metrics   *observability.Metrics
	Clock     func() time.Time
}

// IngestResult is returned for every accepted event
type IngestResult struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	WorkflowID    *string   `json:"workflow_id,omitempty"`
}

// BatchItem reports the outcome of one event of a batch
type BatchItem struct {
	Index         int               `json:"index"`
	ID            *uuid.UUID        `json:"id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	WorkflowID    *string           `json:"workflow_id,omitempty"`
	Error         string            `json:"error,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// BatchResult summarizes a batch ingestion
type BatchResult struct {
	Accepted int         `json:"accepted"`
	Rejected int         `json:"rejected"`
	Items    []BatchItem `json:"items"`
}

// Stats is a point-in-time view of the engine
type Stats struct {
	Workflows     workflow.Stats `json:"workflows"`
	Sessions      session.Stats  `json:"sessions"`
	Writer        WriterStats    `json:"writer"`
	BreakerState  string         `json:"breaker_state"`
	WorkflowTypes []string       `json:"workflow_types"`
	ShuttingDown  bool           `json:"shutting_down"`
}

// Service is the audit ingestion engine
type Service struct {
	settings  Settings
	validator *Validator
	enricher  *enrichment.Enricher
	workflows *workflow.Correlator
	sessions  *session.Aggregator
	gateway   *Gateway
	writer    *Writer
	flusher   *Flusher
	alerts    *alerting.Checker
	metrics   *observability.Metrics
	now       func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	started bool
	closing atomic.Bool
}

// NewService wires the engine. Registries are created here and live until Shutdown.
func NewService(settings Settings, deps Dependencies, logger *zap.Logger) *Service {
	if settings.Tables == nil {
		settings.Tables = config.DefaultEnrichmentTables()
	}
	if settings.Rules == nil {
		settings.Rules = config.DefaultRules()
	}
	if settings.BatchMaxEvents <= 0 {
		settings.BatchMaxEvents = DefaultBatchMaxEvents
	}
	if settings.FlushTimeout <= 0 {
		settings.FlushTimeout = 10 * time.Second
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = alerting.NewLogNotifier(logger)
	}

	s := &Service{
		settings:  settings,
		validator: NewValidator(),
		metrics:   deps.Metrics,
		now:       now,
		logger:    logger,
	}

	s.workflows = workflow.NewCorrelator(settings.Rules, settings.WorkflowMaxDuration, logger)
	s.sessions = session.NewAggregator(settings.SnapshotEvery, s, logger)
	masker := pii.NewMasker(settings.PIIMaskingEnabled, settings.PIIFields, settings.PIINestedFields)
	s.enricher = enrichment.NewEnricher(settings.Tables, settings.RetentionDays, masker, s.workflows, logger).WithClock(now)
	s.gateway = NewGateway(deps.Repos, deps.TxManager, deps.Cache, settings.Breaker, deps.Metrics, logger)
	s.writer = NewWriter(settings.Writer, deps.Metrics, logger)
	s.flusher = NewFlusher(settings.FlushInterval, settings.FlushTimeout, s.Flush, logger)
	s.alerts = alerting.NewChecker(settings.Alerts, notifier, deps.Metrics, logger)

	return s
}

// Start launches the write-behind workers and the periodic flush
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}
	if err := s.writer.Start(); err != nil {
		return fmt.Errorf("failed to start writer: %w", err)
	}
	if err := s.flusher.Start(); err != nil {
		_ = s.writer.Stop(s.settings.FlushTimeout)
		return fmt.Errorf("failed to start flusher: %w", err)
	}
	s.started = true
	return nil
}

// Ingest runs one event through the pipeline and waits for its durable write
func (s *Service) Ingest(ctx context.Context, raw *models.EventInput) (*IngestResult, error) {
	if s.closing.Load() {
		return nil, services.ErrShuttingDown
	}
	start := time.Now()

	event, obs, err := s.prepare(raw)
	if err != nil {
		return nil, err
	}

	if err := s.persist(ctx, event, obs); err != nil {
		s.logger.Error("failed to store audit event",
			zap.String("event_id", event.ID.String()),
			zap.String("correlation_id", event.CorrelationID),
			zap.Bool("retryable", repositories.IsRetryable(err)),
			zap.Error(err))
		return nil, services.WrapStorage("failed to store audit event", err)
	}

	s.alerts.Check(ctx, event)
	s.metrics.EventIngested(string(event.EventCategory), string(event.ActionResult), time.Since(start))

	return &IngestResult{
		ID:            event.ID,
		CorrelationID: event.CorrelationID,
		WorkflowID:    event.WorkflowID,
	}, nil
}

// IngestBatch runs the in-memory pipeline for every event and hands the
// durable writes to the write-behind workers. Invalid events are reported
// per item and do not affect the rest of the batch.
func (s *Service) IngestBatch(ctx context.Context, raws []*models.EventInput) (*BatchResult, error) {
	if s.closing.Load() {
		return nil, services.ErrShuttingDown
	}
	if len(raws) == 0 {
		return nil, services.NewValidationError("invalid batch", map[string]string{
			"events": "at least one event is required",
		})
	}
	if len(raws) > s.settings.BatchMaxEvents {
		return nil, services.NewValidationError("invalid batch", map[string]string{
			"events": fmt.Sprintf("at most %d events are accepted per batch", s.settings.BatchMaxEvents),
		})
	}

	result := &BatchResult{Items: make([]BatchItem, 0, len(raws))}
	for i, raw := range raws {
		item := BatchItem{Index: i}

		event, obs, err := s.prepare(raw)
		if err != nil {
			item.Error = err.Error()
			if fields, ok := services.GetErrorDetails(err)["fields"].(map[string]string); ok {
				item.Fields = fields
			}
			result.Rejected++
			result.Items = append(result.Items, item)
			continue
		}

		if err := s.writer.SubmitBlocking(ctx, s.eventJob(event, obs)); err != nil {
			// queue unavailable: write in the request instead of losing the event
			if err := s.persist(ctx, event, obs); err != nil {
				item.Error = services.WrapStorage("failed to store audit event", err).Error()
				result.Rejected++
				result.Items = append(result.Items, item)
				continue
			}
			s.alerts.Check(ctx, event)
		}

		id := event.ID
		item.ID = &id
		item.CorrelationID = event.CorrelationID
		item.WorkflowID = event.WorkflowID
		result.Accepted++
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// CompleteWorkflow closes an active workflow explicitly. The closed record
// is written immediately; if that write fails it stays queued for the next
// flush and the call still succeeds.
func (s *Service) CompleteWorkflow(ctx context.Context, workflowID string, result models.ActionResult) (*models.Workflow, error) {
	if !validResult(result) {
		return nil, services.NewValidationError("invalid workflow completion", map[string]string{
			"action_result": "action_result must be one of: success failure partial pending",
		})
	}

	snap, err := s.workflows.Complete(workflowID, result, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.WorkflowClosed(snap.Workflow.WorkflowType, string(snap.Workflow.Status))

	if err := s.gateway.UpsertWorkflow(ctx, snap.Workflow); err != nil {
		s.logger.Warn("failed to persist completed workflow, will retry on next flush",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
	} else {
		s.workflows.Ack(workflowID, snap.Version)
	}
	return snap.Workflow, nil
}

// LiveWorkflow returns a workflow still held in memory
func (s *Service) LiveWorkflow(workflowID string) (*models.Workflow, bool) {
	return s.workflows.Get(workflowID)
}

// ActiveWorkflows returns all active workflows
func (s *Service) ActiveWorkflows() []*models.Workflow {
	return s.workflows.Active()
}

// LiveSession returns a session aggregate held in memory
func (s *Service) LiveSession(sessionID string) (*models.Session, bool) {
	return s.sessions.Get(sessionID)
}

// SubmitSnapshot implements session.SnapshotSink. Snapshots that cannot be
// queued stay dirty and are written by the next flush.
func (s *Service) SubmitSnapshot(snap *session.Snapshot) {
	id, version := snap.Session.SessionID, snap.Version
	job := &WriteJob{
		Kind: "session",
		Key:  id,
		Run: func(ctx context.Context) error {
			return s.gateway.SnapshotSession(ctx, snap.Session)
		},
		Done: func(err error) {
			if err == nil {
				s.sessions.Ack(id, version)
			}
		},
	}
	if err := s.writer.Submit(job); err != nil {
		s.logger.Debug("session snapshot deferred to flush",
			zap.String("session_id", id),
			zap.Error(err))
	}
}

// Flush expires overdue workflows and writes every workflow and session
// changed since its last acknowledged write. Registry state is copied
// under lock and written afterwards. Retryable failures stay pending for
// the next run; fatal ones are logged and dropped.
func (s *Service) Flush(ctx context.Context) error {
	start := time.Now()
	now := s.now().UTC()

	for _, snap := range s.workflows.Expire(now) {
		s.metrics.WorkflowClosed(snap.Workflow.WorkflowType, string(snap.Workflow.Status))
	}

	var attempted, failed int
	var firstErr error
	record := func(err error) {
		attempted++
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, snap := range s.workflows.Pending() {
		if ctx.Err() != nil {
			break
		}
		err := s.gateway.UpsertWorkflow(ctx, snap.Workflow)
		record(err)
		if err == nil || !repositories.IsRetryable(err) {
			if err != nil {
				s.logger.Error("dropping workflow write after fatal error",
					zap.String("workflow_id", snap.Workflow.WorkflowID),
					zap.Error(err))
			}
			s.workflows.Ack(snap.Workflow.WorkflowID, snap.Version)
		}
	}

	for _, snap := range s.sessions.Pending() {
		if ctx.Err() != nil {
			break
		}
		err := s.gateway.SnapshotSession(ctx, snap.Session)
		record(err)
		if err == nil || !repositories.IsRetryable(err) {
			if err != nil {
				s.logger.Error("dropping session snapshot after fatal error",
					zap.String("session_id", snap.Session.SessionID),
					zap.Error(err))
			}
			s.sessions.Ack(snap.Session.SessionID, snap.Version)
		}
	}

	s.alerts.Prune(now)
	wfStats, sessStats := s.workflows.Stats(), s.sessions.Stats()
	s.metrics.SetRegistrySizes(wfStats.Active, sessStats.Live)
	s.metrics.FlushCompleted(time.Since(start))

	if firstErr != nil {
		return fmt.Errorf("flush: %d of %d writes failed: %w", failed, attempted, firstErr)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("flush interrupted: %w", err)
	}
	return nil
}

// Shutdown stops accepting events, cancels the periodic flush, drains the
// write-behind queue and makes one final flush, all within ctx's deadline
// or the configured flush timeout.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.FlushTimeout)
		defer cancel()
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		if err := s.flusher.Stop(remaining(ctx)); err != nil {
			s.logger.Warn("periodic flush did not stop cleanly", zap.Error(err))
		}
		if err := s.writer.Stop(remaining(ctx)); err != nil {
			s.logger.Warn("write-behind queue not fully drained", zap.Error(err))
		}
	}

	err := s.Flush(ctx)
	stats := s.Stats()
	s.logger.Info("audit service stopped",
		zap.Int("active_workflows", stats.Workflows.Active),
		zap.Int("unflushed_workflows", stats.Workflows.Dirty+stats.Workflows.Closing),
		zap.Int("unflushed_sessions", stats.Sessions.Dirty))
	return err
}

// Stats returns engine statistics
func (s *Service) Stats() Stats {
	return Stats{
		Workflows:     s.workflows.Stats(),
		Sessions:      s.sessions.Stats(),
		Writer:        s.writer.Stats(),
		BreakerState:  s.gateway.State(),
		WorkflowTypes: s.workflows.RuleTypes(),
		ShuttingDown:  s.closing.Load(),
	}
}

// prepare runs the in-memory part of the pipeline. Only validation can fail.
func (s *Service) prepare(raw *models.EventInput) (*models.AuditEvent, workflow.Observation, error) {
	valid, err := s.validator.Validate(raw)
	if err != nil {
		s.metrics.EventRejected("validation")
		return nil, workflow.Observation{}, err
	}

	event, obs := s.enricher.Enrich(valid)
	if obs.Snapshot != nil {
		wf := obs.Snapshot.Workflow
		if obs.Opened {
			s.metrics.WorkflowOpened(wf.WorkflowType)
		}
		if obs.Closed {
			s.metrics.WorkflowClosed(wf.WorkflowType, string(wf.Status))
		}
	}
	s.sessions.Touch(event)
	return event, obs, nil
}

// persist writes the event. An event that opened or closed a workflow is
// written together with the workflow record; continuations leave the
// workflow to the periodic flush.
func (s *Service) persist(ctx context.Context, event *models.AuditEvent, obs workflow.Observation) error {
	if obs.Snapshot == nil || !(obs.Opened || obs.Closed) {
		return s.gateway.StoreEvent(ctx, event)
	}
	if err := s.gateway.StoreEvent(ctx, event, obs.Snapshot.Workflow); err != nil {
		return err
	}
	s.workflows.Ack(obs.WorkflowID, obs.Snapshot.Version)
	return nil
}

func (s *Service) eventJob(event *models.AuditEvent, obs workflow.Observation) *WriteJob {
	start := time.Now()
	return &WriteJob{
		Kind: "event",
		Key:  event.ID.String(),
		Run: func(ctx context.Context) error {
			return s.persist(ctx, event, obs)
		},
		Done: func(err error) {
			if err != nil {
				s.logger.Error("audit event write not acknowledged",
					zap.String("event_id", event.ID.String()),
					zap.String("correlation_id", event.CorrelationID),
					zap.Bool("writer_stopped", errors.Is(err, ErrWriterStopped)))
				return
			}
			s.alerts.Check(context.Background(), event)
			s.metrics.EventIngested(string(event.EventCategory), string(event.ActionResult), time.Since(start))
		},
	}
}

func validResult(result models.ActionResult) bool {
	for _, r := range models.ValidResults() {
		if r == result {
			return true
		}
	}
	return false
}

// remaining returns the time left before ctx's deadline
func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return 0
}
