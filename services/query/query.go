// Package query is the read side over persisted audit data. Workflow and
// session lookups prefer the live in-memory state, which is always at
// least as fresh as the stored record.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"github.com/upb/sso-audit/services"
	"go.uber.org/zap"
)

const (
	// DefaultLimit is the page size when none is given
	DefaultLimit = 100
	// MaxLimit caps a single page
	MaxLimit = 1000
)

// LiveState exposes the engine's in-memory registries
type LiveState interface {
	LiveWorkflow(workflowID string) (*models.Workflow, bool)
	ActiveWorkflows() []*models.Workflow
	LiveSession(sessionID string) (*models.Session, bool)
}

// EventQuery filters an event listing
type EventQuery struct {
	ToolSlug      string
	UserID        string
	EventType     string
	EventCategory models.EventCategory
	ActionResult  models.ActionResult
	Start         *time.Time
	End           *time.Time
	Limit         int
}

// Service answers read queries
type Service struct {
	repos  *repositories.Repositories
	cache  repositories.SessionCache
	live   LiveState
	logger *zap.Logger
}

// NewService creates a query service. cache and live may be nil.
func NewService(repos *repositories.Repositories, cache repositories.SessionCache, live LiveState, logger *zap.Logger) *Service {
	return &Service{
		repos:  repos,
		cache:  cache,
		live:   live,
		logger: logger,
	}
}

// GetEvents lists events newest first
func (s *Service) GetEvents(ctx context.Context, q EventQuery) ([]*models.AuditEvent, error) {
	filter, limit, err := q.normalize()
	if err != nil {
		return nil, err
	}

	events, err := s.repos.Events.Find(ctx, filter, limit)
	if err != nil {
		return nil, services.WrapStorage("failed to list audit events", err)
	}
	return nonNil(events), nil
}

// GetEvent retrieves one event by id
func (s *Service) GetEvent(ctx context.Context, id string) (*models.AuditEvent, error) {
	eventID, err := uuid.Parse(id)
	if err != nil {
		return nil, services.ErrEventNotFound
	}

	event, err := s.repos.Events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrEventNotFound
		}
		return nil, services.WrapStorage("failed to get audit event", err)
	}
	return event, nil
}

// GetCorrelatedEvents returns every event sharing the correlation id, oldest first
func (s *Service) GetCorrelatedEvents(ctx context.Context, correlationID string) ([]*models.AuditEvent, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return nil, services.NewValidationError("invalid query", map[string]string{
			"correlation_id": "correlation_id is required",
		})
	}

	events, err := s.repos.Events.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, services.WrapStorage("failed to get correlated events", err)
	}
	return nonNil(events), nil
}

// GetWorkflowEvents returns a workflow's events joined with its metadata
func (s *Service) GetWorkflowEvents(ctx context.Context, workflowID string) ([]*repositories.WorkflowEvent, error) {
	if _, err := uuid.Parse(workflowID); err != nil {
		return nil, services.NewWorkflowNotFound(workflowID)
	}

	events, err := s.repos.Events.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		return nil, services.WrapStorage("failed to get workflow events", err)
	}
	if events == nil {
		events = []*repositories.WorkflowEvent{}
	}
	return events, nil
}

// GetWorkflow returns the live workflow when it is still tracked, else the stored record
func (s *Service) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	if _, err := uuid.Parse(workflowID); err != nil {
		return nil, services.NewWorkflowNotFound(workflowID)
	}
	if s.live != nil {
		if wf, ok := s.live.LiveWorkflow(workflowID); ok {
			return wf, nil
		}
	}

	wf, err := s.repos.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewWorkflowNotFound(workflowID)
		}
		return nil, services.WrapStorage("failed to get workflow", err)
	}
	return wf, nil
}

// ActiveWorkflows returns the live registry, oldest first
func (s *Service) ActiveWorkflows() []*models.Workflow {
	if s.live == nil {
		return []*models.Workflow{}
	}
	return s.live.ActiveWorkflows()
}

// GetSession returns the live aggregate, then the cached snapshot, then the stored one
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, services.ErrSessionNotFound
	}
	if s.live != nil {
		if sess, ok := s.live.LiveSession(sessionID); ok {
			return sess, nil
		}
	}

	if s.cache != nil {
		sess, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			s.logger.Warn("session cache lookup failed, reading from database",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	sess, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "session not found", nil).
				WithDetail("session_id", sessionID)
		}
		return nil, services.WrapStorage("failed to get session", err)
	}
	return sess, nil
}

// GetStatistics returns grouped aggregates over the filtered events
func (s *Service) GetStatistics(ctx context.Context, q EventQuery) ([]*repositories.EventStatistic, error) {
	filter, _, err := q.normalize()
	if err != nil {
		return nil, err
	}

	stats, err := s.repos.Events.Statistics(ctx, filter)
	if err != nil {
		return nil, services.WrapStorage("failed to compute statistics", err)
	}
	if stats == nil {
		stats = []*repositories.EventStatistic{}
	}
	return stats, nil
}

// normalize validates the query and applies the page size rules
func (q EventQuery) normalize() (repositories.EventFilter, int, error) {
	fields := make(map[string]string)

	limit := q.Limit
	switch {
	case limit < 0:
		fields["limit"] = "limit must not be negative"
	case limit == 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	if q.EventCategory != "" && !validCategory(q.EventCategory) {
		fields["event_category"] = fmt.Sprintf("unknown event category %q", q.EventCategory)
	}
	if q.ActionResult != "" && !validResult(q.ActionResult) {
		fields["action_result"] = fmt.Sprintf("unknown action result %q", q.ActionResult)
	}
	if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
		fields["end"] = "end must not be before start"
	}

	if len(fields) > 0 {
		return repositories.EventFilter{}, 0, services.NewValidationError("invalid query", fields)
	}

	return repositories.EventFilter{
		ToolSlug:      strings.ToLower(strings.TrimSpace(q.ToolSlug)),
		UserID:        strings.TrimSpace(q.UserID),
		EventType:     strings.ToLower(strings.TrimSpace(q.EventType)),
		EventCategory: q.EventCategory,
		ActionResult:  q.ActionResult,
		Start:         q.Start,
		End:           q.End,
	}, limit, nil
}

func validCategory(c models.EventCategory) bool {
	for _, v := range models.ValidCategories() {
		if v == c {
			return true
		}
	}
	return false
}

func validResult(r models.ActionResult) bool {
	for _, v := range models.ValidResults() {
		if v == r {
			return true
		}
	}
	return false
}

func nonNil(events []*models.AuditEvent) []*models.AuditEvent {
	if events == nil {
		return []*models.AuditEvent{}
	}
	return events
}
