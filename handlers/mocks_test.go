package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"github.com/upb/sso-audit/services/audit"
	"github.com/upb/sso-audit/services/query"
)

// MockIngestService is a mock implementation of IngestService
type MockIngestService struct {
	mock.Mock
}

func (m *MockIngestService) Ingest(ctx context.Context, raw *models.EventInput) (*audit.IngestResult, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.IngestResult), args.Error(1)
}

func (m *MockIngestService) IngestBatch(ctx context.Context, raws []*models.EventInput) (*audit.BatchResult, error) {
	args := m.Called(ctx, raws)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.BatchResult), args.Error(1)
}

func (m *MockIngestService) CompleteWorkflow(ctx context.Context, workflowID string, result models.ActionResult) (*models.Workflow, error) {
	args := m.Called(ctx, workflowID, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockIngestService) Stats() audit.Stats {
	args := m.Called()
	return args.Get(0).(audit.Stats)
}

// MockQueryService is a mock implementation of QueryService
type MockQueryService struct {
	mock.Mock
}

func (m *MockQueryService) GetEvents(ctx context.Context, q query.EventQuery) ([]*models.AuditEvent, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditEvent), args.Error(1)
}

func (m *MockQueryService) GetEvent(ctx context.Context, id string) (*models.AuditEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditEvent), args.Error(1)
}

func (m *MockQueryService) GetCorrelatedEvents(ctx context.Context, correlationID string) ([]*models.AuditEvent, error) {
	args := m.Called(ctx, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditEvent), args.Error(1)
}

func (m *MockQueryService) GetWorkflowEvents(ctx context.Context, workflowID string) ([]*repositories.WorkflowEvent, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repositories.WorkflowEvent), args.Error(1)
}

func (m *MockQueryService) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockQueryService) ActiveWorkflows() []*models.Workflow {
	args := m.Called()
	return args.Get(0).([]*models.Workflow)
}

func (m *MockQueryService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockQueryService) GetStatistics(ctx context.Context, q query.EventQuery) ([]*repositories.EventStatistic, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repositories.EventStatistic), args.Error(1)
}
