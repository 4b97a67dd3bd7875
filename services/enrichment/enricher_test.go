package enrichment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/sso-audit/config"
	"github.com/upb/sso-audit/internal/pii"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/services/workflow"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type stubDetector struct {
	seen []*models.AuditEvent
	obs  workflow.Observation
}

func (s *stubDetector) Observe(event *models.AuditEvent) workflow.Observation {
	copied := *event
	s.seen = append(s.seen, &copied)
	return s.obs
}

func newTestEnricher(maskingEnabled bool, detector WorkflowDetector) *Enricher {
	masker := pii.NewMasker(maskingEnabled, []string{"user_email", "email"}, []string{"target_user"})
	return NewEnricher(config.DefaultEnrichmentTables(), nil, masker, detector, zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })
}

func validEvent() *models.ValidEvent {
	return &models.ValidEvent{EventInput: models.EventInput{
		EventType:       "push",
		EventCategory:   models.CategoryIntegration,
		ToolSlug:        "github",
		IntegrationType: "webhook",
		UserID:          "u1",
		UserEmail:       "john.doe@company.com",
		SessionID:       "s1",
		RequestID:       "r1",
		Action:          "push",
		ActionResult:    models.ResultSuccess,
	}}
}

func TestCorrelationID_Deterministic(t *testing.T) {
	a := CorrelationID("s1", "u1", "github", "r1")
	b := CorrelationID("s1", "u1", "github", "r1")

	assert.Equal(t, a, b)
	assert.Regexp(t, `^corr_[0-9a-f]{16}$`, a)
	assert.NotEqual(t, a, CorrelationID("s1", "u1", "github", "r2"))
	// field boundaries matter
	assert.NotEqual(t, CorrelationID("s1", "u1g", "ithub", "r1"), a)
}

func TestEnrich_CorrelationIDAcrossCalls(t *testing.T) {
	e := newTestEnricher(true, nil)

	first, _ := e.Enrich(validEvent())
	second, _ := e.Enrich(validEvent())

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.Equal(t, CorrelationID("s1", "u1", "github", "r1"), first.CorrelationID)
}

func TestEnrich_CallerCorrelationIDWins(t *testing.T) {
	in := validEvent()
	in.CorrelationID = "deploy-42"

	event, _ := newTestEnricher(true, nil).Enrich(in)

	assert.Equal(t, "deploy-42", event.CorrelationID)
}

func TestEnrich_PIIMasking(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		in := validEvent()
		in.ActionDetails = map[string]interface{}{
			"target_user": map[string]interface{}{"email": "alice@corp.io"},
		}

		event, _ := newTestEnricher(true, nil).Enrich(in)

		assert.Equal(t, "jo***@company.com", event.UserEmail)
		assert.Equal(t, "u1", event.UserID)
		assert.Equal(t, "al***@corp.io", event.ActionDetails["target_user"].(map[string]interface{})["email"])
		// the caller's map is untouched
		assert.Equal(t, "alice@corp.io", in.ActionDetails["target_user"].(map[string]interface{})["email"])
	})

	t.Run("non-ascii address keeps its domain", func(t *testing.T) {
		in := validEvent()
		in.UserEmail = "ñandu@company.com"

		event, _ := newTestEnricher(true, nil).Enrich(in)

		assert.Equal(t, "ña***@company.com", event.UserEmail)
	})

	t.Run("disabled", func(t *testing.T) {
		event, _ := newTestEnricher(false, nil).Enrich(validEvent())
		assert.Equal(t, "john.doe@company.com", event.UserEmail)
	})
}

func TestEnrich_CriticalRetention(t *testing.T) {
	in := validEvent()
	in.EventSeverity = models.SeverityCritical

	event, _ := newTestEnricher(true, nil).Enrich(in)

	assert.Equal(t, models.RetentionCritical, event.RetentionPolicy)
	assert.Equal(t, fixedNow, event.Timestamp)
	assert.Equal(t, fixedNow.Add(2555*24*time.Hour), event.ExpiresAt)
	assert.True(t, event.ExpiresAt.After(event.Timestamp))
}

func TestRetentionFor(t *testing.T) {
	tests := []struct {
		name     string
		severity models.Severity
		category models.EventCategory
		action   string
		want     models.RetentionPolicy
	}{
		{"critical severity", models.SeverityCritical, models.CategoryMonitoring, "view", models.RetentionCritical},
		{"security category", models.SeverityInfo, models.CategorySecurity, "login", models.RetentionCritical},
		{"configuration category", models.SeverityInfo, models.CategoryConfiguration, "update", models.RetentionStandard},
		{"permission action", models.SeverityInfo, models.CategoryMonitoring, "grant_permission", models.RetentionStandard},
		{"monitoring category", models.SeverityInfo, models.CategoryMonitoring, "view", models.RetentionShortTerm},
		{"fallback", models.SeverityInfo, models.CategoryIntegration, "push", models.RetentionStandard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetentionFor(tt.severity, tt.category, tt.action))
		})
	}
}

func TestEnrich_SeverityLookup(t *testing.T) {
	e := newTestEnricher(true, nil)

	in := validEvent()
	in.Action = "login"
	in.ActionResult = models.ResultFailure
	event, _ := e.Enrich(in)
	assert.Equal(t, models.SeverityWarning, event.EventSeverity)

	in = validEvent()
	in.Action = "security_violation"
	in.ActionResult = models.ResultFailure
	event, _ = e.Enrich(in)
	assert.Equal(t, models.SeverityCritical, event.EventSeverity)
	assert.Equal(t, models.RetentionCritical, event.RetentionPolicy)

	event, _ = e.Enrich(validEvent())
	assert.Equal(t, models.SeverityInfo, event.EventSeverity)
}

func TestEnrich_Tags(t *testing.T) {
	in := validEvent()
	in.AuditTags = []string{"release", "tool:github", " release "}

	event, _ := newTestEnricher(true, nil).Enrich(in)

	assert.Equal(t, []string{
		"source_control",
		"tool:github",
		"integration:webhook",
		"action:push",
		"result:success",
		"severity:info",
		"release",
	}, event.AuditTags)
	assert.False(t, event.HasTag(models.TagDegradedEnrichment))
}

func TestEnrich_DegradedEnrichment(t *testing.T) {
	t.Run("unknown tool", func(t *testing.T) {
		in := validEvent()
		in.ToolSlug = "bamboo"

		event, _ := newTestEnricher(true, nil).Enrich(in)

		assert.Equal(t, "integration", event.AuditTags[0])
		assert.True(t, event.HasTag(models.TagDegradedEnrichment))
	})

	t.Run("missing tables", func(t *testing.T) {
		e := NewEnricher(nil, nil, nil, nil, zap.NewNop())

		event, _ := e.Enrich(validEvent())

		assert.True(t, event.HasTag(models.TagDegradedEnrichment))
		assert.Equal(t, models.SeverityInfo, event.EventSeverity)
		assert.NotEmpty(t, event.CorrelationID)
		assert.Equal(t, "john.doe@company.com", event.UserEmail)
	})
}

func TestEnrich_RetentionOverride(t *testing.T) {
	e := NewEnricher(config.DefaultEnrichmentTables(), map[string]int{"short_term": 7}, nil, nil, zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })

	in := validEvent()
	in.EventCategory = models.CategoryMonitoring
	event, _ := e.Enrich(in)

	assert.Equal(t, models.RetentionShortTerm, event.RetentionPolicy)
	assert.Equal(t, fixedNow.AddDate(0, 0, 7), event.ExpiresAt)
}

func TestEnrich_WorkflowDetection(t *testing.T) {
	detector := &stubDetector{obs: workflow.Observation{WorkflowID: "wf-1", Opened: true}}
	in := validEvent()
	in.UserEmail = "john.doe@company.com"

	event, obs := newTestEnricher(true, detector).Enrich(in)

	require.Len(t, detector.seen, 1)
	// the detector sees the event before masking
	assert.Equal(t, "john.doe@company.com", detector.seen[0].UserEmail)
	assert.True(t, obs.Opened)
	require.NotNil(t, event.WorkflowID)
	assert.Equal(t, "wf-1", *event.WorkflowID)
}

func TestEnrich_NoWorkflowMatch(t *testing.T) {
	detector := &stubDetector{}
	in := validEvent()
	in.WorkflowID = "unknown"

	event, _ := newTestEnricher(true, detector).Enrich(in)

	require.Len(t, detector.seen, 1)
	require.NotNil(t, detector.seen[0].WorkflowID)
	assert.Equal(t, "unknown", *detector.seen[0].WorkflowID)
	assert.Nil(t, event.WorkflowID)
}

func TestEnrich_WithCorrelator(t *testing.T) {
	correlator := workflow.NewCorrelator(config.DefaultRules(), 24*time.Hour, zap.NewNop())
	e := newTestEnricher(true, correlator)

	start, startObs := e.Enrich(validEvent())
	require.True(t, startObs.Opened)

	end := validEvent()
	end.ToolSlug = "argocd"
	end.EventType = "deployment"
	end.Action = "deployment"
	endEvent, endObs := e.Enrich(end)

	require.True(t, endObs.Closed)
	assert.Equal(t, *start.WorkflowID, *endEvent.WorkflowID)
	assert.Equal(t, models.WorkflowCompleted, endObs.Snapshot.Workflow.Status)
	assert.ElementsMatch(t, []string{"github", "argocd"}, endObs.Snapshot.Workflow.ToolsInvolved)
	assert.GreaterOrEqual(t, *endObs.Snapshot.Workflow.DurationSeconds, 0.0)
}
