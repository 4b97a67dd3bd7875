// Package enrichment turns validated events into enriched audit records:
// identifiers, correlation id, severity, tags, retention and PII masking.
package enrichment

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/upb/sso-audit/config"
	"github.com/upb/sso-audit/internal/pii"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/services/workflow"
	"go.uber.org/zap"
)

// Default retention day counts per policy tier
var DefaultRetentionDays = map[string]int{
	string(models.RetentionCritical):  2555,
	string(models.RetentionStandard):  1095,
	string(models.RetentionShortTerm): 90,
	string(models.RetentionMinimal):   30,
}

// WorkflowDetector attaches events to workflows
type WorkflowDetector interface {
	Observe(event *models.AuditEvent) workflow.Observation
}

// Enricher computes the derived fields of an audit event. Apart from the
// workflow detector it only reads static tables.
type Enricher struct {
	tables    *config.EnrichmentTables
	retention map[string]int
	masker    *pii.Masker
	detector  WorkflowDetector
	now       func() time.Time
	logger    *zap.Logger
}

// NewEnricher creates an enricher. A nil tables value runs with empty tables
// and every event is tagged degraded_enrichment.
func NewEnricher(tables *config.EnrichmentTables, retentionDays map[string]int, masker *pii.Masker, detector WorkflowDetector, logger *zap.Logger) *Enricher {
	if tables == nil {
		tables = &config.EnrichmentTables{}
	}
	retention := make(map[string]int, len(DefaultRetentionDays))
	for k, v := range DefaultRetentionDays {
		retention[k] = v
	}
	for k, v := range retentionDays {
		if v > 0 {
			retention[k] = v
		}
	}
	return &Enricher{
		tables:    tables,
		retention: retention,
		masker:    masker,
		detector:  detector,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the time source
func (e *Enricher) WithClock(now func() time.Time) *Enricher {
	e.now = now
	return e
}

// Enrich builds the audit record for a validated event and correlates it
// with any matching workflow. It never fails: missing lookup data yields
// defaults plus the degraded_enrichment tag.
func (e *Enricher) Enrich(in *models.ValidEvent) (*models.AuditEvent, workflow.Observation) {
	ts := e.now().UTC()

	event := &models.AuditEvent{
		ID:               uuid.New(),
		EventType:        in.EventType,
		EventCategory:    in.EventCategory,
		ToolSlug:         in.ToolSlug,
		ToolName:         in.ToolName,
		IntegrationType:  in.IntegrationType,
		UserID:           in.UserID,
		UserEmail:        in.UserEmail,
		UserRoles:        in.UserRoles,
		UserGroups:       in.UserGroups,
		SessionID:        in.SessionID,
		RequestID:        in.RequestID,
		Action:           in.Action,
		ActionResult:     in.ActionResult,
		ActionDetails:    in.ActionDetails,
		IPAddress:        in.IPAddress,
		UserAgent:        in.UserAgent,
		ProcessingTimeMs: in.ProcessingTimeMs,
		ErrorCode:        optional(in.ErrorCode),
		ErrorMessage:     optional(in.ErrorMessage),
		Timestamp:        ts,
	}

	event.CorrelationID = in.CorrelationID
	if event.CorrelationID == "" {
		event.CorrelationID = CorrelationID(in.SessionID, in.UserID, in.ToolSlug, in.RequestID)
	}

	event.EventSeverity = e.severity(in)
	category, degraded := e.toolCategory(in)
	event.AuditTags = buildTags(category, event, in.AuditTags, degraded)
	if degraded {
		e.logger.Debug("enrichment degraded",
			zap.String("event_id", event.ID.String()),
			zap.String("tool_slug", in.ToolSlug))
	}

	event.RetentionPolicy = RetentionFor(event.EventSeverity, event.EventCategory, event.Action)
	event.ExpiresAt = ts.AddDate(0, 0, e.retentionDays(event.RetentionPolicy))

	var obs workflow.Observation
	if e.detector != nil {
		if in.WorkflowID != "" {
			event.WithWorkflow(in.WorkflowID)
		}
		obs = e.detector.Observe(event)
		event.WorkflowID = nil
		if obs.WorkflowID != "" {
			event.WithWorkflow(obs.WorkflowID)
		}
	}

	e.maskPII(event)
	return event, obs
}

// CorrelationID derives the grouping key for events that share session,
// user, tool and request. It is not a security token.
func CorrelationID(sessionID, userID, toolSlug, requestID string) string {
	h := xxhash.New()
	for i, part := range []string{sessionID, userID, toolSlug, requestID} {
		if i > 0 {
			_, _ = h.WriteString("|")
		}
		_, _ = h.WriteString(part)
	}
	return fmt.Sprintf("corr_%016x", h.Sum64())
}

// RetentionFor picks the retention tier for an event
func RetentionFor(severity models.Severity, category models.EventCategory, action string) models.RetentionPolicy {
	switch {
	case severity == models.SeverityCritical || category == models.CategorySecurity:
		return models.RetentionCritical
	case category == models.CategoryConfiguration || strings.Contains(strings.ToLower(action), "permission"):
		return models.RetentionStandard
	case category == models.CategoryMonitoring:
		return models.RetentionShortTerm
	default:
		return models.RetentionStandard
	}
}

func (e *Enricher) severity(in *models.ValidEvent) models.Severity {
	if in.EventSeverity != "" {
		return in.EventSeverity
	}
	if s, ok := e.tables.Severities[in.Action+"_"+string(in.ActionResult)]; ok {
		return models.Severity(s)
	}
	return models.SeverityInfo
}

// toolCategory looks up the tool category. Unknown tools and a missing
// table fall back to the event category and report degraded.
func (e *Enricher) toolCategory(in *models.ValidEvent) (string, bool) {
	if len(e.tables.ToolCategories) == 0 {
		return string(in.EventCategory), true
	}
	if in.ToolSlug == "" {
		return string(in.EventCategory), false
	}
	if c, ok := e.tables.ToolCategories[in.ToolSlug]; ok {
		return c, false
	}
	return string(in.EventCategory), true
}

func (e *Enricher) retentionDays(policy models.RetentionPolicy) int {
	if days, ok := e.retention[string(policy)]; ok {
		return days
	}
	return e.retention[string(models.RetentionStandard)]
}

// maskPII masks the configured top-level fields and action details.
// user_id is an identifier, not PII, and stays intact.
func (e *Enricher) maskPII(event *models.AuditEvent) {
	if !e.masker.Enabled() {
		return
	}
	event.UserEmail = e.masker.MaskField("user_email", event.UserEmail)
	event.IPAddress = e.masker.MaskField("ip_address", event.IPAddress)
	event.UserAgent = e.masker.MaskField("user_agent", event.UserAgent)
	event.ActionDetails = e.masker.MaskDetails(event.ActionDetails)
}

func buildTags(category string, event *models.AuditEvent, extra []string, degraded bool) []string {
	tags := make([]string, 0, 8+len(extra))
	seen := make(map[string]bool, cap(tags))
	add := func(tag string) {
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	add(category)
	if event.ToolSlug != "" {
		add("tool:" + event.ToolSlug)
	}
	if event.IntegrationType != "" {
		add("integration:" + event.IntegrationType)
	}
	add("action:" + event.Action)
	add("result:" + string(event.ActionResult))
	add("severity:" + string(event.EventSeverity))
	for _, t := range extra {
		add(strings.TrimSpace(t))
	}
	if degraded {
		add(models.TagDegradedEnrichment)
	}
	return tags
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
