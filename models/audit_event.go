package models

import (
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies what kind of activity an event describes
type EventCategory string

const (
	CategoryAuthentication EventCategory = "authentication"
	CategoryConfiguration  EventCategory = "configuration"
	CategoryIntegration    EventCategory = "integration"
	CategorySecurity       EventCategory = "security"
	CategoryMonitoring     EventCategory = "monitoring"
)

// Severity is the computed or caller-supplied importance of an event
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityDebug    Severity = "debug"
)

// ActionResult is the outcome reported by the emitting tool
type ActionResult string

const (
	ResultSuccess ActionResult = "success"
	ResultFailure ActionResult = "failure"
	ResultPartial ActionResult = "partial"
	ResultPending ActionResult = "pending"
)

// RetentionPolicy names a retention tier
type RetentionPolicy string

const (
	RetentionCritical  RetentionPolicy = "critical"
	RetentionStandard  RetentionPolicy = "standard"
	RetentionShortTerm RetentionPolicy = "short_term"
	RetentionMinimal   RetentionPolicy = "minimal"
)

// TagDegradedEnrichment marks events enriched with fallback values
const TagDegradedEnrichment = "degraded_enrichment"

// AuditEvent is an enriched audit record. It is immutable once persisted.
type AuditEvent struct {
	ID               uuid.UUID              `json:"id" db:"id"`
	EventType        string                 `json:"event_type" db:"event_type"`
	EventCategory    EventCategory          `json:"event_category" db:"event_category"`
	EventSeverity    Severity               `json:"event_severity" db:"event_severity"`
	ToolSlug         string                 `json:"tool_slug,omitempty" db:"tool_slug"`
	ToolName         string                 `json:"tool_name,omitempty" db:"tool_name"`
	IntegrationType  string                 `json:"integration_type,omitempty" db:"integration_type"`
	UserID           string                 `json:"user_id,omitempty" db:"user_id"`
	UserEmail        string                 `json:"user_email,omitempty" db:"user_email"`
	UserRoles        []string               `json:"user_roles,omitempty" db:"user_roles"`
	UserGroups       []string               `json:"user_groups,omitempty" db:"user_groups"`
	SessionID        string                 `json:"session_id,omitempty" db:"session_id"`
	RequestID        string                 `json:"request_id,omitempty" db:"request_id"`
	CorrelationID    string                 `json:"correlation_id" db:"correlation_id"`
	WorkflowID       *string                `json:"workflow_id,omitempty" db:"workflow_id"`
	Action           string                 `json:"action" db:"action"`
	ActionResult     ActionResult           `json:"action_result" db:"action_result"`
	ActionDetails    map[string]interface{} `json:"action_details,omitempty" db:"action_details"`
	IPAddress        string                 `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent        string                 `json:"user_agent,omitempty" db:"user_agent"`
	ProcessingTimeMs *int                   `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	ErrorCode        *string                `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage     *string                `json:"error_message,omitempty" db:"error_message"`
	Timestamp        time.Time              `json:"timestamp" db:"timestamp"`
	RetentionPolicy  RetentionPolicy        `json:"retention_policy" db:"retention_policy"`
	ExpiresAt        time.Time              `json:"expires_at" db:"expires_at"`
	AuditTags        []string               `json:"audit_tags" db:"audit_tags"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_events"
}

// EventKey returns the "<tool_slug>.<event_type>" key used by workflow rules
func (e *AuditEvent) EventKey() string {
	return EventKey(e.ToolSlug, e.EventType)
}

// EventKey builds a workflow rule key
func EventKey(toolSlug, eventType string) string {
	return toolSlug + "." + eventType
}

// IsToolLaunch reports whether the event counts as a successful tool launch
func (e *AuditEvent) IsToolLaunch() bool {
	return e.Action == "launch" && e.ActionResult == ResultSuccess
}

// HasTag reports whether the tag is present
func (e *AuditEvent) HasTag(tag string) bool {
	for _, t := range e.AuditTags {
		if t == tag {
			return true
		}
	}
	return false
}

// WithWorkflow attaches a workflow id
func (e *AuditEvent) WithWorkflow(workflowID string) *AuditEvent {
	e.WorkflowID = &workflowID
	return e
}

// ValidCategories lists the accepted event categories
func ValidCategories() []EventCategory {
	return []EventCategory{
		CategoryAuthentication,
		CategoryConfiguration,
		CategoryIntegration,
		CategorySecurity,
		CategoryMonitoring,
	}
}

// ValidResults lists the accepted action results
func ValidResults() []ActionResult {
	return []ActionResult{ResultSuccess, ResultFailure, ResultPartial, ResultPending}
}
