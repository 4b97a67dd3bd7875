package models

// EventInput is an audit event as submitted by an integrated tool
type EventInput struct {
	EventType        string                 `json:"event_type" validate:"required,max=100"`
	EventCategory    EventCategory          `json:"event_category" validate:"required,oneof=authentication configuration integration security monitoring"`
	EventSeverity    Severity               `json:"event_severity,omitempty" validate:"omitempty,oneof=critical error warning info debug"`
	ToolSlug         string                 `json:"tool_slug,omitempty" validate:"omitempty,max=100"`
	ToolName         string                 `json:"tool_name,omitempty" validate:"omitempty,max=255"`
	IntegrationType  string                 `json:"integration_type,omitempty" validate:"omitempty,max=50"`
	UserID           string                 `json:"user_id,omitempty" validate:"omitempty,max=255"`
	UserEmail        string                 `json:"user_email,omitempty" validate:"omitempty,max=255,email"`
	UserRoles        []string               `json:"user_roles,omitempty" validate:"omitempty,max=100,dive,max=255"`
	UserGroups       []string               `json:"user_groups,omitempty" validate:"omitempty,max=100,dive,max=255"`
	SessionID        string                 `json:"session_id,omitempty" validate:"omitempty,max=255"`
	RequestID        string                 `json:"request_id,omitempty" validate:"omitempty,max=255"`
	CorrelationID    string                 `json:"correlation_id,omitempty" validate:"omitempty,max=255"`
	WorkflowID       string                 `json:"workflow_id,omitempty" validate:"omitempty,max=255"`
	Action           string                 `json:"action" validate:"required,max=100"`
	ActionResult     ActionResult           `json:"action_result" validate:"required,oneof=success failure partial pending"`
	ActionDetails    map[string]interface{} `json:"action_details,omitempty"`
	IPAddress        string                 `json:"ip_address,omitempty" validate:"omitempty,max=45"`
	UserAgent        string                 `json:"user_agent,omitempty" validate:"omitempty,max=1000"`
	ProcessingTimeMs *int                   `json:"processing_time_ms,omitempty" validate:"omitempty,gte=0"`
	ErrorCode        string                 `json:"error_code,omitempty" validate:"omitempty,max=100"`
	ErrorMessage     string                 `json:"error_message,omitempty" validate:"omitempty,max=2000"`
	AuditTags        []string               `json:"audit_tags,omitempty" validate:"omitempty,max=50,dive,max=100"`
}

// ValidEvent is an EventInput that passed validation and normalization.
// Only the event validator constructs it.
type ValidEvent struct {
	EventInput
}
