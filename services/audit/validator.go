package audit

import (
	"strings"

	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/services"
	"github.com/upb/sso-audit/utils"
)

// Validator schema-checks and normalizes inbound events. It fails fast
// with the full list of field errors and never accepts an event partially.
type Validator struct{}

// NewValidator creates an event validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns a normalized copy of raw or a validation error carrying
// one message per offending field
func (v *Validator) Validate(raw *models.EventInput) (*models.ValidEvent, error) {
	if raw == nil {
		return nil, services.NewValidationError("invalid audit event", map[string]string{
			"event": "event is required",
		})
	}

	in := normalize(*raw)
	if err := utils.ValidateStruct(&in); err != nil {
		if fields := utils.GetValidationFields(err); fields != nil {
			return nil, services.NewValidationError("invalid audit event", fields)
		}
		return nil, services.WrapInternal("failed to validate audit event", err)
	}
	return &models.ValidEvent{EventInput: in}, nil
}

// normalize trims whitespace and lowercases the identifiers rule keys are built from
func normalize(in models.EventInput) models.EventInput {
	in.EventType = strings.ToLower(strings.TrimSpace(in.EventType))
	in.EventCategory = models.EventCategory(strings.TrimSpace(string(in.EventCategory)))
	in.EventSeverity = models.Severity(strings.TrimSpace(string(in.EventSeverity)))
	in.ToolSlug = strings.ToLower(strings.TrimSpace(in.ToolSlug))
	in.ToolName = strings.TrimSpace(in.ToolName)
	in.IntegrationType = strings.TrimSpace(in.IntegrationType)
	in.UserID = strings.TrimSpace(in.UserID)
	in.UserEmail = strings.TrimSpace(in.UserEmail)
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.RequestID = strings.TrimSpace(in.RequestID)
	in.CorrelationID = strings.TrimSpace(in.CorrelationID)
	in.WorkflowID = strings.TrimSpace(in.WorkflowID)
	in.Action = strings.TrimSpace(in.Action)
	in.ActionResult = models.ActionResult(strings.TrimSpace(string(in.ActionResult)))
	in.IPAddress = strings.TrimSpace(in.IPAddress)
	in.UserRoles = append([]string(nil), in.UserRoles...)
	in.UserGroups = append([]string(nil), in.UserGroups...)
	in.AuditTags = append([]string(nil), in.AuditTags...)
	return in
}
