package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus represents the lifecycle state of a tracked workflow
type WorkflowStatus string

const (
	WorkflowActive    WorkflowStatus = "active"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// IsTerminal reports whether the status can no longer change
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// Workflow is a multi-step, possibly cross-tool process.
// Mutable while active; closed workflows never re-open.
type Workflow struct {
	WorkflowID       string         `json:"workflow_id" db:"workflow_id"`
	WorkflowType     string         `json:"workflow_type" db:"workflow_type"`
	UserID           string         `json:"user_id" db:"user_id"`
	SessionID        string         `json:"session_id" db:"session_id"`
	ToolsInvolved    []string       `json:"tools_involved" db:"tools_involved"`
	TotalEvents      int            `json:"total_events" db:"total_events"`
	SuccessfulEvents int            `json:"successful_events" db:"successful_events"`
	FailedEvents     int            `json:"failed_events" db:"failed_events"`
	Status           WorkflowStatus `json:"workflow_status" db:"workflow_status"`
	WorkflowStart    time.Time      `json:"workflow_start" db:"workflow_start"`
	WorkflowEnd      *time.Time     `json:"workflow_end,omitempty" db:"workflow_end"`
	DurationSeconds  *float64       `json:"duration_seconds,omitempty" db:"duration_seconds"`
	LastEventAt      time.Time      `json:"last_event_at" db:"last_event_at"`
}

// TableName returns the table name for the Workflow model
func (Workflow) TableName() string {
	return "audit_workflows"
}

// NewWorkflow opens a workflow seeded from its triggering event
func NewWorkflow(workflowType string, event *AuditEvent) *Workflow {
	w := &Workflow{
		WorkflowID:    uuid.New().String(),
		WorkflowType:  workflowType,
		UserID:        event.UserID,
		SessionID:     event.SessionID,
		Status:        WorkflowActive,
		WorkflowStart: event.Timestamp,
		LastEventAt:   event.Timestamp,
	}
	w.Record(event)
	return w
}

// Record counts an event against the workflow
func (w *Workflow) Record(event *AuditEvent) {
	w.TotalEvents++
	switch event.ActionResult {
	case ResultSuccess:
		w.SuccessfulEvents++
	case ResultFailure:
		w.FailedEvents++
	}
	w.AddTool(event.ToolSlug)
	if event.Timestamp.After(w.LastEventAt) {
		w.LastEventAt = event.Timestamp
	}
}

// AddTool adds a tool slug if it is not already present
func (w *Workflow) AddTool(slug string) {
	if slug == "" || w.HasTool(slug) {
		return
	}
	w.ToolsInvolved = append(w.ToolsInvolved, slug)
}

// HasTool reports whether the tool took part in the workflow
func (w *Workflow) HasTool(slug string) bool {
	for _, t := range w.ToolsInvolved {
		if t == slug {
			return true
		}
	}
	return false
}

// Close moves the workflow to a terminal status. Closing twice is a no-op.
func (w *Workflow) Close(status WorkflowStatus, end time.Time) {
	if w.Status.IsTerminal() {
		return
	}
	w.Status = status
	w.WorkflowEnd = &end
	duration := end.Sub(w.WorkflowStart).Seconds()
	if duration < 0 {
		duration = 0
	}
	w.DurationSeconds = &duration
}

// Clone returns a deep copy safe to hand outside the owning registry
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.ToolsInvolved = append([]string(nil), w.ToolsInvolved...)
	if w.WorkflowEnd != nil {
		end := *w.WorkflowEnd
		c.WorkflowEnd = &end
	}
	if w.DurationSeconds != nil {
		d := *w.DurationSeconds
		c.DurationSeconds = &d
	}
	return &c
}
