package models

import "time"

// Session is a live aggregate of one user's activity under a session id.
// The aggregator owns it; persistence only ever receives snapshots.
type Session struct {
	SessionID         string    `json:"session_id" db:"session_id"`
	UserID            string    `json:"user_id" db:"user_id"`
	ToolsAccessed     []string  `json:"tools_accessed" db:"tools_accessed"`
	TotalEvents       int       `json:"total_events" db:"total_events"`
	TotalToolLaunches int       `json:"total_tool_launches" db:"total_tool_launches"`
	SessionStart      time.Time `json:"session_start" db:"session_start"`
	LastActivity      time.Time `json:"session_last_activity" db:"session_last_activity"`
}

// TableName returns the table name for the Session model
func (Session) TableName() string {
	return "audit_sessions"
}

// NewSession creates an empty session aggregate
func NewSession(sessionID, userID string, now time.Time) *Session {
	return &Session{
		SessionID:    sessionID,
		UserID:       userID,
		SessionStart: now,
		LastActivity: now,
	}
}

// Apply folds one event into the aggregate
func (s *Session) Apply(event *AuditEvent) {
	s.TotalEvents++
	if event.IsToolLaunch() {
		s.TotalToolLaunches++
	}
	if event.ToolSlug != "" && !s.HasTool(event.ToolSlug) {
		s.ToolsAccessed = append(s.ToolsAccessed, event.ToolSlug)
	}
	if s.UserID == "" {
		s.UserID = event.UserID
	}
	if event.Timestamp.After(s.LastActivity) {
		s.LastActivity = event.Timestamp
	}
}

// HasTool reports whether the tool was accessed in this session
func (s *Session) HasTool(slug string) bool {
	for _, t := range s.ToolsAccessed {
		if t == slug {
			return true
		}
	}
	return false
}

// Clone returns a point-in-time copy
func (s *Session) Clone() *Session {
	c := *s
	c.ToolsAccessed = append([]string(nil), s.ToolsAccessed...)
	return &c
}
