// Package alerting runs the real-time alert check on ingested events.
// Alert delivery never affects ingestion.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/sso-audit/models"
	"go.uber.org/zap"
)

// Kind identifies an alert rule
type Kind string

const (
	KindCriticalEvent    Kind = "critical_event"
	KindAuthFailureBurst Kind = "auth_failure_burst"
)

const (
	defaultFailureLimit  = 5
	defaultFailureWindow = 5 * time.Minute
)

// Alert is a raised alert
type Alert struct {
	Kind          Kind            `json:"kind"`
	Severity      models.Severity `json:"severity"`
	Message       string          `json:"message"`
	EventID       string          `json:"event_id"`
	UserID        string          `json:"user_id,omitempty"`
	ToolSlug      string          `json:"tool_slug,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	RaisedAt      time.Time       `json:"raised_at"`
}

// Notifier delivers alerts
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs at warn level
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Warn("audit alert",
		zap.String("alert_kind", string(alert.Kind)),
		zap.String("event_severity", string(alert.Severity)),
		zap.String("event_id", alert.EventID),
		zap.String("user_id", alert.UserID),
		zap.String("tool_slug", alert.ToolSlug),
		zap.String("correlation_id", alert.CorrelationID),
		zap.String("message", alert.Message))
	return nil
}

// Config tunes the alert rules
type Config struct {
	Enabled              bool
	AuthFailureThreshold int
	AuthFailureWindow    time.Duration
}

// Recorder receives alert counts
type Recorder interface {
	AlertRaised(kind string)
}

// Checker evaluates alert rules against enriched events
type Checker struct {
	cfg      Config
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewChecker creates a checker. recorder may be nil.
func NewChecker(cfg Config, notifier Notifier, recorder Recorder, logger *zap.Logger) *Checker {
	if cfg.AuthFailureThreshold <= 0 {
		cfg.AuthFailureThreshold = defaultFailureLimit
	}
	if cfg.AuthFailureWindow <= 0 {
		cfg.AuthFailureWindow = defaultFailureWindow
	}
	return &Checker{
		cfg:      cfg,
		notifier: notifier,
		recorder: recorder,
		logger:   logger,
		failures: make(map[string][]time.Time),
	}
}

// Check evaluates the event and delivers any alerts it raises. Delivery
// errors are logged and dropped.
func (c *Checker) Check(ctx context.Context, event *models.AuditEvent) []Alert {
	if c == nil || !c.cfg.Enabled {
		return nil
	}

	alerts := c.evaluate(event)
	for _, alert := range alerts {
		if c.recorder != nil {
			c.recorder.AlertRaised(string(alert.Kind))
		}
		if err := c.notifier.Notify(ctx, alert); err != nil {
			c.logger.Error("failed to deliver alert",
				zap.String("alert_kind", string(alert.Kind)),
				zap.String("event_id", alert.EventID),
				zap.Error(err))
		}
	}
	return alerts
}

func (c *Checker) evaluate(event *models.AuditEvent) []Alert {
	var alerts []Alert

	if event.EventSeverity == models.SeverityCritical {
		alerts = append(alerts, c.newAlert(KindCriticalEvent, event,
			fmt.Sprintf("critical %s event from %s", event.EventType, toolOrUnknown(event.ToolSlug))))
	}

	if event.EventCategory == models.CategoryAuthentication &&
		event.ActionResult == models.ResultFailure && event.UserID != "" {
		if count := c.recordFailure(event.UserID, event.Timestamp); count == c.cfg.AuthFailureThreshold {
			alerts = append(alerts, c.newAlert(KindAuthFailureBurst, event,
				fmt.Sprintf("%d authentication failures within %s", count, c.cfg.AuthFailureWindow)))
		}
	}

	return alerts
}

// recordFailure adds a failure to the user's sliding window and returns the
// number of failures inside it. Alerting on equality raises once per burst.
func (c *Checker) recordFailure(userID string, at time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := at.Add(-c.cfg.AuthFailureWindow)
	window := c.failures[userID][:0]
	for _, ts := range c.failures[userID] {
		if ts.After(cutoff) {
			window = append(window, ts)
		}
	}
	window = append(window, at)
	c.failures[userID] = window
	return len(window)
}

// Prune drops failure windows that ended before now
func (c *Checker) Prune(now time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.cfg.AuthFailureWindow)
	for user, window := range c.failures {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(c.failures, user)
		}
	}
}

func (c *Checker) newAlert(kind Kind, event *models.AuditEvent, message string) Alert {
	return Alert{
		Kind:          kind,
		Severity:      event.EventSeverity,
		Message:       message,
		EventID:       event.ID.String(),
		UserID:        event.UserID,
		ToolSlug:      event.ToolSlug,
		CorrelationID: event.CorrelationID,
		RaisedAt:      event.Timestamp,
	}
}

func toolOrUnknown(slug string) string {
	if slug == "" {
		return "unknown tool"
	}
	return slug
}
