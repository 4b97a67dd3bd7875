// Package workflow tracks multi-step, cross-tool workflows. The Correlator
// owns the registry of active workflows; closed workflows are handed to the
// persistence layer and dropped once their final record is acknowledged.
package workflow

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/sso-audit/config"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/services"
	"go.uber.org/zap"
)

// rule is a compiled config.WorkflowRule
type rule struct {
	workflowType string
	start        map[string]bool
	cont         map[string]bool
	end          map[string]bool
	maxDuration  time.Duration
}

// accepts reports whether key may advance a workflow of this rule
func (r *rule) accepts(key string) bool {
	return r.cont[key] || r.end[key]
}

type pairKey struct {
	userID    string
	sessionID string
}

type entry struct {
	wf        *models.Workflow
	rule      *rule
	version   uint64
	persisted uint64
}

func (e *entry) owns(pair pairKey) bool {
	return e.wf.UserID == pair.userID && e.wf.SessionID == pair.sessionID
}

func (e *entry) snapshot() *Snapshot {
	return &Snapshot{Workflow: e.wf.Clone(), Version: e.version}
}

// Snapshot is a point-in-time copy of a workflow and the registry version it reflects
type Snapshot struct {
	Workflow *models.Workflow
	Version  uint64
}

// Observation is the outcome of correlating one event
type Observation struct {
	// WorkflowID is empty when the event matched no workflow
	WorkflowID string
	Opened     bool
	Closed     bool
	// Snapshot is set whenever the event touched a workflow
	Snapshot *Snapshot
}

// Stats summarizes the registry
type Stats struct {
	Active  int `json:"active"`
	Dirty   int `json:"dirty"`
	Closing int `json:"closing"`
}

// Correlator is the workflow state machine registry. All methods are safe
// for concurrent use; none of them perform I/O.
type Correlator struct {
	mu     sync.Mutex
	rules  []*rule
	active map[string]*entry
	byPair map[pairKey][]string
	closed map[string]*entry
	logger *zap.Logger
}

// NewCorrelator compiles the rule table. Rules without max_duration inherit defaultMaxDuration.
func NewCorrelator(rules []config.WorkflowRule, defaultMaxDuration time.Duration, logger *zap.Logger) *Correlator {
	compiled := make([]*rule, 0, len(rules))
	for _, r := range rules {
		maxDuration := r.MaxDuration
		if maxDuration == 0 {
			maxDuration = defaultMaxDuration
		}
		compiled = append(compiled, &rule{
			workflowType: r.Type,
			start:        toSet(r.Start),
			cont:         toSet(r.Continue),
			end:          toSet(r.End),
			maxDuration:  maxDuration,
		})
	}

	return &Correlator{
		rules:  compiled,
		active: make(map[string]*entry),
		byPair: make(map[pairKey][]string),
		closed: make(map[string]*entry),
		logger: logger,
	}
}

// Observe correlates an enriched event. A caller-supplied workflow id
// advances that workflow only when it belongs to the event's user and
// session and its rule accepts the event key; otherwise the event key is
// matched against the rule table. Absence of a match is a normal outcome.
func (c *Correlator) Observe(event *models.AuditEvent) Observation {
	key := event.EventKey()

	c.mu.Lock()
	defer c.mu.Unlock()

	pair := pairKey{userID: event.UserID, sessionID: event.SessionID}

	if event.WorkflowID != nil && *event.WorkflowID != "" {
		if e, ok := c.active[*event.WorkflowID]; ok && e.owns(pair) && e.rule.accepts(key) {
			return c.advanceLocked(e, key, event)
		}
		c.logger.Warn("event references a workflow it cannot advance, falling back to pattern correlation",
			zap.String("workflow_id", *event.WorkflowID),
			zap.String("event_key", key),
			zap.String("user_id", event.UserID),
			zap.String("session_id", event.SessionID))
	}

	for _, id := range c.byPair[pair] {
		e := c.active[id]
		if e.rule.accepts(key) {
			return c.advanceLocked(e, key, event)
		}
	}

	for _, r := range c.rules {
		if r.start[key] {
			return c.openLocked(r, pair, event)
		}
	}

	return Observation{}
}

// Advance records an event against a known active workflow
func (c *Correlator) Advance(workflowID string, event *models.AuditEvent) (Observation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.active[workflowID]
	if !ok {
		return Observation{}, services.NewWorkflowNotFound(workflowID)
	}
	return c.advanceLocked(e, event.EventKey(), event), nil
}

// Complete closes an active workflow explicitly. A success result completes
// it; any other result fails it.
func (c *Correlator) Complete(workflowID string, result models.ActionResult, at time.Time) (*Snapshot, error) {
	if _, err := uuid.Parse(workflowID); err != nil {
		return nil, services.NewWorkflowNotFound(workflowID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.active[workflowID]
	if !ok {
		return nil, services.NewWorkflowNotFound(workflowID)
	}
	c.closeLocked(e, statusFor(result), at)
	return e.snapshot(), nil
}

// Get returns a copy of an active or closing workflow
func (c *Correlator) Get(workflowID string) (*models.Workflow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.active[workflowID]; ok {
		return e.wf.Clone(), true
	}
	if e, ok := c.closed[workflowID]; ok {
		return e.wf.Clone(), true
	}
	return nil, false
}

// Active returns copies of all active workflows ordered by start time
func (c *Correlator) Active() []*models.Workflow {
	c.mu.Lock()
	out := make([]*models.Workflow, 0, len(c.active))
	for _, e := range c.active {
		out = append(out, e.wf.Clone())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkflowStart.Equal(out[j].WorkflowStart) {
			return out[i].WorkflowID < out[j].WorkflowID
		}
		return out[i].WorkflowStart.Before(out[j].WorkflowStart)
	})
	return out
}

// Expire fails every active workflow older than its rule's max duration
func (c *Correlator) Expire(now time.Time) []*Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*Snapshot
	for _, e := range c.active {
		if e.rule.maxDuration <= 0 || now.Sub(e.wf.WorkflowStart) <= e.rule.maxDuration {
			continue
		}
		c.closeLocked(e, models.WorkflowFailed, now)
		expired = append(expired, e.snapshot())
		c.logger.Info("workflow expired",
			zap.String("workflow_id", e.wf.WorkflowID),
			zap.String("workflow_type", e.wf.WorkflowType),
			zap.Duration("max_duration", e.rule.maxDuration))
	}
	return expired
}

// Pending returns snapshots of every workflow whose latest state has not
// been acknowledged as persisted: dirty active workflows and closed ones.
func (c *Correlator) Pending() []*Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Snapshot
	for _, e := range c.active {
		if e.version > e.persisted {
			out = append(out, e.snapshot())
		}
	}
	for _, e := range c.closed {
		out = append(out, e.snapshot())
	}
	return out
}

// Ack records that the given version of a workflow is durable. A closed
// workflow leaves the registry once its final version is acknowledged.
func (c *Correlator) Ack(workflowID string, version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.active[workflowID]; ok {
		if version > e.persisted {
			e.persisted = version
		}
		return
	}
	if e, ok := c.closed[workflowID]; ok && version >= e.version {
		delete(c.closed, workflowID)
	}
}

// Stats returns registry counts
func (c *Correlator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Active: len(c.active), Closing: len(c.closed)}
	for _, e := range c.active {
		if e.version > e.persisted {
			s.Dirty++
		}
	}
	return s
}

// RuleTypes lists the configured workflow types in table order
func (c *Correlator) RuleTypes() []string {
	out := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r.workflowType)
	}
	return out
}

func (c *Correlator) openLocked(r *rule, pair pairKey, event *models.AuditEvent) Observation {
	wf := models.NewWorkflow(r.workflowType, event)
	e := &entry{wf: wf, rule: r, version: 1}
	c.active[wf.WorkflowID] = e
	c.byPair[pair] = append(c.byPair[pair], wf.WorkflowID)

	c.logger.Debug("workflow started",
		zap.String("workflow_id", wf.WorkflowID),
		zap.String("workflow_type", wf.WorkflowType),
		zap.String("user_id", wf.UserID),
		zap.String("session_id", wf.SessionID))

	return Observation{WorkflowID: wf.WorkflowID, Opened: true, Snapshot: e.snapshot()}
}

func (c *Correlator) advanceLocked(e *entry, key string, event *models.AuditEvent) Observation {
	e.wf.Record(event)
	e.version++

	obs := Observation{WorkflowID: e.wf.WorkflowID}
	if e.rule.end[key] {
		c.closeLocked(e, statusFor(event.ActionResult), event.Timestamp)
		obs.Closed = true
	}
	obs.Snapshot = e.snapshot()
	return obs
}

// closeLocked moves an entry from the active registry to the closing set
func (c *Correlator) closeLocked(e *entry, status models.WorkflowStatus, at time.Time) {
	e.wf.Close(status, at)
	e.version++

	id := e.wf.WorkflowID
	delete(c.active, id)
	pair := pairKey{userID: e.wf.UserID, sessionID: e.wf.SessionID}
	ids := c.byPair[pair]
	for i, other := range ids {
		if other == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(c.byPair, pair)
	} else {
		c.byPair[pair] = ids
	}
	c.closed[id] = e

	c.logger.Debug("workflow closed",
		zap.String("workflow_id", id),
		zap.String("workflow_status", string(status)),
		zap.Int("total_events", e.wf.TotalEvents))
}

func statusFor(result models.ActionResult) models.WorkflowStatus {
	if result == models.ResultSuccess {
		return models.WorkflowCompleted
	}
	return models.WorkflowFailed
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
