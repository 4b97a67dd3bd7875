// Package session keeps live per-session activity aggregates and hands
// point-in-time snapshots to durable storage.
package session

import (
	"sort"
	"sync"

	"github.com/upb/sso-audit/models"
	"go.uber.org/zap"
)

// DefaultSnapshotEvery is the snapshot interval used when none is configured
const DefaultSnapshotEvery = 10

// Snapshot is a copy of a session at a given registry version
type Snapshot struct {
	Session *models.Session
	Version uint64
}

// SnapshotSink receives snapshots for durable writing. Implementations must
// not block; the outcome is reported back through Aggregator.Ack.
type SnapshotSink interface {
	SubmitSnapshot(snap *Snapshot)
}

// Stats summarizes the registry
type Stats struct {
	Live  int `json:"live"`
	Dirty int `json:"dirty"`
}

type entry struct {
	session   *models.Session
	version   uint64
	persisted uint64
}

// Aggregator owns all live sessions
type Aggregator struct {
	mu       sync.Mutex
	sessions map[string]*entry
	every    int
	sink     SnapshotSink
	logger   *zap.Logger
}

// NewAggregator creates an aggregator that snapshots a session every n events
func NewAggregator(every int, sink SnapshotSink, logger *zap.Logger) *Aggregator {
	if every <= 0 {
		every = DefaultSnapshotEvery
	}
	return &Aggregator{
		sessions: make(map[string]*entry),
		every:    every,
		sink:     sink,
		logger:   logger,
	}
}

// Touch folds an event into its session, creating the session on first
// sight. Events without a session id are ignored. Every Nth event of a
// session submits a snapshot to the sink after the lock is released.
func (a *Aggregator) Touch(event *models.AuditEvent) {
	if event.SessionID == "" {
		return
	}

	a.mu.Lock()
	e, ok := a.sessions[event.SessionID]
	if !ok {
		e = &entry{session: models.NewSession(event.SessionID, event.UserID, event.Timestamp)}
		a.sessions[event.SessionID] = e
	}
	e.session.Apply(event)
	e.version++

	var snap *Snapshot
	if e.session.TotalEvents%a.every == 0 {
		snap = &Snapshot{Session: e.session.Clone(), Version: e.version}
	}
	a.mu.Unlock()

	if snap != nil && a.sink != nil {
		a.sink.SubmitSnapshot(snap)
	}
}

// Get returns a copy of a live session
func (a *Aggregator) Get(sessionID string) (*models.Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return e.session.Clone(), true
}

// Pending returns snapshots of every session changed since its last
// acknowledged write, ordered by session id
func (a *Aggregator) Pending() []*Snapshot {
	a.mu.Lock()
	out := make([]*Snapshot, 0)
	for _, e := range a.sessions {
		if e.version > e.persisted {
			out = append(out, &Snapshot{Session: e.session.Clone(), Version: e.version})
		}
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Session.SessionID < out[j].Session.SessionID
	})
	return out
}

// Ack records that a snapshot version was written
func (a *Aggregator) Ack(sessionID string, version uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.sessions[sessionID]; ok && version > e.persisted {
		e.persisted = version
	}
}

// Stats returns registry counts
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{Live: len(a.sessions)}
	for _, e := range a.sessions {
		if e.version > e.persisted {
			s.Dirty++
		}
	}
	return s
}
