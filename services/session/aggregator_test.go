package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/sso-audit/models"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu    sync.Mutex
	snaps []*Snapshot
}

func (r *recordingSink) SubmitSnapshot(snap *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sessionEvent(tool, action string, result models.ActionResult, i int) *models.AuditEvent {
	return &models.AuditEvent{
		EventType:    action,
		ToolSlug:     tool,
		UserID:       "u1",
		SessionID:    "s1",
		Action:       action,
		ActionResult: result,
		Timestamp:    start.Add(time.Duration(i) * time.Second),
	}
}

func TestAggregator_SnapshotEveryNthEvent(t *testing.T) {
	sink := &recordingSink{}
	agg := NewAggregator(10, sink, zap.NewNop())

	tools := []string{"github", "jenkins", "argocd"}
	for i := 0; i < 10; i++ {
		agg.Touch(sessionEvent(tools[i%len(tools)], "launch", models.ResultSuccess, i))
	}

	require.Equal(t, 1, sink.count())
	snap := sink.snaps[0].Session
	assert.Equal(t, 10, snap.TotalEvents)
	assert.Equal(t, 10, snap.TotalToolLaunches)
	assert.ElementsMatch(t, tools, snap.ToolsAccessed)
	assert.Equal(t, start.Add(9*time.Second), snap.LastActivity)
}

func TestAggregator_CountsOnlySuccessfulLaunches(t *testing.T) {
	agg := NewAggregator(10, nil, zap.NewNop())

	agg.Touch(sessionEvent("github", "launch", models.ResultSuccess, 0))
	agg.Touch(sessionEvent("github", "launch", models.ResultFailure, 1))
	agg.Touch(sessionEvent("jenkins", "view", models.ResultSuccess, 2))

	s, ok := agg.Get("s1")
	require.True(t, ok)
	assert.Equal(t, 3, s.TotalEvents)
	assert.Equal(t, 1, s.TotalToolLaunches)
	assert.Equal(t, []string{"github", "jenkins"}, s.ToolsAccessed)
	assert.Equal(t, "u1", s.UserID)
}

func TestAggregator_IgnoresEventsWithoutSession(t *testing.T) {
	agg := NewAggregator(10, nil, zap.NewNop())
	e := sessionEvent("github", "launch", models.ResultSuccess, 0)
	e.SessionID = ""

	agg.Touch(e)

	assert.Equal(t, Stats{}, agg.Stats())
}

func TestAggregator_PendingAndAck(t *testing.T) {
	agg := NewAggregator(10, nil, zap.NewNop())
	agg.Touch(sessionEvent("github", "launch", models.ResultSuccess, 0))

	pending := agg.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, Stats{Live: 1, Dirty: 1}, agg.Stats())

	agg.Ack("s1", pending[0].Version)
	assert.Empty(t, agg.Pending())

	agg.Touch(sessionEvent("github", "launch", models.ResultSuccess, 1))
	// a stale acknowledgement leaves the session dirty
	agg.Ack("s1", pending[0].Version)
	assert.Len(t, agg.Pending(), 1)
}

func TestAggregator_GetReturnsCopy(t *testing.T) {
	agg := NewAggregator(10, nil, zap.NewNop())
	agg.Touch(sessionEvent("github", "launch", models.ResultSuccess, 0))

	s, _ := agg.Get("s1")
	s.ToolsAccessed[0] = "mutated"
	s.TotalEvents = 99

	again, _ := agg.Get("s1")
	assert.Equal(t, []string{"github"}, again.ToolsAccessed)
	assert.Equal(t, 1, again.TotalEvents)

	_, ok := agg.Get("missing")
	assert.False(t, ok)
}

func TestAggregator_ConcurrentTouches(t *testing.T) {
	sink := &recordingSink{}
	agg := NewAggregator(10, sink, zap.NewNop())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				agg.Touch(sessionEvent(fmt.Sprintf("tool-%d", w), "launch", models.ResultSuccess, i))
			}
		}(w)
	}
	wg.Wait()

	s, ok := agg.Get("s1")
	require.True(t, ok)
	assert.Equal(t, 200, s.TotalEvents)
	assert.Len(t, s.ToolsAccessed, 8)
	assert.Equal(t, 20, sink.count())
}
