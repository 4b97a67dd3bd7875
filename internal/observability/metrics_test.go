package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.EventIngested("authentication", "success", 10*time.Millisecond)
	m.EventIngested("authentication", "success", 5*time.Millisecond)
	m.EventRejected("validation")
	m.StorageError("store_event", true)
	m.WorkflowOpened("ci_cd_pipeline")
	m.WorkflowClosed("ci_cd_pipeline", "completed")
	m.SetRegistrySizes(3, 7)
	m.AlertRaised("critical_event")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsIngested.WithLabelValues("authentication", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsRejected.WithLabelValues("validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storageErrors.WithLabelValues("store_event", "retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflowsClosed.WithLabelValues("ci_cd_pipeline", "completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.workflowsActive))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.sessionsLive))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.WorkflowOpened("user_onboarding")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sso_audit_workflows_opened_total{workflow_type="user_onboarding"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.EventIngested("security", "failure", time.Millisecond)
		m.StorageError("upsert_workflow", false)
		m.SetQueueDepth(4)
		m.FlushCompleted(time.Second)
	})
	assert.Nil(t, m.Registry())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = NewLogger("WARN", "json")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(0))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
}
