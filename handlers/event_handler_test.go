package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/repositories"
	"github.com/upb/sso-audit/services"
	"github.com/upb/sso-audit/services/audit"
	"github.com/upb/sso-audit/services/query"
	"go.uber.org/zap"
)

func newEventRouter(ingest *MockIngestService, q *MockQueryService) http.Handler {
	h := NewEventHandler(ingest, q, zap.NewNop())
	r := chi.NewRouter()
	r.Post("/events", h.HandleIngest)
	r.Post("/events/batch", h.HandleIngestBatch)
	r.Get("/events", h.HandleListEvents)
	r.Get("/events/correlated/{correlation_id}", h.HandleCorrelatedEvents)
	r.Get("/events/{id}", h.HandleGetEvent)
	r.Get("/statistics", h.HandleStatistics)
	return r
}

func doRequest(handler http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func loginInput() map[string]interface{} {
	return map[string]interface{}{
		"event_type":     "user.login",
		"event_category": "authentication",
		"tool_slug":      "github",
		"user_id":        "u-1",
		"session_id":     "s-1",
		"action":         "login",
		"action_result":  "success",
	}
}

func TestEventHandler_HandleIngest(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)
		id := uuid.New()
		ingest.On("Ingest", mock.Anything, mock.MatchedBy(func(in *models.EventInput) bool {
			return in.EventType == "user.login" && in.ActionResult == models.ResultSuccess
		})).Return(&audit.IngestResult{ID: id, CorrelationID: "corr-1"}, nil)

		w := doRequest(newEventRouter(ingest, q), http.MethodPost, "/events", loginInput())

		assert.Equal(t, http.StatusCreated, w.Code)
		data := decodeBody(t, w)["data"].(map[string]interface{})
		assert.Equal(t, id.String(), data["id"])
		assert.Equal(t, "corr-1", data["correlation_id"])
		ingest.AssertExpectations(t)
	})

	t.Run("malformed body", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)

		w := doRequest(newEventRouter(ingest, q), http.MethodPost, "/events", `{"event_type":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "bad_request", decodeBody(t, w)["error"])
		ingest.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	})

	t.Run("empty body", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)

		w := doRequest(newEventRouter(ingest, q), http.MethodPost, "/events", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "request body is empty", decodeBody(t, w)["message"])
	})

	t.Run("oversized body", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)
		body := `{"action_details":{"blob":"` + strings.Repeat("x", maxEventBodyBytes) + `"}}`

		w := doRequest(newEventRouter(ingest, q), http.MethodPost, "/events", body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		ingest.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	})

	t.Run("validation failure", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)
		ingest.On("Ingest", mock.Anything, mock.Anything).
			Return(nil, services.NewValidationError("invalid audit event", map[string]string{"action": "action is required"}))

		w := doRequest(newEventRouter(ingest, q), http.MethodPost, "/events", loginInput())

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "invalid audit event", body["message"])
		fields := body["details"].(map[string]interface{})["fields"].(map[string]interface{})
		assert.Equal(t, "action is required", fields["action"])
	})

	t.Run("retryable storage failure", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)
		ingest.On("Ingest", mock.Anything, mock.Anything).
			Return(nil, services.WrapStorage("store event", repositories.NewRetryable("insert", errors.New("connection reset"))))

		w := doRequest(newEventRouter(ingest, q), http.MethodPost, "/events", loginInput())

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "5", w.Header().Get("Retry-After"))
	})

	t.Run("shutting down", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)
		ingest.On("Ingest", mock.Anything, mock.Anything).Return(nil, services.ErrShuttingDown)

		w := doRequest(newEventRouter(ingest, q), http.MethodPost, "/events", loginInput())

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestEventHandler_HandleIngestBatch(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)
		ingest.On("IngestBatch", mock.Anything, mock.MatchedBy(func(in []*models.EventInput) bool {
			return len(in) == 2
		})).Return(&audit.BatchResult{
			Accepted: 1,
			Rejected: 1,
			Items: []audit.BatchItem{
				{Index: 0, CorrelationID: "corr-1"},
				{Index: 1, Error: "invalid audit event", Fields: map[string]string{"action": "action is required"}},
			},
		}, nil)

		bad := loginInput()
		delete(bad, "action")
		body := map[string]interface{}{"events": []interface{}{loginInput(), bad}}

		w := doRequest(newEventRouter(ingest, q), http.MethodPost, "/events/batch", body)

		assert.Equal(t, http.StatusAccepted, w.Code)
		data := decodeBody(t, w)["data"].(map[string]interface{})
		assert.Equal(t, float64(1), data["accepted"])
		assert.Equal(t, float64(1), data["rejected"])
		assert.Len(t, data["items"], 2)
	})

	t.Run("batch too large", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)
		ingest.On("IngestBatch", mock.Anything, mock.Anything).
			Return(nil, services.NewValidationError("batch exceeds 500 events", map[string]string{"events": "at most 500 events per batch"}))

		body := map[string]interface{}{"events": []interface{}{loginInput()}}
		w := doRequest(newEventRouter(ingest, q), http.MethodPost, "/events/batch", body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEventHandler_HandleListEvents(t *testing.T) {
	t.Run("passes filters through", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)
		start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		q.On("GetEvents", mock.Anything, mock.MatchedBy(func(eq query.EventQuery) bool {
			return eq.ToolSlug == "github" &&
				eq.UserID == "u-1" &&
				eq.EventCategory == models.CategoryAuthentication &&
				eq.Limit == 10 &&
				eq.Start != nil && eq.Start.Equal(start) &&
				eq.End == nil
		})).Return([]*models.AuditEvent{{ID: uuid.New(), EventType: "user.login"}}, nil)

		w := doRequest(newEventRouter(ingest, q), http.MethodGet,
			"/events?tool_slug=github&user_id=u-1&event_category=authentication&limit=10&start=2026-01-02T03:04:05Z", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody(t, w)["data"], 1)
		q.AssertExpectations(t)
	})

	t.Run("bad parameters", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)

		w := doRequest(newEventRouter(ingest, q), http.MethodGet, "/events?limit=ten&end=yesterday", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		fields := decodeBody(t, w)["details"].(map[string]interface{})["fields"].(map[string]interface{})
		assert.Contains(t, fields, "limit")
		assert.Contains(t, fields, "end")
		q.AssertNotCalled(t, "GetEvents", mock.Anything, mock.Anything)
	})

	t.Run("empty result is an empty list", func(t *testing.T) {
		ingest, q := new(MockIngestService), new(MockQueryService)
		q.On("GetEvents", mock.Anything, mock.Anything).Return([]*models.AuditEvent{}, nil)

		w := doRequest(newEventRouter(ingest, q), http.MethodGet, "/events", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":[]}`, w.Body.String())
	})
}

func TestEventHandler_HandleGetEvent(t *testing.T) {
	ingest, q := new(MockIngestService), new(MockQueryService)
	id := uuid.New()
	q.On("GetEvent", mock.Anything, id.String()).Return(&models.AuditEvent{ID: id}, nil)
	q.On("GetEvent", mock.Anything, "missing").Return(nil, services.ErrEventNotFound)
	router := newEventRouter(ingest, q)

	w := doRequest(router, http.MethodGet, "/events/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/events/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventHandler_HandleCorrelatedEvents(t *testing.T) {
	ingest, q := new(MockIngestService), new(MockQueryService)
	q.On("GetCorrelatedEvents", mock.Anything, "corr-1").
		Return([]*models.AuditEvent{{ID: uuid.New()}, {ID: uuid.New()}}, nil)

	w := doRequest(newEventRouter(ingest, q), http.MethodGet, "/events/correlated/corr-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["data"], 2)
	q.AssertExpectations(t)
}

func TestEventHandler_HandleStatistics(t *testing.T) {
	ingest, q := new(MockIngestService), new(MockQueryService)
	q.On("GetStatistics", mock.Anything, mock.MatchedBy(func(eq query.EventQuery) bool {
		return eq.ToolSlug == "jenkins"
	})).Return([]*repositories.EventStatistic{{
		ToolSlug:      "jenkins",
		EventCategory: models.CategoryIntegration,
		ActionResult:  models.ResultSuccess,
		Count:         4,
		SuccessCount:  4,
	}}, nil)

	w := doRequest(newEventRouter(ingest, q), http.MethodGet, "/statistics?tool_slug=jenkins", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	rows := decodeBody(t, w)["data"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, float64(4), rows[0].(map[string]interface{})["count"])
}
