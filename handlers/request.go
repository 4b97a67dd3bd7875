package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/sso-audit/models"
	"github.com/upb/sso-audit/services"
	"github.com/upb/sso-audit/services/query"
)

const (
	maxEventBodyBytes = 1 << 20
	maxBatchBodyBytes = 16 << 20
)

// decodeJSON reads a size-limited JSON body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return fmt.Errorf("malformed JSON body: %v", err)
		}
	}
	return nil
}

// parseEventQuery reads event filters from the query string
func parseEventQuery(r *http.Request) (query.EventQuery, error) {
	values := r.URL.Query()
	q := query.EventQuery{
		ToolSlug:      values.Get("tool_slug"),
		UserID:        values.Get("user_id"),
		EventType:     values.Get("event_type"),
		EventCategory: models.EventCategory(values.Get("event_category")),
		ActionResult:  models.ActionResult(values.Get("action_result")),
	}
	fields := make(map[string]string)

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			fields["limit"] = "limit must be an integer"
		}
		q.Limit = limit
	}
	for name, dst := range map[string]**time.Time{"start": &q.Start, "end": &q.End} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields[name] = name + " must be an RFC 3339 timestamp"
			continue
		}
		*dst = &ts
	}

	if len(fields) > 0 {
		return query.EventQuery{}, services.NewValidationError("invalid query", fields)
	}
	return q, nil
}
