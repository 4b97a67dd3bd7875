package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRateLimiter_RejectsAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2, zap.NewNop())
	handler := limiter.Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_SeparateClients(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1, zap.NewNop())
	handler := limiter.Handler(okHandler())

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	// authenticated callers get their own bucket even from a shared address
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:2"
	req = req.WithContext(WithClaims(req.Context(), &Claims{Sub: "gitlab-bridge"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 3, limiter.size())
}

func TestRateLimiter_Prune(t *testing.T) {
	limiter := NewRateLimiter(10, 10, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	limiter.Handler(okHandler()).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 1, limiter.size())

	limiter.Prune(time.Now())
	assert.Equal(t, 1, limiter.size())

	limiter.Prune(time.Now().Add(idleClientTTL + time.Second))
	assert.Equal(t, 0, limiter.size())
}
