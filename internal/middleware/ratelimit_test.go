package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubLimiter struct {
	ok         bool
	retryAfter time.Duration
	lastKey    string
	lastBucket string
}

func (s *stubLimiter) Allow(_ context.Context, clientKey, bucket string, _ int) (bool, time.Duration) {
	s.lastKey = clientKey
	s.lastBucket = bucket
	return s.ok, s.retryAfter
}

func TestRateLimitPassesAllowedRequests(t *testing.T) {
	limiter := &stubLimiter{ok: true}
	handler := RateLimit(limiter, "chat", 20)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = "10.0.0.9:41234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.0.0.9", limiter.lastKey)
	assert.Equal(t, "chat", limiter.lastBucket)
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	limiter := &stubLimiter{ok: false, retryAfter: 42 * time.Second}
	handler := RateLimit(limiter, "chat", 20)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many requests")
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS("https://anshsetia.com")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("preflight must short-circuit")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://anshsetia.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Session-ID")
}
