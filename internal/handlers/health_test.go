package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Tesseract-Nexus/go-shared/cache"
	"github.com/stretchr/testify/assert"
)

type stubHealthChecker struct {
	dbErr    error
	redisErr error
	stats    *cache.CacheStats
}

func (s stubHealthChecker) DBHealth(ctx context.Context) error    { return s.dbErr }
func (s stubHealthChecker) RedisHealth(ctx context.Context) error { return s.redisErr }
func (s stubHealthChecker) CacheStats() *cache.CacheStats         { return s.stats }

func serveHealth(checker HealthChecker, path string) *httptest.ResponseRecorder {
	h := NewHealthHandler(checker)
	r := setupTestRouter()
	r.GET("/health", h.HealthCheck)
	r.GET("/ready", h.ReadinessCheck)

	req, _ := http.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	w := serveHealth(stubHealthChecker{}, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = serveHealth(stubHealthChecker{redisErr: errors.New("redis not configured")}, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestReadinessCheck(t *testing.T) {
	w := serveHealth(stubHealthChecker{}, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)

	w = serveHealth(stubHealthChecker{dbErr: errors.New("down")}, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
