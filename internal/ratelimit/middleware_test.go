package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, svc *Service, identity string) *gin.Engine {
	t.Helper()
	r := gin.New()
	if identity != "" {
		r.Use(func(c *gin.Context) {
			c.Set(ContextUserIDKey, identity)
			c.Next()
		})
	}
	r.Use(Middleware(svc))
	r.GET("/api/v1/orders", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.POST("/api/v1/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false})
	})
	return r
}

func doRequest(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareSetsRateLimitHeaders(t *testing.T) {
	svc := newTestService(t, NewMemoryStore(), nil, nil)
	r := newTestRouter(t, svc, "alice")

	w := doRequest(r, http.MethodGet, "/api/v1/orders")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "30", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "29", w.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddlewareDeniesWith429(t *testing.T) {
	policy := DefaultPolicy()
	policy.BaseLimits = map[Category]int{CategoryNew: 1, CategoryRegular: 1, CategoryPower: 1}
	svc := newTestService(t, NewMemoryStore(), policy, nil)
	r := newTestRouter(t, svc, "alice")

	w := doRequest(r, http.MethodGet, "/api/v1/orders")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/orders")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeRateLimitExceeded, body["code"])
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestMiddlewareBlockedSendsRetryAfter(t *testing.T) {
	store := NewMemoryStore()
	policy := DefaultPolicy()
	seedBehavior(t, store, policy, "bruteforce", 0, 0, 6)
	svc := newTestService(t, store, policy, nil)
	r := newTestRouter(t, svc, "bruteforce")

	w := doRequest(r, http.MethodGet, "/api/v1/orders")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "300", w.Header().Get("X-RateLimit-Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeIdentityBlocked, body["code"])
}

func TestMiddlewareAttachesSemanticError(t *testing.T) {
	policy := DefaultPolicy()
	policy.BaseLimits = map[Category]int{CategoryNew: 1, CategoryRegular: 1, CategoryPower: 1}
	svc := newTestService(t, NewMemoryStore(), policy, nil)

	var trail []error
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Next()
		for _, e := range c.Errors {
			trail = append(trail, e.Err)
		}
	})
	r.Use(Middleware(svc))
	r.GET("/api/v1/orders", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	doRequest(r, http.MethodGet, "/api/v1/orders")
	assert.Empty(t, trail, "admitted requests leave no error trail")

	doRequest(r, http.MethodGet, "/api/v1/orders")
	require.Len(t, trail, 1)
	assert.ErrorIs(t, trail[0], ErrLimitExceeded)
}

func TestMiddlewareBlockedErrorTrail(t *testing.T) {
	store := NewMemoryStore()
	policy := DefaultPolicy()
	seedBehavior(t, store, policy, "bruteforce", 0, 0, 6)
	svc := newTestService(t, store, policy, nil)

	var trail []error
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserIDKey, "bruteforce")
		c.Next()
		for _, e := range c.Errors {
			trail = append(trail, e.Err)
		}
	})
	r.Use(Middleware(svc))
	r.GET("/api/v1/orders", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	doRequest(r, http.MethodGet, "/api/v1/orders")
	require.Len(t, trail, 1)
	assert.ErrorIs(t, trail[0], ErrBlocked)
}

func TestMiddlewareAnonymousKeyedByClientIP(t *testing.T) {
	policy := DefaultPolicy()
	policy.BaseLimits = map[Category]int{CategoryNew: 1, CategoryRegular: 1, CategoryPower: 1}
	svc := newTestService(t, NewMemoryStore(), policy, nil)
	r := newTestRouter(t, svc, "")

	w := doRequest(r, http.MethodGet, "/api/v1/orders")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/orders")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "anonymous callers share the per-IP budget")
}

func TestMiddlewareRecordsOutcomeAfterHandler(t *testing.T) {
	store := NewMemoryStore()
	policy := DefaultPolicy()
	svc, err := NewService(store, nil, policy, zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	r := newTestRouter(t, svc, "alice")

	doRequest(r, http.MethodGet, "/api/v1/orders")
	doRequest(r, http.MethodPost, "/api/v1/auth/login")

	key := policy.KeyPrefix + ":beh:alice"
	require.Eventually(t, func() bool {
		stats, err := store.GetBehavior(context.Background(), key)
		return err == nil && stats.Successes == 1 && stats.Failures == 1 && stats.FailedAuthAttempts == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMiddlewareNoOutcomeForDeniedRequests(t *testing.T) {
	store := NewMemoryStore()
	policy := DefaultPolicy()
	policy.BaseLimits = map[Category]int{CategoryNew: 1, CategoryRegular: 1, CategoryPower: 1}
	svc, err := NewService(store, nil, policy, zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	r := newTestRouter(t, svc, "alice")

	doRequest(r, http.MethodGet, "/api/v1/orders")
	doRequest(r, http.MethodGet, "/api/v1/orders")

	key := policy.KeyPrefix + ":beh:alice"
	require.Eventually(t, func() bool {
		stats, err := store.GetBehavior(context.Background(), key)
		return err == nil && stats.Successes == 1
	}, time.Second, 5*time.Millisecond)

	// Give the worker a beat, then confirm the denied request left no sample.
	time.Sleep(50 * time.Millisecond)
	stats, err := store.GetBehavior(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Successes+stats.Failures)
}
