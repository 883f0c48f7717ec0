package limiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAllowHonoursBurstPerIP(t *testing.T) {
	l := NewIPRateLimiter("test", rate.Limit(0.001), 2)
	defer l.Stop()

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	assert.True(t, l.Allow("10.0.0.2"), "other IPs have their own bucket")
}

func TestSweepDropsRefilledBuckets(t *testing.T) {
	l := NewIPRateLimiter("test", rate.Limit(1), 1)
	defer l.Stop()

	l.Allow("10.0.0.1")
	l.GetLimiter("10.0.0.2")

	removed := l.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 2, removed)

	l.mu.RLock()
	defer l.mu.RUnlock()
	assert.Empty(t, l.limits)
}

func TestMiddlewareRespondsTooManyRequests(t *testing.T) {
	l := NewIPRateLimiter("test", rate.Limit(0.001), 1)
	defer l.Stop()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), `"code":1007`)
}

func TestStopIsIdempotent(t *testing.T) {
	l := NewIPRateLimiter("test", rate.Limit(1), 1)
	l.Stop()
	assert.NotPanics(t, l.Stop)
}
