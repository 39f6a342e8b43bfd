package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/user/signin", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	t.Cleanup(rl.Close)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := rl.Middleware(ok)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, request(h, "10.0.0.1:5000").Code, "request %d", i)
	}

	rr := request(h, "10.0.0.1:5001")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Another client has its own budget.
	assert.Equal(t, http.StatusNoContent, request(h, "10.0.0.2:5000").Code)
}

func TestRateLimiter_SweepDropsIdleClients(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	t.Cleanup(rl.Close)

	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.limiter("10.0.0.1")
	rl.limiter("10.0.0.2")

	now = now.Add(idleAfter / 2)
	rl.limiter("10.0.0.2")

	now = now.Add(idleAfter/2 + time.Second)
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "10.0.0.1")
	assert.Contains(t, rl.clients, "10.0.0.2")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.RemoteAddr = "192.0.2.7:4242"
	assert.Equal(t, "192.0.2.7", clientIP(req))

	// chi's RealIP sets RemoteAddr without a port.
	req.RemoteAddr = "192.0.2.8"
	assert.Equal(t, "192.0.2.8", clientIP(req))
}
