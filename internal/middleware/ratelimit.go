package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long a client's limiter is kept after its last request.
const idleAfter = 10 * time.Minute

type clientLimiter struct {
	limiter      *rate.Limiter
	lastAccessed time.Time
}

// RateLimiter hands out one token bucket per client IP.
//
// Each bucket refills at perMinute tokens per minute and holds up to burst
// tokens, so a client can send burst requests at once and then one every
// minute/perMinute. Buckets unused for idleAfter are dropped by a
// background sweep; call Close to stop it.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	every     time.Duration
	burst     int
	now       func() time.Time
	stop      chan struct{}
	closeOnce sync.Once
}

func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		every:   time.Minute / time.Duration(perMinute),
		burst:   burst,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop(5 * time.Minute)
	return rl
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Every(rl.every), rl.burst)}
		rl.clients[ip] = c
	}
	c.lastAccessed = rl.now()
	return c.limiter
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, c := range rl.clients {
		if now.Sub(c.lastAccessed) > idleAfter {
			delete(rl.clients, ip)
		}
	}
}

// Middleware rejects requests over the client's budget with 429.
//
// The client is identified by r.RemoteAddr. Behind a proxy, chi's RealIP
// middleware must run first so RemoteAddr holds the forwarded address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter(clientIP(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.every.Seconds())+1))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limited","message":"too many requests, try again later"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
