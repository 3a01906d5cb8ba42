package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"time"
)

// requireSecret gates a handler behind the control password, accepted via
// the X-Control-Password header or the password query parameter, compared in
// constant time. An empty configured secret disables the gate.
func requireSecret(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		supplied := r.Header.Get("X-Control-Password")
		if supplied == "" {
			supplied = r.URL.Query().Get("password")
		}
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// fixedWindow is a per-IP-per-route rate limiter with a fixed one-minute
// window, the same keyed-map shape as the outbound host limiter.
type fixedWindow struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*windowBucket
	timeNow func() time.Time
}

type windowBucket struct {
	start time.Time
	count int
}

func newFixedWindow(limit int) *fixedWindow {
	return &fixedWindow{
		limit:   limit,
		window:  time.Minute,
		buckets: make(map[string]*windowBucket),
		timeNow: time.Now,
	}
}

// allow counts one hit for key and reports whether it stays inside the
// window limit.
func (f *fixedWindow) allow(key string) bool {
	if f.limit <= 0 {
		return true
	}
	now := f.timeNow()
	f.mu.Lock()
	defer f.mu.Unlock()

	b := f.buckets[key]
	if b == nil || now.Sub(b.start) >= f.window {
		// Opportunistic sweep keeps the map from growing across windows.
		if len(f.buckets) > 4096 {
			for k, old := range f.buckets {
				if now.Sub(old.start) >= f.window {
					delete(f.buckets, k)
				}
			}
		}
		f.buckets[key] = &windowBucket{start: now, count: 1}
		return true
	}
	b.count++
	return b.count <= f.limit
}

// middleware applies the limiter keyed by client IP and route path.
func (f *fixedWindow) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !f.allow(ip + "|" + r.URL.Path) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
