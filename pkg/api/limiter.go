package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// rateLimit enforces a per-client token bucket keyed by the user header,
// falling back to the remote address.
func (p *limiterPool) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-User-ID")
		if key == "" {
			key = r.RemoteAddr
		}
		if !p.Allow(key) {
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
