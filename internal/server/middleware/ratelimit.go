package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// RateLimit allows limit requests per window per client IP. Limiter errors
// fail open.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), "api:"+clientIP(r), limit, window)
			if err == nil && !allowed {
				w.Header().Set("Retry-After", "1")
				writeStatus(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LocalLimiter is a fixed-window domain.RateLimiter for single-process
// deployments without redis.
type LocalLimiter struct {
	windows *xsync.Map[string, localWindow]
	now     func() time.Time
}

type localWindow struct {
	start time.Time
	count int
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{windows: xsync.NewMap[string, localWindow](), now: time.Now}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := l.now()
	allowed := false
	l.windows.Compute(key, func(w localWindow, loaded bool) (localWindow, xsync.ComputeOp) {
		if !loaded || now.Sub(w.start) >= window {
			w = localWindow{start: now}
		}
		if w.count < limit {
			w.count++
			allowed = true
		}
		return w, xsync.UpdateOp
	})
	return allowed, nil
}

var _ domain.RateLimiter = (*LocalLimiter)(nil)
