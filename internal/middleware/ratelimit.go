package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/asetia/portfolio-assistant/pkg/utils"
)

// Limiter is the slice of the rate-limit service the middleware needs.
type Limiter interface {
	Allow(ctx context.Context, clientKey, bucket string, limit int) (bool, time.Duration)
}

// RateLimit caps requests per client IP for one route bucket, answering 429
// with a Retry-After hint when the window is exhausted.
func RateLimit(limiter Limiter, bucket string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := limiter.Allow(r.Context(), clientIP(r), bucket, limit)
			if !ok {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
				utils.WriteError(w, http.StatusTooManyRequests, "too many requests, slow down a little")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP falls back to RemoteAddr when chi's RealIP middleware has not
// already resolved the address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
